package coordinator

import (
	"context"
	"database/sql"
)

// Roster is the external cluster roster source the resize reconciler
// checks against (spec §6.5). Desired returns the full list of nodes that
// should be part of the Raft membership; the Resizer derives the nodes to
// add and to remove by comparing it with its current membership.
type Roster interface {
	Desired(ctx context.Context) ([]Node, error)
}

// MemoryRoster is an in-memory Roster, primarily for tests and
// single-process deployments.
type MemoryRoster struct {
	nodes []Node
}

// NewMemoryRoster builds a MemoryRoster returning a fixed node list.
func NewMemoryRoster(nodes []Node) *MemoryRoster {
	return &MemoryRoster{nodes: nodes}
}

func (r *MemoryRoster) Desired(ctx context.Context) ([]Node, error) {
	return r.nodes, nil
}

// SQLRoster reads the desired cluster roster from a `cluster_nodes` table
// through a plain database/sql pool (pkg/db.Pool with DriverName
// "postgres", backed by lib/pq).
type SQLRoster struct {
	db *sql.DB
}

// NewSQLRoster builds a SQLRoster over db.
func NewSQLRoster(db *sql.DB) *SQLRoster {
	return &SQLRoster{db: db}
}

func (r *SQLRoster) Desired(ctx context.Context) ([]Node, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT node FROM cluster_nodes WHERE active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		nodes = append(nodes, Node(n))
	}
	return nodes, rows.Err()
}
