package catalog

import (
	"context"
	"time"

	_ "github.com/lib/pq"

	"github.com/streamio/streamcoordinator/pkg/coordinator"
	"github.com/streamio/streamcoordinator/pkg/db"
)

// AuditLog appends an immutable record of every catalog write. It sits on
// a plain database/sql path (pkg/db.Pool, driver "postgres" via lib/pq)
// rather than pgx's typed fast path: audit writes are infrequent and
// write-only, so they don't need pgx's binary-protocol throughput, but a
// second, independent driver on the write path means a pgx-specific bug
// can never silently lose an audit trail entry.
type AuditLog struct {
	pool *db.Pool
}

// NewAuditLog opens an audit log pool against dsn using the "postgres"
// (lib/pq) driver.
func NewAuditLog(dsn string) (*AuditLog, error) {
	pool, err := db.NewPool(db.DefaultPoolConfig(dsn, "postgres"))
	if err != nil {
		return nil, err
	}
	return &AuditLog{pool: pool}, nil
}

// EnsureSchema creates the audit table if it does not already exist.
func (a *AuditLog) EnsureSchema(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS stream_catalog_audit (
			id          BIGSERIAL PRIMARY KEY,
			stream_id   TEXT NOT NULL,
			epoch       BIGINT NOT NULL,
			leader_node TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}

// Append records one catalog transition.
func (a *AuditLog) Append(ctx context.Context, streamID coordinator.StreamId, epoch coordinator.Epoch, leaderNode coordinator.Node) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO stream_catalog_audit (stream_id, epoch, leader_node, recorded_at)
		VALUES ($1, $2, $3, $4)
	`, string(streamID), int64(epoch), string(leaderNode), time.Now())
	return err
}

// Close releases the underlying connection pool.
func (a *AuditLog) Close() error {
	return a.pool.Close()
}
