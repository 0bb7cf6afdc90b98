package coordinator

import (
	"context"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/streamio/streamcoordinator/pkg/db"
)

// SnapshotStore persists release-cursor snapshots locally, so a restarted
// node can Restore without waiting on a full log replay from peers. Backed
// by mattn/go-sqlite3 through the teacher's generic pkg/db.Pool.
type SnapshotStore struct {
	pool *db.Pool
}

// NewSnapshotStore opens (creating if necessary) a SQLite-backed snapshot
// store at path.
func NewSnapshotStore(path string) (*SnapshotStore, error) {
	pool, err := db.NewPool(db.DefaultPoolConfig(path, "sqlite3"))
	if err != nil {
		return nil, err
	}
	s := &SnapshotStore{pool: pool}
	if err := s.ensureSchema(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *SnapshotStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS release_cursors (
			idx        INTEGER PRIMARY KEY,
			snapshot   BLOB NOT NULL,
			created_at DATETIME NOT NULL
		)
	`)
	return err
}

// Save persists snap at release index idx.
func (s *SnapshotStore) Save(ctx context.Context, idx uint64, snap Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO release_cursors (idx, snapshot, created_at) VALUES (?, ?, ?)
		ON CONFLICT(idx) DO UPDATE SET snapshot = excluded.snapshot, created_at = excluded.created_at
	`, int64(idx), body, time.Now())
	return err
}

// Latest loads the most recently saved snapshot, if any.
func (s *SnapshotStore) Latest(ctx context.Context) (uint64, *State, error) {
	row := s.pool.QueryRow(ctx, `SELECT idx, snapshot FROM release_cursors ORDER BY idx DESC LIMIT 1`)
	var idx int64
	var body []byte
	if err := row.Scan(&idx, &body); err != nil {
		return 0, nil, err
	}
	st, err := DecodeSnapshot(body)
	if err != nil {
		return 0, nil, err
	}
	return uint64(idx), st, nil
}

// Close releases the underlying connection pool.
func (s *SnapshotStore) Close() error {
	return s.pool.Close()
}
