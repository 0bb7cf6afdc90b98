// Package catalog implements the external durable queue catalog
// collaborator the coordinator's update_catalog aux action writes to.
// spec.md treats the catalog's internals as out of scope; this package
// gives the update_catalog/catalog_updated contract a real backing store.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streamio/streamcoordinator/pkg/coordinator"
)

// Store is the hot catalog write path: one row per stream, rewritten on
// every writer epoch change. Backed by pgx/pgxpool for its typed,
// binary-protocol fast path.
type Store struct {
	pool  *pgxpool.Pool
	audit *AuditLog
}

// NewStore builds a Store over pool, additionally appending every write to
// audit if non-nil.
func NewStore(pool *pgxpool.Pool, audit *AuditLog) *Store {
	return &Store{pool: pool, audit: audit}
}

// EnsureSchema creates the catalog table if it does not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS stream_catalog (
			stream_id   TEXT PRIMARY KEY,
			epoch       BIGINT NOT NULL,
			leader_node TEXT NOT NULL,
			conf        JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

// UpdateCatalog implements coordinator.CatalogWriter: it publishes the
// writer epoch currently live for streamID.
func (s *Store) UpdateCatalog(ctx context.Context, streamID coordinator.StreamId, epoch coordinator.Epoch, conf coordinator.Conf) error {
	confJSON, err := json.Marshal(conf)
	if err != nil {
		return fmt.Errorf("catalog: marshal conf: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO stream_catalog (stream_id, epoch, leader_node, conf, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stream_id) DO UPDATE SET
			epoch = EXCLUDED.epoch,
			leader_node = EXCLUDED.leader_node,
			conf = EXCLUDED.conf,
			updated_at = EXCLUDED.updated_at
	`, string(streamID), int64(epoch), string(conf.LeaderNode), confJSON, time.Now())
	if err != nil {
		return fmt.Errorf("catalog: upsert %s: %w", streamID, err)
	}

	if s.audit != nil {
		if aerr := s.audit.Append(ctx, streamID, epoch, conf.LeaderNode); aerr != nil {
			return fmt.Errorf("catalog: audit append %s: %w", streamID, aerr)
		}
	}
	return nil
}

// WriterEpoch looks up the last epoch published for a stream.
func (s *Store) WriterEpoch(ctx context.Context, streamID coordinator.StreamId) (coordinator.Epoch, error) {
	var epoch int64
	err := s.pool.QueryRow(ctx, `SELECT epoch FROM stream_catalog WHERE stream_id = $1`, string(streamID)).Scan(&epoch)
	if err != nil {
		return 0, err
	}
	return coordinator.Epoch(epoch), nil
}
