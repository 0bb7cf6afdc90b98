package logproc

import (
	"sync"
	"time"

	"github.com/streamio/streamcoordinator/pkg/appendlog"
)

// memStore is a minimal in-memory appendlog.Store, used by Manager when no
// on-disk directory is configured (tests, ephemeral deployments).
type memStore struct {
	mu             sync.Mutex
	records        []appendlog.Record
	closed         bool
	lastAppendUnix int64
}

func newMemStore() appendlog.Store {
	return &memStore{}
}

func (s *memStore) Append(data []byte) (appendlog.Offset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, appendlog.ErrClosed
	}
	off := appendlog.Offset(len(s.records))
	s.records = append(s.records, appendlog.Record{Offset: off, Data: append([]byte(nil), data...)})
	s.lastAppendUnix = time.Now().Unix()
	return off, nil
}

func (s *memStore) Read(from appendlog.Offset, limit int) ([]appendlog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(from) >= len(s.records) {
		return nil, nil
	}
	end := int(from) + limit
	if limit <= 0 || end > len(s.records) {
		end = len(s.records)
	}
	return append([]appendlog.Record(nil), s.records[from:end]...), nil
}

func (s *memStore) Rotate() error { return nil }
func (s *memStore) Sync() error   { return nil }

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memStore) Stats() appendlog.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendlog.Stats{AppendedRecords: int64(len(s.records)), LastAppendUnix: s.lastAppendUnix}
}
