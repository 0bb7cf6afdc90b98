// Package logproc is a reference, test-double implementation of the
// underlying per-node log server processes the coordinator's aux executor
// starts, stops and queries. The real process lifecycle (spawning an OS
// process or contacting a sidecar) is out of scope for the coordinator;
// this package gives the aux executor something real to drive in tests
// and in single-process deployments, built on the append-only log store.
package logproc

import (
	"context"
	"fmt"
	"sync"

	"github.com/streamio/streamcoordinator/pkg/appendlog"
	"github.com/streamio/streamcoordinator/pkg/coordinator"
)

// Process is one running log process: a writer or a replica for one
// stream on one node, backed by an append-only store.
type process struct {
	store appendlog.Store
	pid   coordinator.Pid
}

// Manager runs log processes in-process, one appendlog.Store per
// (stream, node) pair, and implements coordinator.LocalExecutor.
type Manager struct {
	mu      sync.Mutex
	nextTok uint64
	procs   map[key]*process
	dirFor  func(streamID coordinator.StreamId, node coordinator.Node) string
}

type key struct {
	stream coordinator.StreamId
	node   coordinator.Node
}

// NewManager builds a Manager. dirFor, when non-nil, chooses the on-disk
// directory for a stream/node's store; a nil dirFor keeps everything
// in-memory (no persistence across restarts), useful for tests.
func NewManager(dirFor func(streamID coordinator.StreamId, node coordinator.Node) string) *Manager {
	return &Manager{procs: make(map[key]*process), dirFor: dirFor}
}

func (m *Manager) openStore(k key) (appendlog.Store, error) {
	if m.dirFor == nil {
		return newMemStore(), nil
	}
	cfg := appendlog.DefaultFSStoreConfig(m.dirFor(k.stream, k.node))
	return appendlog.NewFSStore(cfg)
}

// StartWriter starts (or resumes) the writer process for a stream on node.
func (m *Manager) StartWriter(ctx context.Context, node coordinator.Node, streamID coordinator.StreamId, conf coordinator.Conf) (coordinator.Pid, error) {
	return m.start(node, streamID)
}

// StartReplica starts a replica process that pulls from leaderPid.
func (m *Manager) StartReplica(ctx context.Context, node coordinator.Node, streamID coordinator.StreamId, conf coordinator.Conf, leaderPid coordinator.Pid) (coordinator.Pid, error) {
	return m.start(node, streamID)
}

func (m *Manager) start(node coordinator.Node, streamID coordinator.StreamId) (coordinator.Pid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{stream: streamID, node: node}
	if p, ok := m.procs[k]; ok {
		return p.pid, nil
	}
	store, err := m.openStore(k)
	if err != nil {
		return coordinator.Pid{}, fmt.Errorf("logproc: open store for %s/%s: %w", streamID, node, err)
	}
	m.nextTok++
	pid := coordinator.Pid{Node: node, Token: m.nextTok}
	m.procs[k] = &process{store: store, pid: pid}
	return pid, nil
}

// Stop stops the process for stream on node, reporting its tail.
func (m *Manager) Stop(ctx context.Context, node coordinator.Node, streamID coordinator.StreamId) (coordinator.Tail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{stream: streamID, node: node}
	p, ok := m.procs[k]
	if !ok {
		return coordinator.EmptyTail, nil
	}
	stats := p.store.Stats()
	delete(m.procs, k)
	if stats.AppendedRecords == 0 {
		return coordinator.EmptyTail, nil
	}
	return coordinator.Tail{Offset: uint64(stats.AppendedRecords)}, nil
}

// ReadTail reports the current live tail of a running process without
// stopping it, for add_replica's freshness gate.
func (m *Manager) ReadTail(ctx context.Context, node coordinator.Node, streamID coordinator.StreamId) (coordinator.LiveTail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{stream: streamID, node: node}
	p, ok := m.procs[k]
	if !ok {
		return coordinator.LiveTail{}, coordinator.ErrNodeDown
	}
	stats := p.store.Stats()
	return coordinator.LiveTail{Offset: uint64(stats.AppendedRecords), AsOfUnix: stats.LastAppendUnix}, nil
}

// Delete removes all persisted state for stream on node.
func (m *Manager) Delete(ctx context.Context, node coordinator.Node, streamID coordinator.StreamId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{stream: streamID, node: node}
	if p, ok := m.procs[k]; ok {
		_ = p.store.Close()
		delete(m.procs, k)
	}
	return nil
}

// UpdateRetention applies a new retention policy to a running process.
// The append-only store has no native retention knob, so this only calls
// Rotate, the store's closest analogue to a retention sweep boundary; conf
// itself is neither stored nor applied here.
func (m *Manager) UpdateRetention(ctx context.Context, node coordinator.Node, streamID coordinator.StreamId, conf coordinator.Conf) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{stream: streamID, node: node}
	p, ok := m.procs[k]
	if !ok {
		return fmt.Errorf("logproc: no process for %s/%s", streamID, node)
	}
	return p.store.Rotate()
}
