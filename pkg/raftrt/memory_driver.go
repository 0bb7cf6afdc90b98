package raftrt

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by MemoryDriver.Query when neither a local nor a
// quorum read can resolve the query. Single-node drivers have no separate
// quorum path, so this is also returned for ReadQuorum misses.
var ErrNotFound = errors.New("raftrt: not found")

// MemoryDriver runs a Machine single-node, in-process, applying commands
// synchronously and tracking a monotonic index. It exists for tests and for
// deployments that run the coordinator without a real Raft cluster.
type MemoryDriver struct {
	mu             sync.Mutex
	machine        Machine
	index          Index
	machineVersion int
	effects        []Effect
	queryFn        func(mode ReadMode, query interface{}) (interface{}, error)
}

// NewMemoryDriver builds a driver around machine, starting at index 0.
func NewMemoryDriver(machine Machine, machineVersion int) *MemoryDriver {
	return &MemoryDriver{machine: machine, machineVersion: machineVersion}
}

// SetQueryFunc installs the function used to resolve Query calls. Without
// one, Query always returns ErrNotFound.
func (d *MemoryDriver) SetQueryFunc(fn func(mode ReadMode, query interface{}) (interface{}, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queryFn = fn
}

// Submit assigns the next index, calls Apply, records emitted effects and
// returns the reply.
func (d *MemoryDriver) Submit(systemTimeUnix int64, cmd Command) Reply {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.index++
	meta := Meta{Index: d.index, SystemTimeUnix: systemTimeUnix, MachineVersion: d.machineVersion}
	_, reply, effects := d.machine.Apply(meta, cmd)
	d.effects = append(d.effects, effects...)
	return reply
}

// BecomeLeader notifies machine, if it implements LeaderHook, that this
// replica has become leader, assigning the next index to its synthesized
// effects exactly as Submit does for a normal command. A single-node
// deployment calls this once, right after construction.
func (d *MemoryDriver) BecomeLeader(systemTimeUnix int64) []Effect {
	hook, ok := d.machine.(LeaderHook)
	if !ok {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.index++
	meta := Meta{Index: d.index, SystemTimeUnix: systemTimeUnix, MachineVersion: d.machineVersion}
	effects := hook.OnLeaderTransition(meta)
	d.effects = append(d.effects, effects...)
	return effects
}

// DrainEffects returns and clears the effects accumulated since the last
// drain, in emission order.
func (d *MemoryDriver) DrainEffects() []Effect {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.effects
	d.effects = nil
	return out
}

// Index returns the last assigned command index.
func (d *MemoryDriver) Index() Index {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.index
}

// Query implements Querier. A single-node driver has no distinct quorum
// path; both modes call the installed query function directly.
func (d *MemoryDriver) Query(ctx context.Context, mode ReadMode, query interface{}) (interface{}, error) {
	d.mu.Lock()
	fn := d.queryFn
	d.mu.Unlock()
	if fn == nil {
		return nil, ErrNotFound
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return fn(mode, query)
}
