// Package raftrt defines the contract between the coordinator's
// deterministic state machine and the Raft-style consensus runtime that
// hosts it. The runtime itself (log replication, snapshotting, leader
// election of the replicated machine) is out of scope; only the shape of
// the interaction is specified here, along with an in-memory single-node
// driver useful for tests and non-clustered deployments.
package raftrt

import "context"

// Index is the monotonic command index assigned by the runtime.
type Index uint64

// Meta carries everything the runtime attaches to a command before it
// reaches Machine.Apply.
type Meta struct {
	Index          Index
	SystemTimeUnix int64
	MachineVersion int
}

// Command is an opaque, runtime-ordered input to the state machine. The
// coordinator decodes Payload according to Kind.
type Command struct {
	Kind    string
	Payload interface{}
}

// Reply is the dispatcher's synchronous response to one applied command.
type Reply struct {
	OK    bool
	Value interface{}
	Err   error
}

// EffectKind enumerates the side-effects a Machine may ask the runtime to
// perform. The runtime executes these outside of Apply.
type EffectKind string

const (
	// EffectReleaseCursor asks the runtime to compact its log up to Index
	// against the accompanying snapshot.
	EffectReleaseCursor EffectKind = "release_cursor"
	// EffectAux hands an action to the out-of-band aux executor.
	EffectAux EffectKind = "aux"
	// EffectMonitor asks the runtime to watch a peer or node for liveness.
	EffectMonitor EffectKind = "monitor"
	// EffectNotify asks the runtime to deliver a notification to a pid.
	EffectNotify EffectKind = "notify"
)

// Effect is one instruction the Machine hands back to the runtime after
// applying a command.
type Effect struct {
	Kind    EffectKind
	Index   Index
	Payload interface{}
}

// Machine is the interface the coordinator's dispatcher implements. Apply
// must be a pure function of its arguments: no goroutines, no blocking, no
// I/O.
type Machine interface {
	Apply(meta Meta, cmd Command) (state interface{}, reply Reply, effects []Effect)

	// Snapshot returns a serializable copy of the current state, taken at
	// a release-cursor boundary.
	Snapshot() (interface{}, error)

	// Restore replaces the current state from a previously taken snapshot.
	Restore(snapshot interface{}) error
}

// ReadMode selects how a Query is resolved.
type ReadMode int

const (
	// ReadLocal answers from the local replica's state without consulting
	// the cluster.
	ReadLocal ReadMode = iota
	// ReadQuorum answers only after confirming the local replica is
	// current with a quorum of the cluster.
	ReadQuorum
)

// LeaderHook is an optional Machine extension. A machine implementing it is
// notified when the driver running it becomes this replica's leader, and
// may synthesize effects of its own in response (e.g. reissuing watches,
// failing stranded in-flight work). A single-node MemoryDriver calls it
// once, right after construction; a real consensus driver would call it on
// every leadership acquisition.
type LeaderHook interface {
	OnLeaderTransition(meta Meta) []Effect
}

// Querier answers read-only queries against a Machine, escalating from a
// local read to a quorum read when the local read is stale or not found.
type Querier interface {
	Query(ctx context.Context, mode ReadMode, query interface{}) (interface{}, error)
}

// MonitorEventKind enumerates the liveness events the runtime can report
// for a watched peer or node.
type MonitorEventKind string

const (
	MonitorDown   MonitorEventKind = "down"
	MonitorNodeUp MonitorEventKind = "nodeup"
)

// MonitorEvent is delivered by the runtime when a watched entity changes
// liveness state.
type MonitorEvent struct {
	Kind   MonitorEventKind
	Pid    string
	Node   string
	Reason string
}

// Monitor lets the coordinator ask the runtime to watch processes and
// nodes, matching the "process identity and monitors" design note: the
// machine depends only on pid equality and node-of-pid, never on a
// concrete runtime's pid format.
type Monitor interface {
	WatchProcess(pid string) error
	WatchNode(node string) error
	Events() <-chan MonitorEvent
}
