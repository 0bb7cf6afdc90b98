package coordinator

// RoleKind distinguishes a member's role within its stream.
type RoleKind string

const (
	RoleWriter  RoleKind = "writer"
	RoleReplica RoleKind = "replica"
)

// Role is a member's kind and the epoch it was assigned that kind in.
type Role struct {
	Kind  RoleKind
	Epoch Epoch
}

// MemberStateKind enumerates the states a Member can be observed in.
type MemberStateKind string

const (
	StateReady        MemberStateKind = "ready"
	StateRunning      MemberStateKind = "running"
	StateStopped      MemberStateKind = "stopped"
	StateDisconnected MemberStateKind = "disconnected"
	StateDown         MemberStateKind = "down"
	StateDeleted      MemberStateKind = "deleted"
)

// MemberState is the tagged union of a member's observed state. Only the
// fields relevant to Kind are meaningful.
type MemberState struct {
	Kind MemberStateKind
	Epoch Epoch
	Pid   Pid
	Tail  Tail
}

func Ready(e Epoch) MemberState              { return MemberState{Kind: StateReady, Epoch: e} }
func Running(e Epoch, pid Pid) MemberState   { return MemberState{Kind: StateRunning, Epoch: e, Pid: pid} }
func Stopped(e Epoch, tail Tail) MemberState { return MemberState{Kind: StateStopped, Epoch: e, Tail: tail} }
func Disconnected(e Epoch, pid Pid) MemberState {
	return MemberState{Kind: StateDisconnected, Epoch: e, Pid: pid}
}
func Down(e Epoch) MemberState { return MemberState{Kind: StateDown, Epoch: e} }
func Deleted() MemberState     { return MemberState{Kind: StateDeleted} }

// TargetKind is a member's desired end state.
type TargetKind string

const (
	TargetRunning TargetKind = "running"
	TargetStopped TargetKind = "stopped"
	TargetDeleted TargetKind = "deleted"
)

// ActionTag names the kind of aux action currently in flight for a member.
type ActionTag string

const (
	ActionStarting ActionTag = "starting"
	ActionStopping ActionTag = "stopping"
	ActionDeleting ActionTag = "deleting"
	ActionUpdating ActionTag = "updating"
	ActionSleeping ActionTag = "sleeping"
)

// InFlight names the one aux action, if any, outstanding for a member. The
// zero value (Tag == "") means no action is in flight.
type InFlight struct {
	Tag   ActionTag
	Index Index
}

// None reports whether no action is currently in flight.
func (f InFlight) None() bool { return f.Tag == "" }

// Member is one replica's desired and observed state on one node for one
// stream.
//
// Invariants (spec.md §3.2):
//  1. Current is the zero value unless an aux action is in flight.
//  2. Role.Epoch <= the owning stream's Epoch.
//  3. Deleted is terminal: once Target == TargetDeleted it never changes.
type Member struct {
	Node    Node
	Role    Role
	State   MemberState
	Target  TargetKind
	Current InFlight
	Conf    Conf
}

// IsDeleted reports whether the member has reached its terminal state.
func (m Member) IsDeleted() bool { return m.State.Kind == StateDeleted }
