package coordinator

import (
	"fmt"

	"github.com/streamio/streamcoordinator/pkg/core"
	"github.com/streamio/streamcoordinator/pkg/core/failfast"
	"github.com/streamio/streamcoordinator/pkg/raftrt"
)

// CurrentMachineVersion is the machine version new state is created at.
const CurrentMachineVersion = 3

// releaseCursorInterval is the dispatcher's release-cursor policy: every
// 4096 applied commands, a release_cursor effect is emitted.
const releaseCursorInterval = 4096

// Dispatcher is the single deterministic entry point described in spec
// §4.1. It implements raftrt.Machine.
type Dispatcher struct {
	state  *State
	aux    Aux
	sac    SacMachine
	logger core.Logger
}

// NewDispatcher builds a Dispatcher over state, submitting aux actions
// through aux and delegating sac(...) commands to sacMachine.
func NewDispatcher(state *State, aux Aux, sacMachine SacMachine, logger core.Logger) *Dispatcher {
	failfast.NotNil(aux, "aux")
	if state == nil {
		state = NewState()
	}
	if sacMachine == nil {
		sacMachine = NewNoopSacMachine()
	}
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return &Dispatcher{state: state, aux: aux, sac: sacMachine, logger: logger}
}

// State returns the dispatcher's current machine state. Callers must treat
// it as read-only except through Apply.
func (d *Dispatcher) State() *State { return d.state }

// Apply is the dispatcher's raftrt.Machine entry point: decode the
// command, route it to the affected stream (or to global handling), run
// the Evaluator, and return the updated state, reply and effects.
func (d *Dispatcher) Apply(meta raftrt.Meta, cmd raftrt.Command) (interface{}, raftrt.Reply, []raftrt.Effect) {
	idx := Index(meta.Index)
	kind := CommandKind(cmd.Kind)

	reply, effects := d.dispatch(idx, meta.MachineVersion, kind, cmd.Payload)

	if meta.Index != 0 && uint64(meta.Index)%releaseCursorInterval == 0 {
		snap, err := d.Snapshot()
		if err == nil {
			effects = append(effects, raftrt.Effect{Kind: raftrt.EffectReleaseCursor, Index: meta.Index, Payload: snap})
		}
	}

	return d.state, reply, effects
}

func (d *Dispatcher) dispatch(idx Index, machineVersion int, kind CommandKind, payload interface{}) (raftrt.Reply, []raftrt.Effect) {
	switch kind {
	case CmdNewStream:
		return d.handleNewStream(idx, payload.(NewStreamPayload))
	case CmdRegisterListener:
		return d.handleRegisterListener(idx, payload.(RegisterListenerPayload))
	case CmdDown:
		return d.handleDown(idx, machineVersion, payload.(DownPayload))
	case CmdNodeUp:
		return d.handleNodeUp(idx, payload.(NodeUpPayload))
	case CmdSac:
		return d.handleSac(payload.(SacPayload))
	case CmdMachineVersion:
		return d.handleMachineVersion(payload.(MachineVersionPayload))
	case CmdDeleteStream, CmdAddReplica, CmdDeleteReplica, CmdPolicyChanged,
		CmdMemberStarted, CmdMemberStopped, CmdMemberDeleted, CmdRetentionUpdated,
		CmdCatalogUpdated, CmdActionFailed:
		return d.handleStreamRouted(idx, machineVersion, kind, payload, streamIdOf(payload))
	default:
		return raftrt.Reply{OK: false, Err: NewError(ErrUnknownCommand, "unknown command %q", kind)}, nil
	}
}

// streamIdOf extracts the StreamId field present on every stream-routed
// command payload.
func streamIdOf(payload interface{}) StreamId {
	switch p := payload.(type) {
	case DeleteStreamPayload:
		return p.StreamId
	case AddReplicaPayload:
		return p.StreamId
	case DeleteReplicaPayload:
		return p.StreamId
	case PolicyChangedPayload:
		return p.StreamId
	case MemberStartedPayload:
		return p.StreamId
	case MemberStoppedPayload:
		return p.StreamId
	case MemberDeletedPayload:
		return p.StreamId
	case RetentionUpdatedPayload:
		return p.StreamId
	case CatalogUpdatedPayload:
		return p.StreamId
	case ActionFailedPayload:
		return p.StreamId
	default:
		return ""
	}
}

func (d *Dispatcher) handleNewStream(idx Index, p NewStreamPayload) (raftrt.Reply, []raftrt.Effect) {
	if _, exists := d.state.Streams[p.StreamId]; exists {
		return raftrt.Reply{OK: false, Err: NewError(ErrDisallowed, "stream %s already exists", p.StreamId)}, nil
	}
	s := newStream(p.StreamId, p.QueueRef)
	s.Nodes = append([]Node(nil), p.Nodes...)
	s.Epoch = 1
	s.Conf = p.Conf.WithEpoch(1, p.Leader, replicasOf(p.Nodes, p.Leader))
	s.ReplyTo = ReplyAddr{Present: true, Token: fmt.Sprintf("%s:%d", p.StreamId, idx)}

	for _, n := range p.Nodes {
		role := Role{Kind: RoleReplica, Epoch: 1}
		if n == p.Leader {
			role = Role{Kind: RoleWriter, Epoch: 1}
		}
		s.Members[n] = &Member{Node: n, Role: role, State: Ready(1), Target: TargetRunning, Conf: s.Conf}
	}
	d.state.Streams[p.StreamId] = s

	effects := d.evaluateAndNotify(idx, s, nil)
	return raftrt.Reply{OK: true, Value: "no_reply"}, effects
}

func replicasOf(nodes []Node, leader Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n != leader {
			out = append(out, n)
		}
	}
	return out
}

func (d *Dispatcher) handleStreamRouted(idx Index, machineVersion int, kind CommandKind, payload interface{}, streamID StreamId) (raftrt.Reply, []raftrt.Effect) {
	s, ok := d.state.Streams[streamID]
	if !ok {
		return raftrt.Reply{OK: false, Err: NewError(ErrStreamNotFound, "stream %s not found", streamID)}, nil
	}

	prevMembers := snapshotMembers(s.Members)
	next, reply, errOut := d.safeUpdateStream(idx, machineVersion, kind, payload, s)
	if errOut != nil {
		return raftrt.Reply{OK: false, Err: errOut}, nil
	}

	if next == nil {
		effects := []raftrt.Effect{}
		for _, n := range eolNotifications(s) {
			effects = append(effects, raftrt.Effect{Kind: raftrt.EffectNotify, Index: raftrt.Index(idx), Payload: n})
		}
		delete(d.state.Streams, streamID)
		return raftrt.Reply{OK: true, Value: reply}, effects
	}

	d.state.Streams[streamID] = next
	effects := d.evaluateAndNotify(idx, next, prevMembers)

	if next.PendingReply != nil {
		reply = next.PendingReply
		next.PendingReply = nil
	}
	return raftrt.Reply{OK: true, Value: reply}, effects
}

// safeUpdateStream recovers from a panic inside updateStream, logging a
// warning and leaving the stream unchanged, matching spec §4.2's
// exception-catching contract.
func (d *Dispatcher) safeUpdateStream(idx Index, machineVersion int, kind CommandKind, payload interface{}, s *Stream) (next *Stream, reply interface{}, errOut *Error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warnf("update_stream panicked on %s for stream %s: %v", kind, s.Id, r)
			next, reply, errOut = s, "ok", nil
		}
	}()
	return updateStream(idx, machineVersion, kind, payload, s)
}

// snapshotMembers takes a value copy of every member so later in-place
// mutation of s.Members (the Stream FSM mutates members through their
// existing pointers rather than replacing map entries) doesn't also
// change what this snapshot reports, which would defeat
// evaluateListeners' "members map unchanged" skip check.
func snapshotMembers(m map[Node]*Member) map[Node]*Member {
	out := make(map[Node]*Member, len(m))
	for k, v := range m {
		cp := *v
		out[k] = &cp
	}
	return out
}

// evaluateAndNotify runs the Evaluator, the listener registry and the
// monitor registry for s, submits any resulting aux actions, and returns
// the runtime effects (monitor + notify) accumulated.
func (d *Dispatcher) evaluateAndNotify(idx Index, s *Stream, prevMembers map[Node]*Member) []raftrt.Effect {
	var effects []raftrt.Effect

	actions := evaluateStream(idx, s)
	for _, a := range actions {
		if d.aux != nil {
			if err := d.aux.Submit(a); err != nil {
				d.logger.Errorf("aux submit failed for %s/%s: %v", s.Id, a.Kind, err)
			}
		}
		effects = append(effects, raftrt.Effect{Kind: raftrt.EffectAux, Index: raftrt.Index(idx), Payload: a})
	}

	for _, n := range evaluateListeners(s, prevMembers) {
		effects = append(effects, raftrt.Effect{Kind: raftrt.EffectNotify, Index: raftrt.Index(idx), Payload: n})
	}

	for _, me := range reconcileMonitors(s, d.state.Monitors) {
		effects = append(effects, raftrt.Effect{Kind: raftrt.EffectMonitor, Index: raftrt.Index(idx), Payload: me})
	}

	return effects
}

// handleNodeUp re-monitors disconnected members across every stream that
// has a member on the node, clears their sleeping in-flight markers and
// re-runs the Evaluator, per spec §4.1's nodeup(node) entry. It is not
// scoped to a single stream.
func (d *Dispatcher) handleNodeUp(idx Index, p NodeUpPayload) (raftrt.Reply, []raftrt.Effect) {
	var effects []raftrt.Effect
	for _, s := range d.state.Streams {
		m, onNode := s.Members[p.Node]
		if !onNode {
			continue
		}
		if m.State.Kind == StateDisconnected {
			if _, tracked := d.state.Monitors[m.State.Pid]; !tracked {
				d.state.Monitors[m.State.Pid] = MonitorPurpose{Kind: MonitorMember, StreamId: s.Id, Node: m.Node}
				effects = append(effects, raftrt.Effect{Kind: raftrt.EffectMonitor, Index: raftrt.Index(idx), Payload: MonitorEffect{WatchProcess: true, Pid: m.State.Pid}})
			}
		}
		prevMembers := snapshotMembers(s.Members)
		streamNodeUp(s, p.Node)
		effects = append(effects, d.evaluateAndNotify(idx, s, prevMembers)...)
	}
	return raftrt.Reply{OK: true, Value: "ok"}, effects
}

func (d *Dispatcher) handleRegisterListener(idx Index, p RegisterListenerPayload) (raftrt.Reply, []raftrt.Effect) {
	s, ok := d.state.Streams[p.StreamId]
	if !ok {
		return raftrt.Reply{OK: false, Err: NewError(ErrStreamNotFound, "stream %s not found", p.StreamId)}, nil
	}

	var effects []raftrt.Effect
	for _, n := range registerListener(s, p) {
		effects = append(effects, raftrt.Effect{Kind: raftrt.EffectNotify, Index: raftrt.Index(idx), Payload: n})
	}
	for _, me := range monitorListener(p.Pid, p.StreamId, d.state.Monitors) {
		effects = append(effects, raftrt.Effect{Kind: raftrt.EffectMonitor, Index: raftrt.Index(idx), Payload: me})
	}
	effects = append(effects, d.evaluateAndNotify(idx, s, nil)...)
	return raftrt.Reply{OK: true, Value: "ok"}, effects
}

func (d *Dispatcher) handleDown(idx Index, machineVersion int, p DownPayload) (raftrt.Reply, []raftrt.Effect) {
	purpose, tracked := resolveDown(p.Pid, d.state.Monitors)
	if !tracked {
		return raftrt.Reply{OK: true, Value: "ok"}, nil
	}

	var effects []raftrt.Effect
	switch purpose.Kind {
	case MonitorMember:
		s, ok := d.state.Streams[purpose.StreamId]
		if !ok {
			delete(d.state.Monitors, p.Pid)
			return raftrt.Reply{OK: true, Value: "ok"}, nil
		}
		prevMembers := snapshotMembers(s.Members)
		handleDown(s, p.Pid, p.Reason)
		delete(d.state.Monitors, p.Pid)
		effects = d.evaluateAndNotify(idx, s, prevMembers)
		if p.Reason == DownNoConnection {
			for _, me := range monitorNoConnection(p.Pid) {
				effects = append(effects, raftrt.Effect{Kind: raftrt.EffectMonitor, Index: raftrt.Index(idx), Payload: me})
			}
		}
	case MonitorListener:
		for streamID := range purpose.StreamIds {
			if s, ok := d.state.Streams[streamID]; ok {
				for key := range s.Listeners {
					if key.Pid == p.Pid {
						delete(s.Listeners, key)
					}
				}
			}
		}
		delete(d.state.Monitors, p.Pid)
	case MonitorSac:
		newSac, sacEffects := d.sac.HandleDown(p.Pid, d.state.Sac)
		d.state.Sac = newSac
		_ = sacEffects
		delete(d.state.Monitors, p.Pid)
	}
	return raftrt.Reply{OK: true, Value: "ok"}, effects
}

func (d *Dispatcher) handleSac(p SacPayload) (raftrt.Reply, []raftrt.Effect) {
	newSac, reply, _ := d.sac.Apply(p.Inner, d.state.Sac)
	d.state.Sac = newSac
	return raftrt.Reply{OK: true, Value: reply}, nil
}

func (d *Dispatcher) handleMachineVersion(p MachineVersionPayload) (raftrt.Reply, []raftrt.Effect) {
	var effects []raftrt.Effect
	for v := p.From; v < p.To; v++ {
		monitorEffects := RunMigration(v, d.state)
		for _, me := range monitorEffects {
			effects = append(effects, raftrt.Effect{Kind: raftrt.EffectMonitor, Payload: me})
		}
	}
	d.state.MachineVersion = p.To
	return raftrt.Reply{OK: true, Value: "ok"}, effects
}

// OnLeaderTransition implements raftrt.LeaderHook. It runs whenever this
// replica becomes the replicated machine's leader: first it re-issues
// monitor watches for every tracked pid and node (spec §4.5), then it fails
// every action that was in-flight when leadership changed (spec §4.6),
// routing each resulting action_failed through the normal stream-routed
// path so the Evaluator reissues the work exactly as it would for any
// other action_failed command.
func (d *Dispatcher) OnLeaderTransition(meta raftrt.Meta) []raftrt.Effect {
	idx := Index(meta.Index)
	var effects []raftrt.Effect

	for _, me := range ReissueOnLeaderTransition(d.state) {
		effects = append(effects, raftrt.Effect{Kind: raftrt.EffectMonitor, Index: raftrt.Index(idx), Payload: me})
	}

	for _, p := range FailActiveActions(d.state, nil) {
		_, streamEffects := d.handleStreamRouted(idx, meta.MachineVersion, CmdActionFailed, p, p.StreamId)
		effects = append(effects, streamEffects...)
	}

	return effects
}

// Snapshot implements raftrt.Machine.
func (d *Dispatcher) Snapshot() (interface{}, error) {
	return EncodeSnapshot(d.state)
}

// Restore implements raftrt.Machine.
func (d *Dispatcher) Restore(snapshot interface{}) error {
	s, err := DecodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	d.state = s
	return nil
}
