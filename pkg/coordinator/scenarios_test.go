package coordinator

import (
	"testing"

	"github.com/streamio/streamcoordinator/pkg/raftrt"
)

// fakeAux records every action handed to it without running anything,
// letting scenario tests drive member_started/member_stopped/action_failed
// by hand instead of through a real executor.
type fakeAux struct {
	actions []Action
}

func (f *fakeAux) Submit(a Action) error {
	f.actions = append(f.actions, a)
	return nil
}

func (f *fakeAux) last(kind string, node Node) (Action, bool) {
	for i := len(f.actions) - 1; i >= 0; i-- {
		if f.actions[i].Kind == kind && f.actions[i].Meta.Node == node {
			return f.actions[i], true
		}
	}
	return Action{}, false
}

func apply(t *testing.T, d *Dispatcher, idx Index, kind CommandKind, payload interface{}) (raftrt.Reply, []raftrt.Effect) {
	t.Helper()
	_, reply, effects := d.Apply(raftrt.Meta{Index: raftrt.Index(idx), MachineVersion: CurrentMachineVersion}, raftrt.Command{Kind: string(kind), Payload: payload})
	return reply, effects
}

func newStreamForTest(t *testing.T) (*Dispatcher, *fakeAux, StreamId) {
	t.Helper()
	aux := &fakeAux{}
	d := NewDispatcher(NewState(), aux, nil, nil)
	streamID := StreamId("s")

	_, _ = apply(t, d, 10, CmdNewStream, NewStreamPayload{
		StreamId: streamID,
		Leader:   "n1",
		Nodes:    []Node{"n1", "n2", "n3"},
		QueueRef: "q1",
	})
	return d, aux, streamID
}

// driveToRunning replays S1: new_stream then member_started for all three
// nodes, returning the pids assigned.
func driveToRunning(t *testing.T) (*Dispatcher, *fakeAux, StreamId, map[Node]Pid) {
	t.Helper()
	d, aux, streamID := newStreamForTest(t)

	startWriter, ok := aux.last(ActionStartWriter, "n1")
	if !ok {
		t.Fatalf("expected start_writer action for n1")
	}

	pids := map[Node]Pid{"n1": {Node: "n1", Token: 1}}
	reply, _ := apply(t, d, 11, CmdMemberStarted, MemberStartedPayload{
		StreamId: streamID, Node: "n1", Epoch: startWriter.Meta.Epoch, Index: startWriter.Meta.Index, Pid: pids["n1"],
	})
	if !reply.OK {
		t.Fatalf("member_started(n1) rejected: %v", reply.Err)
	}
	if got, ok := reply.Value.(Pid); !ok || got != pids["n1"] {
		t.Fatalf("expected deferred new_stream reply ok(%v), got %#v", pids["n1"], reply.Value)
	}

	for i, node := range []Node{"n2", "n3"} {
		startReplica, ok := aux.last(ActionStartReplica, node)
		if !ok {
			t.Fatalf("expected start_replica action for %s", node)
		}
		pid := Pid{Node: node, Token: uint64(2 + i)}
		pids[node] = pid
		r, _ := apply(t, d, Index(12+i), CmdMemberStarted, MemberStartedPayload{
			StreamId: streamID, Node: node, Epoch: startReplica.Meta.Epoch, Index: startReplica.Meta.Index, Pid: pid,
		})
		if !r.OK {
			t.Fatalf("member_started(%s) rejected: %v", node, r.Err)
		}
	}

	return d, aux, streamID, pids
}

// S1 — create, start, running.
func TestScenarioS1CreateStartRunning(t *testing.T) {
	d, _, streamID, pids := driveToRunning(t)

	s := d.State().Streams[streamID]
	if s.Epoch != 1 {
		t.Fatalf("expected epoch 1, got %d", s.Epoch)
	}
	w := s.Writer()
	if w == nil || w.Node != "n1" || w.State.Kind != StateRunning || w.State.Pid != pids["n1"] {
		t.Fatalf("expected n1 running as writer with pid %v, got %+v", pids["n1"], w)
	}
	for _, node := range []Node{"n2", "n3"} {
		m := s.Members[node]
		if m.State.Kind != StateRunning || m.State.Pid != pids[node] {
			t.Fatalf("expected %s running with pid %v, got %+v", node, pids[node], m.State)
		}
		if m.Role.Kind != RoleReplica {
			t.Fatalf("expected %s to be a replica, got %v", node, m.Role.Kind)
		}
	}
}

// S2 — writer down forces re-election.
func TestScenarioS2WriterDownReElection(t *testing.T) {
	d, aux, streamID, pids := driveToRunning(t)

	_, _ = apply(t, d, 20, CmdDown, DownPayload{Pid: pids["n1"], Reason: DownCrashed})

	s := d.State().Streams[streamID]
	if s.Members["n1"].State.Kind != StateDown {
		t.Fatalf("expected n1 down, got %v", s.Members["n1"].State.Kind)
	}
	for _, node := range []Node{"n2", "n3"} {
		if s.Members[node].Target != TargetStopped {
			t.Fatalf("expected %s target stopped, got %v", node, s.Members[node].Target)
		}
	}
	stopN2, ok := aux.last(ActionStop, "n2")
	if !ok {
		t.Fatalf("expected stop action for n2")
	}
	stopN3, ok := aux.last(ActionStop, "n3")
	if !ok {
		t.Fatalf("expected stop action for n3")
	}

	_, _ = apply(t, d, 21, CmdMemberStopped, MemberStoppedPayload{
		StreamId: streamID, Node: "n2", Epoch: 1, Index: stopN2.Meta.Index, Tail: Tail{Epoch: 1, Offset: 100},
	})
	_, _ = apply(t, d, 22, CmdMemberStopped, MemberStoppedPayload{
		StreamId: streamID, Node: "n3", Epoch: 1, Index: stopN3.Meta.Index, Tail: Tail{Epoch: 1, Offset: 120},
	})

	s = d.State().Streams[streamID]
	if s.Epoch != 2 {
		t.Fatalf("expected epoch 2 after election, got %d", s.Epoch)
	}
	if s.Writer() == nil || s.Writer().Node != "n3" {
		t.Fatalf("expected n3 elected writer (highest offset), got %+v", s.Writer())
	}
	if s.Writer().State.Kind != StateReady || s.Writer().State.Epoch != 2 {
		t.Fatalf("expected n3 ready(2), got %+v", s.Writer().State)
	}
	for _, node := range []Node{"n1", "n2"} {
		m := s.Members[node]
		if m.Role.Kind != RoleReplica || m.State.Kind != StateReady || m.State.Epoch != 2 {
			t.Fatalf("expected %s replica ready(2), got role=%v state=%+v", node, m.Role, m.State)
		}
	}
}

// S3 — add_replica while running forces a stop-then-elect cycle.
func TestScenarioS3AddReplicaForcesElection(t *testing.T) {
	d, _, streamID, _ := driveToRunning(t)

	_, _ = apply(t, d, 30, CmdAddReplica, AddReplicaPayload{StreamId: streamID, Node: "n4"})

	s := d.State().Streams[streamID]
	n4 := s.Members["n4"]
	if n4 == nil || n4.Role.Kind != RoleReplica || n4.Role.Epoch != 1 || n4.Target != TargetStopped || n4.State.Kind != StateReady {
		t.Fatalf("expected n4 inserted (replica,1)/stopped/ready(1), got %+v", n4)
	}
	for _, node := range []Node{"n1", "n2", "n3"} {
		if s.Members[node].Target != TargetStopped {
			t.Fatalf("expected %s flipped to target stopped, got %v", node, s.Members[node].Target)
		}
	}

	// Drive the running members through their stop cycle; n4 never ran so
	// it stays ready(1) and contributes nothing to the quorum report.
	for i, node := range []Node{"n1", "n2", "n3"} {
		m := s.Members[node]
		if m.Current.Tag != ActionStopping {
			t.Fatalf("expected %s to have a stop action in flight, got %v", node, m.Current)
		}
		_, _ = apply(t, d, Index(31+i), CmdMemberStopped, MemberStoppedPayload{
			StreamId: streamID, Node: node, Epoch: 1, Index: m.Current.Index, Tail: Tail{Epoch: 1, Offset: 10},
		})
	}

	s = d.State().Streams[streamID]
	if s.Epoch != 2 {
		t.Fatalf("expected epoch 2 after re-election, got %d", s.Epoch)
	}
}

// S4 — delete_replica refuses to remove the last non-deleted member.
func TestScenarioS4DeleteReplicaRefusesLast(t *testing.T) {
	aux := &fakeAux{}
	d := NewDispatcher(NewState(), aux, nil, nil)
	streamID := StreamId("s")
	s := newStream(streamID, "q1")
	s.Nodes = []Node{"n1", "n2"}
	s.Epoch = 1
	s.Members["n1"] = &Member{Node: "n1", Role: Role{Kind: RoleWriter, Epoch: 1}, State: Running(1, Pid{Node: "n1", Token: 1}), Target: TargetRunning}
	s.Members["n2"] = &Member{Node: "n2", Role: Role{Kind: RoleReplica, Epoch: 1}, State: Deleted(), Target: TargetDeleted}
	d.State().Streams[streamID] = s

	before := *s.Members["n1"]

	reply, _ := apply(t, d, 1, CmdDeleteReplica, DeleteReplicaPayload{StreamId: streamID, Node: "n1"})
	if reply.OK {
		t.Fatalf("expected delete_replica of last member to be refused")
	}
	cerr, _ := reply.Err.(*Error)
	if cerr == nil || cerr.Kind != ErrLastStreamMember {
		t.Fatalf("expected last_stream_member error, got %v", reply.Err)
	}
	after := d.State().Streams[streamID].Members["n1"]
	if after.Target != before.Target || after.State.Kind != before.State.Kind || after.Role != before.Role {
		t.Fatalf("expected n1 unchanged, before=%+v after=%+v", before, *after)
	}
}

// S5 — a member_started with a stale index is ignored.
func TestScenarioS5StaleMemberStartedIgnored(t *testing.T) {
	aux := &fakeAux{}
	d := NewDispatcher(NewState(), aux, nil, nil)
	streamID := StreamId("s")
	s := newStream(streamID, "q1")
	s.Nodes = []Node{"n1"}
	s.Epoch = 3
	s.Members["n1"] = &Member{
		Node: "n1", Role: Role{Kind: RoleWriter, Epoch: 3}, State: Ready(3), Target: TargetRunning,
		Current: InFlight{Tag: ActionStarting, Index: 50},
	}
	d.State().Streams[streamID] = s
	before := *s.Members["n1"]

	_, _ = apply(t, d, 51, CmdMemberStarted, MemberStartedPayload{
		StreamId: streamID, Node: "n1", Epoch: 2, Index: 50, Pid: Pid{Node: "n1", Token: 9},
	})

	after := d.State().Streams[streamID].Members["n1"]
	if after.State.Kind != before.State.Kind || after.Current != before.Current || after.Role != before.Role {
		t.Fatalf("expected state unchanged on epoch mismatch, before=%+v after=%+v", before, *after)
	}
}

// S6 — a leader listener observes exactly one leader_change notification
// across S2's re-election, fired once the new writer actually restarts
// (a down writer or a ready-but-not-yet-started one carries no pid worth
// reporting, so nothing should fire in between).
func TestScenarioS6ListenerLeaderChange(t *testing.T) {
	d, aux, streamID, pids := driveToRunning(t)

	listenerPid := Pid{Node: "observer", Token: 99}
	_, effects := apply(t, d, 19, CmdRegisterListener, RegisterListenerPayload{
		Pid: listenerPid, StreamId: streamID, Kind: ListenerLeader,
	})
	initialLeaderChanges := countNotify(effects, listenerPid, NotifyLeaderChange)
	if initialLeaderChanges != 1 {
		t.Fatalf("expected exactly one initial leader_change on registration, got %d", initialLeaderChanges)
	}

	_, downEffects := apply(t, d, 20, CmdDown, DownPayload{Pid: pids["n1"], Reason: DownCrashed})
	if n := countNotify(downEffects, listenerPid, NotifyLeaderChange); n != 0 {
		t.Fatalf("expected no leader_change while the writer is merely down, got %d", n)
	}

	stopN2, _ := aux.last(ActionStop, "n2")
	stopN3, _ := aux.last(ActionStop, "n3")
	_, effects21 := apply(t, d, 21, CmdMemberStopped, MemberStoppedPayload{
		StreamId: streamID, Node: "n2", Epoch: 1, Index: stopN2.Meta.Index, Tail: Tail{Epoch: 1, Offset: 100},
	})
	if n := countNotify(effects21, listenerPid, NotifyLeaderChange); n != 0 {
		t.Fatalf("expected no leader_change before quorum, got %d", n)
	}
	_, effects22 := apply(t, d, 22, CmdMemberStopped, MemberStoppedPayload{
		StreamId: streamID, Node: "n3", Epoch: 1, Index: stopN3.Meta.Index, Tail: Tail{Epoch: 1, Offset: 120},
	})
	if n := countNotify(effects22, listenerPid, NotifyLeaderChange); n != 0 {
		t.Fatalf("expected no leader_change yet, n3 is only ready(2) and hasn't restarted, got %d", n)
	}

	s := d.State().Streams[streamID]
	if s.Writer() == nil || s.Writer().Node != "n3" {
		t.Fatalf("expected n3 elected writer, got %+v", s.Writer())
	}
	startWriter, ok := aux.last(ActionStartWriter, "n3")
	if !ok {
		t.Fatalf("expected start_writer action for n3")
	}
	newPid := Pid{Node: "n3", Token: 42}
	_, effects23 := apply(t, d, 23, CmdMemberStarted, MemberStartedPayload{
		StreamId: streamID, Node: "n3", Epoch: startWriter.Meta.Epoch, Index: startWriter.Meta.Index, Pid: newPid,
	})
	if n := countNotify(effects23, listenerPid, NotifyLeaderChange); n != 1 {
		t.Fatalf("expected exactly one leader_change message queued to L once n3 restarts, got %d", n)
	}
}

// S7 — a re-election that bumps the writer's epoch schedules update_catalog
// once the new writer is running, since the catalog is still marked updated
// for the old epoch.
func TestScenarioS7ReElectionSchedulesCatalogUpdate(t *testing.T) {
	d, aux, streamID, pids := driveToRunning(t)

	s := d.State().Streams[streamID]
	if s.CatalogState.Kind != CatalogUpdated || s.CatalogState.Epoch != 1 {
		t.Fatalf("expected a freshly created stream to start catalog updated(1), got %+v", s.CatalogState)
	}

	_, _ = apply(t, d, 20, CmdDown, DownPayload{Pid: pids["n1"], Reason: DownCrashed})
	stopN2, ok := aux.last(ActionStop, "n2")
	if !ok {
		t.Fatalf("expected stop action for n2")
	}
	stopN3, ok := aux.last(ActionStop, "n3")
	if !ok {
		t.Fatalf("expected stop action for n3")
	}
	_, _ = apply(t, d, 21, CmdMemberStopped, MemberStoppedPayload{
		StreamId: streamID, Node: "n2", Epoch: 1, Index: stopN2.Meta.Index, Tail: Tail{Epoch: 1, Offset: 100},
	})
	_, _ = apply(t, d, 22, CmdMemberStopped, MemberStoppedPayload{
		StreamId: streamID, Node: "n3", Epoch: 1, Index: stopN3.Meta.Index, Tail: Tail{Epoch: 1, Offset: 120},
	})

	s = d.State().Streams[streamID]
	if s.Epoch != 2 || s.Writer() == nil || s.Writer().Node != "n3" {
		t.Fatalf("expected n3 elected writer at epoch 2, got %+v", s.Writer())
	}
	if _, ok := aux.last(ActionUpdateCatalog, "n3"); ok {
		t.Fatalf("expected no update_catalog before the new writer is running")
	}

	startWriter, ok := aux.last(ActionStartWriter, "n3")
	if !ok {
		t.Fatalf("expected start_writer action for n3")
	}
	_, _ = apply(t, d, 23, CmdMemberStarted, MemberStartedPayload{
		StreamId: streamID, Node: "n3", Epoch: startWriter.Meta.Epoch, Index: startWriter.Meta.Index, Pid: Pid{Node: "n3", Token: 42},
	})

	s = d.State().Streams[streamID]
	if s.CatalogState.Kind != CatalogUpdating || s.CatalogState.Epoch != 1 {
		t.Fatalf("expected catalog marked updating(1) once n3 is running at epoch 2, got %+v", s.CatalogState)
	}
	updateCatalog, ok := aux.last(ActionUpdateCatalog, "n3")
	if !ok {
		t.Fatalf("expected update_catalog scheduled for n3 once it's running at the new epoch")
	}
	if updateCatalog.Meta.Epoch != 2 {
		t.Fatalf("expected update_catalog for epoch 2, got %d", updateCatalog.Meta.Epoch)
	}

	_, _ = apply(t, d, 24, CmdCatalogUpdated, CatalogUpdatedPayload{StreamId: streamID, Epoch: 2})
	s = d.State().Streams[streamID]
	if s.CatalogState.Kind != CatalogUpdated || s.CatalogState.Epoch != 2 {
		t.Fatalf("expected catalog updated(2) after catalog_updated, got %+v", s.CatalogState)
	}
}

// S8 — a leadership transition fails every action stranded in flight and
// the Evaluator reissues it, matching spec §4.6's robustness protocol.
func TestScenarioS8LeaderTransitionReissuesStrandedActions(t *testing.T) {
	d, aux, streamID, _ := driveToRunning(t)

	// add_replica force-cycles every running member to stopped, leaving a
	// stop action in flight on every existing node.
	_, _ = apply(t, d, 20, CmdAddReplica, AddReplicaPayload{StreamId: streamID, Node: "n4"})

	stopN1, ok := aux.last(ActionStop, "n1")
	if !ok {
		t.Fatalf("expected stop action for n1")
	}
	s := d.State().Streams[streamID]
	if s.Members["n1"].Current.None() {
		t.Fatalf("expected n1's stop action to be in flight before the leader transition")
	}

	effects := d.OnLeaderTransition(raftrt.Meta{Index: raftrt.Index(21), MachineVersion: CurrentMachineVersion})
	if len(effects) == 0 {
		t.Fatalf("expected the leader transition to produce effects")
	}

	if s.Members["n1"].Current.Index == stopN1.Meta.Index {
		t.Fatalf("expected the leader transition to fail n1's stranded in-flight action")
	}

	reissued, ok := aux.last(ActionStop, "n1")
	if !ok || reissued.Meta.Index == stopN1.Meta.Index {
		t.Fatalf("expected the stop action to be reissued with a fresh index; was %+v, now %+v", stopN1, reissued)
	}
}

func countNotify(effects []raftrt.Effect, pid Pid, kind NotificationKind) int {
	n := 0
	for _, e := range effects {
		if e.Kind != raftrt.EffectNotify {
			continue
		}
		note, ok := e.Payload.(Notification)
		if !ok {
			continue
		}
		if note.Pid == pid && note.Kind == kind {
			n++
		}
	}
	return n
}
