package coordinator

import (
	"encoding/json"
	"testing"
)

// This file exercises the seven quantified invariants from §8 directly,
// as opposed to scenarios_test.go's literal round-trip scenarios.

// invariant 1: at most one member holds role writer at stream.epoch in
// ready or running.
func checkSingleWriter(t *testing.T, s *Stream) {
	t.Helper()
	n := 0
	for _, m := range s.Members {
		if m.Role.Kind == RoleWriter && m.Role.Epoch == s.Epoch &&
			(m.State.Kind == StateReady || m.State.Kind == StateRunning) {
			n++
		}
	}
	if n > 1 {
		t.Fatalf("invariant violated: %d writers ready/running at epoch %d", n, s.Epoch)
	}
}

// invariant 2: state.epoch <= stream.epoch for every member.
func checkEpochBound(t *testing.T, s *Stream) {
	t.Helper()
	for n, m := range s.Members {
		if m.State.Epoch > s.Epoch {
			t.Fatalf("invariant violated: member %s state.epoch=%d > stream.epoch=%d", n, m.State.Epoch, s.Epoch)
		}
	}
}

func TestInvariantSingleWriterAndEpochBound(t *testing.T) {
	d, _, streamID, _ := driveToRunning(t)
	s := d.State().Streams[streamID]
	checkSingleWriter(t, s)
	checkEpochBound(t, s)

	apply(t, d, 20, CmdDown, DownPayload{Pid: Pid{Node: "n1", Token: 1}, Reason: DownCrashed})
	s = d.State().Streams[streamID]
	checkSingleWriter(t, s)
	checkEpochBound(t, s)

	stopN2 := s.Members["n2"]
	stopN3 := s.Members["n3"]
	apply(t, d, 21, CmdMemberStopped, MemberStoppedPayload{
		StreamId: streamID, Node: "n2", Epoch: 1, Index: stopN2.Current.Index, Tail: Tail{Epoch: 1, Offset: 100},
	})
	apply(t, d, 22, CmdMemberStopped, MemberStoppedPayload{
		StreamId: streamID, Node: "n3", Epoch: 1, Index: stopN3.Current.Index, Tail: Tail{Epoch: 1, Offset: 120},
	})
	s = d.State().Streams[streamID]
	checkSingleWriter(t, s)
	checkEpochBound(t, s)
}

// invariant 3: at most one aux action in flight per member (Current is a
// single InFlight slot, not a set, so this is a structural guarantee;
// this test pins it down by asserting evaluateStream never overwrites an
// already-scheduled action with another before it resolves).
func TestInvariantSingleInFlightAction(t *testing.T) {
	d, aux, streamID := newStreamForTest(t)
	s := d.State().Streams[streamID]

	before := map[Node]InFlight{}
	for n, m := range s.Members {
		before[n] = m.Current
	}

	// Re-running evaluateStream (indirectly, via a no-op command target)
	// must not clobber an already in-flight action with a second one.
	_, _ = apply(t, d, 11, CmdNodeUp, NodeUpPayload{Node: "n1"})
	s = d.State().Streams[streamID]
	for n, m := range s.Members {
		if before[n].Tag != "" && m.Current != before[n] {
			t.Fatalf("member %s in-flight action changed from %+v to %+v without resolving", n, before[n], m.Current)
		}
	}

	seen := map[string]int{}
	for _, a := range aux.actions {
		key := string(a.Kind) + ":" + string(a.Meta.Node)
		seen[key]++
	}
	if _, ok := aux.last(ActionStartWriter, "n1"); !ok {
		t.Fatalf("expected start_writer for n1")
	}
	if seen[string(ActionStartWriter)+":n1"] != 1 {
		t.Fatalf("expected exactly one start_writer scheduled for n1 before it resolves, got %d", seen[string(ActionStartWriter)+":n1"])
	}
}

// invariant 4: stream.epoch is non-decreasing across any command
// sequence.
func TestInvariantEpochMonotonic(t *testing.T) {
	d, aux, streamID, _ := driveToRunning(t)
	last := d.State().Streams[streamID].Epoch

	commands := []struct {
		idx     Index
		kind    CommandKind
		payload interface{}
	}{
		{20, CmdDown, DownPayload{Pid: Pid{Node: "n1", Token: 1}, Reason: DownCrashed}},
	}
	for _, c := range commands {
		apply(t, d, c.idx, c.kind, c.payload)
		s := d.State().Streams[streamID]
		if s.Epoch < last {
			t.Fatalf("epoch decreased from %d to %d", last, s.Epoch)
		}
		last = s.Epoch
	}

	stopN2, _ := aux.last(ActionStop, "n2")
	stopN3, _ := aux.last(ActionStop, "n3")
	apply(t, d, 21, CmdMemberStopped, MemberStoppedPayload{
		StreamId: streamID, Node: "n2", Epoch: 1, Index: stopN2.Meta.Index, Tail: Tail{Epoch: 1, Offset: 100},
	})
	if s := d.State().Streams[streamID]; s.Epoch < last {
		t.Fatalf("epoch decreased from %d to %d", last, s.Epoch)
	} else {
		last = s.Epoch
	}
	apply(t, d, 22, CmdMemberStopped, MemberStoppedPayload{
		StreamId: streamID, Node: "n3", Epoch: 1, Index: stopN3.Meta.Index, Tail: Tail{Epoch: 1, Offset: 120},
	})
	if s := d.State().Streams[streamID]; s.Epoch < last {
		t.Fatalf("epoch decreased from %d to %d", last, s.Epoch)
	}
}

// invariant 5: apply is a pure function of (meta, command, state); the
// same ordered sequence applied to two fresh dispatchers yields
// byte-identical encoded states and equal reply/effect kinds at every
// step.
func TestInvariantDeterminism(t *testing.T) {
	type step struct {
		idx     Index
		kind    CommandKind
		payload interface{}
	}
	steps := []step{
		{10, CmdNewStream, NewStreamPayload{StreamId: "s", Leader: "n1", Nodes: []Node{"n1", "n2", "n3"}, QueueRef: "q1"}},
		{11, CmdMemberStarted, MemberStartedPayload{StreamId: "s", Node: "n1", Epoch: 1, Index: 10, Pid: Pid{Node: "n1", Token: 1}}},
		{12, CmdMemberStarted, MemberStartedPayload{StreamId: "s", Node: "n2", Epoch: 1, Index: 11, Pid: Pid{Node: "n2", Token: 2}}},
		{13, CmdMemberStarted, MemberStartedPayload{StreamId: "s", Node: "n3", Epoch: 1, Index: 11, Pid: Pid{Node: "n3", Token: 3}}},
	}

	run := func() ([]byte, []bool) {
		d := NewDispatcher(NewState(), &fakeAux{}, nil, nil)
		var oks []bool
		for _, st := range steps {
			reply, _ := apply(t, d, st.idx, st.kind, st.payload)
			oks = append(oks, reply.OK)
		}
		snap, err := EncodeSnapshot(d.State())
		if err != nil {
			t.Fatalf("encode snapshot: %v", err)
		}
		enc, err := json.Marshal(snap)
		if err != nil {
			t.Fatalf("marshal snapshot: %v", err)
		}
		return enc, oks
	}

	encA, oksA := run()
	encB, oksB := run()

	if len(oksA) != len(oksB) {
		t.Fatalf("reply count mismatch: %d vs %d", len(oksA), len(oksB))
	}
	for i := range oksA {
		if oksA[i] != oksB[i] {
			t.Fatalf("reply %d diverged: %v vs %v", i, oksA[i], oksB[i])
		}
	}

	if string(encA) != string(encB) {
		t.Fatalf("two independently-replayed command sequences diverged:\nA=%s\nB=%s", encA, encB)
	}
}

// invariant 6: evaluate_stream applied twice in succession to the same
// state emits new actions only the first time.
func TestInvariantEvaluatorIdempotent(t *testing.T) {
	s := newStream("s", "q1")
	s.Nodes = []Node{"n1", "n2", "n3"}
	s.Epoch = 1
	s.Members["n1"] = &Member{Node: "n1", Role: Role{Kind: RoleWriter, Epoch: 1}, State: Ready(1), Target: TargetRunning}
	s.Members["n2"] = &Member{Node: "n2", Role: Role{Kind: RoleReplica, Epoch: 1}, State: Ready(1), Target: TargetRunning}
	s.Members["n3"] = &Member{Node: "n3", Role: Role{Kind: RoleReplica, Epoch: 1}, State: Ready(1), Target: TargetRunning}

	first := evaluateStream(100, s)
	if len(first) == 0 {
		t.Fatalf("expected the first evaluation to schedule at least one action")
	}
	second := evaluateStream(101, s)
	if len(second) != 0 {
		t.Fatalf("expected re-evaluation of an unchanged state to emit no new actions, got %+v", second)
	}
}

// invariant 7: once member.target = deleted, it stays deleted until the
// member is actually removed.
func TestInvariantDeletionTerminal(t *testing.T) {
	aux := &fakeAux{}
	d := NewDispatcher(NewState(), aux, nil, nil)
	streamID := StreamId("s")
	s := newStream(streamID, "q1")
	s.Nodes = []Node{"n1", "n2"}
	s.Epoch = 1
	s.Members["n1"] = &Member{Node: "n1", Role: Role{Kind: RoleWriter, Epoch: 1}, State: Running(1, Pid{Node: "n1", Token: 1}), Target: TargetRunning}
	s.Members["n2"] = &Member{Node: "n2", Role: Role{Kind: RoleReplica, Epoch: 1}, State: Running(1, Pid{Node: "n2", Token: 2}), Target: TargetRunning}
	d.State().Streams[streamID] = s

	apply(t, d, 1, CmdDeleteReplica, DeleteReplicaPayload{StreamId: streamID, Node: "n2"})
	if d.State().Streams[streamID].Members["n2"].Target != TargetDeleted {
		t.Fatalf("expected n2 target=deleted immediately after delete_replica")
	}

	// Drive unrelated commands through the stream; target=deleted must
	// never flip back, regardless of what else happens to the stream.
	apply(t, d, 2, CmdNodeUp, NodeUpPayload{Node: "n2"})
	if m, ok := d.State().Streams[streamID].Members["n2"]; ok && m.Target != TargetDeleted {
		t.Fatalf("expected n2 target=deleted to remain terminal, got %v", m.Target)
	}

	stopN2, ok := aux.last(ActionStop, "n2")
	if ok {
		_, _ = apply(t, d, 3, CmdMemberStopped, MemberStoppedPayload{
			StreamId: streamID, Node: "n2", Epoch: 1, Index: stopN2.Meta.Index, Tail: Tail{Epoch: 1, Offset: 5},
		})
		if m, ok := d.State().Streams[streamID].Members["n2"]; ok && m.Target != TargetDeleted {
			t.Fatalf("expected n2 target=deleted to remain terminal after stopping, got %v", m.Target)
		}
	}

	if _, ok := aux.last(ActionDeleteMember, "n2"); !ok {
		t.Fatalf("expected a delete_member action for n2")
	}
	_, _ = apply(t, d, 4, CmdMemberDeleted, MemberDeletedPayload{StreamId: streamID, Node: "n2"})
	if _, ok := d.State().Streams[streamID].Members["n2"]; ok {
		t.Fatalf("expected n2 removed from membership after member_deleted")
	}
}
