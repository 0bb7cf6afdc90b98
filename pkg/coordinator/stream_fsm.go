package coordinator

// updateStream is the pure Stream FSM described in spec §4.2. It returns
// the updated stream, or nil to signal the stream's destruction, plus a
// reply value and an error (mutually exclusive with a state change: a
// rejected command returns the unchanged stream and a non-nil error).
//
// update_stream is total: callers recover from panics raised by failfast
// checks here and treat them as "leave the stream unchanged, log a
// warning", matching the source's exception-catching behavior.
func updateStream(idx Index, machineVersion int, kind CommandKind, payload interface{}, s *Stream) (*Stream, interface{}, *Error) {
	switch kind {
	case CmdDeleteStream:
		return streamDeleteStream(s), "ok", nil
	case CmdAddReplica:
		p := payload.(AddReplicaPayload)
		return streamAddReplica(s, p.Node), "ok", nil
	case CmdDeleteReplica:
		p := payload.(DeleteReplicaPayload)
		return streamDeleteReplica(s, p.Node)
	case CmdPolicyChanged:
		p := payload.(PolicyChangedPayload)
		s.Conf = p.NewConf
		return s, "ok", nil
	case CmdMemberStarted:
		p := payload.(MemberStartedPayload)
		return streamMemberStarted(s, p), "ok", nil
	case CmdMemberStopped:
		p := payload.(MemberStoppedPayload)
		return streamMemberStopped(idx, machineVersion, s, p), "ok", nil
	case CmdMemberDeleted:
		p := payload.(MemberDeletedPayload)
		return streamMemberDeleted(s, p.Node)
	case CmdActionFailed:
		p := payload.(ActionFailedPayload)
		return streamActionFailed(s, p), "ok", nil
	case CmdRetentionUpdated:
		p := payload.(RetentionUpdatedPayload)
		return streamRetentionUpdated(s, p), "ok", nil
	case CmdCatalogUpdated:
		p := payload.(CatalogUpdatedPayload)
		s.CatalogState = CatalogState{Kind: CatalogUpdated, Epoch: p.Epoch}
		return s, "ok", nil
	case CmdNodeUp:
		p := payload.(NodeUpPayload)
		return streamNodeUp(s, p.Node), "ok", nil
	default:
		return s, "ok", nil
	}
}

func streamDeleteStream(s *Stream) *Stream {
	for _, m := range s.Members {
		m.Target = TargetDeleted
	}
	s.ReplyTo = ReplyAddr{}
	s.Target = StreamTargetDeleted
	return s
}

func streamAddReplica(s *Stream, node Node) *Stream {
	if _, exists := s.Members[node]; !exists {
		s.Members[node] = &Member{
			Node:   node,
			Role:   Role{Kind: RoleReplica, Epoch: s.Epoch},
			State:  Ready(s.Epoch),
			Target: TargetStopped,
		}
		s.Nodes = append(s.Nodes, node)
	}
	forceCycle(s)
	return s
}

func streamDeleteReplica(s *Stream, node Node) (*Stream, interface{}, *Error) {
	m, ok := s.Members[node]
	if !ok {
		return s, nil, NewError(ErrNotFound, "node %s not a member", node)
	}
	if s.nonDeletedCount() <= 1 {
		return s, nil, NewError(ErrLastStreamMember, "refusing to remove the last non-deleted member of %s", s.Id)
	}
	_ = m
	s.Members[node].Target = TargetDeleted
	forceCycle(s)
	return s, "ok", nil
}

// forceCycle flips every running-target member to stopped, ensuring a full
// stop+elect round runs so new/removed membership is observed consistently.
func forceCycle(s *Stream) {
	for n, m := range s.Members {
		if n == m.Node && m.Target == TargetRunning {
			m.Target = TargetStopped
		}
	}
}

func streamMemberStarted(s *Stream, p MemberStartedPayload) *Stream {
	m, ok := s.Members[p.Node]
	if !ok {
		return s
	}
	if m.Current.None() || m.Current.Tag != ActionStarting || m.Current.Index != p.Index {
		return s
	}
	if m.Role.Epoch != p.Epoch {
		return s
	}
	if p.Pid.Node != p.Node {
		return s
	}
	m.State = Running(p.Epoch, p.Pid)
	m.Current = InFlight{}

	if m.Role.Kind == RoleWriter && s.ReplyTo.Present {
		s.PendingReply = p.Pid
		s.ReplyTo = ReplyAddr{}
	}
	return s
}

func streamMemberStopped(idx Index, machineVersion int, s *Stream, p MemberStoppedPayload) *Stream {
	m, ok := s.Members[p.Node]
	if !ok {
		return s
	}
	if m.Current.None() || m.Current.Tag != ActionStopping || m.Current.Index != p.Index {
		return s
	}
	if m.Role.Epoch != s.Epoch {
		return s
	}
	m.Current = InFlight{}
	m.State = Stopped(p.Epoch, p.Tail)

	if w := s.Writer(); w != nil && m.Role.Kind == RoleReplica &&
		(w.State.Kind == StateReady || w.State.Kind == StateRunning) &&
		w.State.Epoch == s.Epoch && w.Target == TargetRunning {
		m.State = Ready(s.Epoch)
		return s
	}

	if p.Epoch != s.Epoch {
		return s // stale epoch report: target left as it is, no election
	}

	tryElect(idx, machineVersion, s)
	return s
}

// tryElect counts members stopped at the current epoch whose target is
// still stopped (the stop cycle set it so) and, if they form a quorum of
// len(s.Nodes), performs the election within this single apply, setting
// every non-deleted member's target back to running.
func tryElect(idx Index, machineVersion int, s *Stream) {
	var cands []candidate
	for n, m := range s.Members {
		if m.State.Kind == StateStopped && m.State.Epoch == s.Epoch && m.Target == TargetStopped {
			cands = append(cands, candidate{Node: n, Tail: m.State.Tail})
		}
	}
	if len(cands) < quorum(len(s.Nodes)) {
		return
	}

	next := s.Epoch + 1
	writerNode := selectLeader(cands, machineVersion)

	for n, m := range s.Members {
		if m.Target == TargetDeleted {
			continue
		}
		if n == writerNode {
			m.Role = Role{Kind: RoleWriter, Epoch: next}
		} else {
			m.Role = Role{Kind: RoleReplica, Epoch: next}
		}
		m.State = Ready(next)
		m.Target = TargetRunning
	}
	s.Epoch = next
}

func streamMemberDeleted(s *Stream, node Node) (*Stream, interface{}, *Error) {
	delete(s.Members, node)
	for i, n := range s.Nodes {
		if n == node {
			s.Nodes = append(s.Nodes[:i], s.Nodes[i+1:]...)
			break
		}
	}
	if len(s.Members) == 0 {
		return nil, "ok", nil
	}
	return s, "ok", nil
}

func streamActionFailed(s *Stream, p ActionFailedPayload) *Stream {
	m, ok := s.Members[p.Node]
	if !ok {
		return s
	}
	if p.Action == ActionUpdating && s.CatalogState.Kind == CatalogUpdating &&
		!(m.Current.Tag == ActionUpdating && m.Current.Index == p.Index) {
		// A failed update_catalog: the catalog still holds the old epoch,
		// so mark it updated at that epoch and let the Evaluator reissue.
		s.CatalogState.Kind = CatalogUpdated
		return s
	}
	if m.Current.None() || m.Current.Index != p.Index {
		return s
	}
	wasStartingWriter := m.Role.Kind == RoleWriter && m.Current.Tag == ActionStarting && m.State.Kind == StateReady && m.State.Epoch == p.Epoch
	m.Current = InFlight{}

	if wasStartingWriter {
		for n, mm := range s.Members {
			if n == mm.Node && mm.Target == TargetRunning {
				mm.Target = TargetStopped
			}
		}
	}
	return s
}

func streamRetentionUpdated(s *Stream, p RetentionUpdatedPayload) *Stream {
	m, ok := s.Members[p.Node]
	if !ok || m.Current.Tag != ActionUpdating {
		return s
	}
	m.Current = InFlight{}
	m.Conf = p.NewConf
	return s
}

func streamNodeUp(s *Stream, node Node) *Stream {
	for n, m := range s.Members {
		if n == node && m.Current.Tag == ActionSleeping {
			m.Current = InFlight{}
		}
	}
	return s
}

// handleDown applies a down(pid) notification to whichever member on this
// stream currently carries pid, per spec §4.2's down(pid) rules.
func handleDown(s *Stream, pid Pid, reason DownReason) *Stream {
	for _, m := range s.Members {
		if m.State.Pid != pid || m.State.Pid.IsZero() {
			continue
		}
		if m.Role.Kind == RoleWriter {
			m.State = Down(m.State.Epoch)
			for n, mm := range s.Members {
				if n == mm.Node && mm.Target == TargetRunning {
					mm.Target = TargetStopped
				}
			}
			return s
		}
		if reason == DownNoConnection {
			m.State = Disconnected(m.State.Epoch, pid)
		} else {
			m.State = Down(m.State.Epoch)
		}
		return s
	}
	return s
}
