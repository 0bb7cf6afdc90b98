package coordinator

// evaluateStream is the idempotent side-effect generator described in
// spec §4.3. Re-invocation with identical state emits identical actions;
// it is called on every mutating command and on monitor/nodeup/start/stop
// events. It mutates s.Members[*].Current as it schedules actions and
// returns the actions to hand to Aux.
func evaluateStream(idx Index, s *Stream) []Action {
	var actions []Action

	w := s.Writer()
	if w != nil {
		actions = append(actions, evaluateWriter(idx, s, w)...)
	}
	for _, m := range s.Members {
		if m.Role.Kind == RoleReplica {
			actions = append(actions, evaluateReplica(idx, s, m, w)...)
		}
	}
	actions = append(actions, evalRetention(idx, s)...)
	return actions
}

// evaluateCommon applies the writer-rule ladder shared by both roles
// before role-specific rules 4/5 (writer) diverge from replica handling.
func evaluateCommon(idx Index, s *Stream, m *Member) (Action, bool) {
	if m.Target == TargetDeleted && m.Current.None() && m.State.Kind != StateDeleted {
		m.Current = InFlight{Tag: ActionDeleting, Index: idx}
		return Action{Kind: ActionDeleteMember, StreamId: s.Id, Meta: ActionMeta{Index: idx, Epoch: m.Role.Epoch, Node: m.Node}}, true
	}
	if m.State.Kind == StateDown && m.Target == TargetStopped && m.Current.None() {
		m.Current = InFlight{Tag: ActionStopping, Index: idx}
		return Action{Kind: ActionStop, StreamId: s.Id, Meta: ActionMeta{Index: idx, Epoch: m.State.Epoch, Node: m.Node}}, true
	}
	return Action{}, false
}

func evaluateWriter(idx Index, s *Stream, w *Member) []Action {
	var actions []Action

	if a, ok := evaluateCommon(idx, s, w); ok {
		return append(actions, a)
	}

	if w.State.Kind == StateReady && w.Target == TargetRunning && w.Current.None() {
		w.Current = InFlight{Tag: ActionStarting, Index: idx}
		return append(actions, Action{Kind: ActionStartWriter, StreamId: s.Id, Meta: ActionMeta{Index: idx, Epoch: w.State.Epoch, Node: w.Node}, Conf: s.Conf})
	}

	if w.State.Kind == StateRunning && w.Target == TargetRunning &&
		s.CatalogState.Kind == CatalogUpdated && s.CatalogState.Epoch < w.State.Epoch {
		s.CatalogState = CatalogState{Kind: CatalogUpdating, Epoch: s.CatalogState.Epoch}
		actions = append(actions, Action{Kind: ActionUpdateCatalog, StreamId: s.Id, Meta: ActionMeta{Index: idx, Epoch: w.State.Epoch, Node: w.Node, Pid: w.State.Pid}, Conf: s.Conf})
		return actions
	}

	if w.State.Kind != StateStopped && w.Target == TargetStopped && w.Current.None() {
		w.Current = InFlight{Tag: ActionStopping, Index: idx}
		actions = append(actions, Action{Kind: ActionStop, StreamId: s.Id, Meta: ActionMeta{Index: idx, Epoch: w.State.Epoch, Node: w.Node}})
	}
	return actions
}

func evaluateReplica(idx Index, s *Stream, m *Member, w *Member) []Action {
	var actions []Action

	if a, ok := evaluateCommon(idx, s, m); ok {
		return append(actions, a)
	}

	if m.Target == TargetStopped && m.Current.None() && m.State.Kind != StateStopped {
		m.Current = InFlight{Tag: ActionStopping, Index: idx}
		return append(actions, Action{Kind: ActionStop, StreamId: s.Id, Meta: ActionMeta{Index: idx, Epoch: m.State.Epoch, Node: m.Node}})
	}

	if (m.State.Kind == StateReady || m.State.Kind == StateDown) && m.Target == TargetRunning &&
		w != nil && w.State.Kind == StateRunning && w.State.Epoch == m.State.Epoch && m.Current.None() {
		m.Current = InFlight{Tag: ActionStarting, Index: idx}
		return append(actions, Action{
			Kind: ActionStartReplica, StreamId: s.Id,
			Meta:      ActionMeta{Index: idx, Epoch: m.State.Epoch, Node: m.Node},
			Conf:      s.Conf,
			LeaderPid: w.State.Pid,
		})
	}

	return actions
}

// evalRetention implements the retention sweep: every running member whose
// conf.retention differs from the stream's current conf gets an
// update_retention action.
func evalRetention(idx Index, s *Stream) []Action {
	var actions []Action
	for _, m := range s.Members {
		if m.State.Kind != StateRunning || !m.Current.None() {
			continue
		}
		if m.Conf.SameRetention(s.Conf) {
			continue
		}
		m.Current = InFlight{Tag: ActionUpdating, Index: idx}
		actions = append(actions, Action{
			Kind: ActionUpdateRetention, StreamId: s.Id,
			Meta: ActionMeta{Index: idx, Epoch: m.State.Epoch, Node: m.Node, Pid: m.State.Pid},
			Conf: s.Conf,
		})
	}
	return actions
}
