package coordinator

// MonitorEffect is one instruction to the runtime asking it to watch a pid
// or node for liveness, per spec §4.5.
type MonitorEffect struct {
	WatchProcess bool
	WatchNode    bool
	Pid          Pid
	Node         Node
}

// reconcileMonitors walks the stream's running members, emitting monitor
// effects for any member pid (and its node) not yet tracked in the global
// monitor map, and recording them. Listener pids are watched separately,
// by monitorListener at registration.
func reconcileMonitors(s *Stream, monitors map[Pid]MonitorPurpose) []MonitorEffect {
	var effects []MonitorEffect
	for _, m := range s.Members {
		if m.State.Kind != StateRunning {
			continue
		}
		if _, tracked := monitors[m.State.Pid]; tracked {
			continue
		}
		monitors[m.State.Pid] = MonitorPurpose{Kind: MonitorMember, StreamId: s.Id, Node: m.Node}
		effects = append(effects,
			MonitorEffect{WatchProcess: true, Pid: m.State.Pid},
			MonitorEffect{WatchNode: true, Node: m.State.Pid.Node},
		)
	}
	return effects
}

// monitorListener records bookkeeping for a freshly registered listener
// pid and returns the effect to watch it, unless already tracked.
func monitorListener(pid Pid, streamID StreamId, monitors map[Pid]MonitorPurpose) []MonitorEffect {
	purpose, tracked := monitors[pid]
	if !tracked {
		purpose = MonitorPurpose{Kind: MonitorListener, StreamIds: map[StreamId]struct{}{}}
	}
	if purpose.StreamIds == nil {
		purpose.StreamIds = map[StreamId]struct{}{}
	}
	_, already := purpose.StreamIds[streamID]
	purpose.StreamIds[streamID] = struct{}{}
	monitors[pid] = purpose
	if tracked {
		if already {
			return nil
		}
		return nil
	}
	return []MonitorEffect{{WatchProcess: true, Pid: pid}}
}

// monitorNoConnection additionally watches the node of a pid reported down
// with reason noconnection, so a later nodeup is observed.
func monitorNoConnection(pid Pid) []MonitorEffect {
	return []MonitorEffect{{WatchNode: true, Node: pid.Node}}
}

// ReissueOnLeaderTransition re-issues watch effects for every tracked pid
// and every node appearing in any member, matching spec §4.5's "on leader
// transition of the replicated machine itself" rule.
func ReissueOnLeaderTransition(state *State) []MonitorEffect {
	var effects []MonitorEffect
	seenNodes := make(map[Node]bool)
	for pid := range state.Monitors {
		effects = append(effects, MonitorEffect{WatchProcess: true, Pid: pid})
	}
	for _, s := range state.Streams {
		for n := range s.Members {
			if !seenNodes[n] {
				seenNodes[n] = true
				effects = append(effects, MonitorEffect{WatchNode: true, Node: n})
			}
		}
	}
	return effects
}

// resolveDown consults the monitor map to decide whether a down(pid)
// command should route to a stream's Member FSM, to listener cleanup, or
// to SAC.
func resolveDown(pid Pid, monitors map[Pid]MonitorPurpose) (MonitorPurpose, bool) {
	p, ok := monitors[pid]
	return p, ok
}
