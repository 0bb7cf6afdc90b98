package coordinator

// RunMigration applies the in-place migration for stepping the machine
// from version v to v+1, as described in spec §9's legacy persisted state
// notes. machine_version(from, to) drives this for each integer step in
// [from, to).
func RunMigration(v int, s *State) []MonitorEffect {
	switch v {
	case 1:
		return migrateV1ToV2(s)
	case 2:
		migrateV2ToV3(s)
		return nil
	default:
		return nil
	}
}

// migrateV1ToV2 rewrites each stream's listener storage from the v1 shape
// (stream_id -> {pid -> leader_pid}) to the v2 shape (stream ->
// listeners{(pid,kind) -> payload}): every v1 listener only ever watched
// the writer, so it becomes a ListenerLeader entry carrying the last
// leader pid it was told about. It also backfills CatalogState, which
// didn't exist in v1, and emits monitor(process, pid) effects for listener
// pids the v1 machine never monitored.
func migrateV1ToV2(s *State) []MonitorEffect {
	var effects []MonitorEffect
	for _, stream := range s.Streams {
		if stream.Listeners == nil {
			stream.Listeners = make(map[ListenerKey]ListenerPayload)
		}
		for pid, leaderPid := range stream.LegacyListeners {
			stream.Listeners[ListenerKey{Pid: pid, Kind: ListenerLeader}] = ListenerPayload{LastPid: leaderPid}
		}
		stream.LegacyListeners = nil

		if stream.CatalogState.Kind == "" {
			stream.CatalogState = CatalogState{Kind: CatalogUpdated, Epoch: stream.Epoch}
		}

		for key := range stream.Listeners {
			if _, tracked := s.Monitors[key.Pid]; tracked {
				continue
			}
			purpose := MonitorPurpose{Kind: MonitorListener, StreamIds: map[StreamId]struct{}{stream.Id: {}}}
			s.Monitors[key.Pid] = purpose
			effects = append(effects, MonitorEffect{WatchProcess: true, Pid: key.Pid})
		}
	}
	return effects
}

// migrateV2ToV3 adds the (previously absent) empty sac state.
func migrateV2ToV3(s *State) {
	if s.Sac.Inner == nil {
		s.Sac = NewSacState()
	}
}
