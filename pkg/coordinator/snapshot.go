package coordinator

import (
	"encoding/json"
	"sort"
)

// Snapshot is the schema-versioned, JSON-serializable form of State taken
// at release-cursor boundaries (spec §6.4).
type Snapshot struct {
	MachineVersion int               `json:"machine_version"`
	Streams        []streamSnapshot  `json:"streams"`
	Monitors       []monitorSnapshot `json:"monitors"`
	Sac            SacState          `json:"sac"`
}

type memberSnapshot struct {
	Node    Node        `json:"node"`
	Role    Role        `json:"role"`
	State   MemberState `json:"state"`
	Target  TargetKind  `json:"target"`
	Current InFlight    `json:"current"`
	Conf    Conf        `json:"conf"`
}

type listenerSnapshot struct {
	Key     ListenerKey      `json:"key"`
	Payload ListenerPayload  `json:"payload"`
}

type streamSnapshot struct {
	Id           StreamId           `json:"id"`
	Epoch        Epoch              `json:"epoch"`
	Nodes        []Node             `json:"nodes"`
	Members      []memberSnapshot   `json:"members"`
	QueueRef     string             `json:"queue_ref"`
	Conf         Conf               `json:"conf"`
	Target       StreamTargetKind   `json:"target"`
	ReplyTo      ReplyAddr          `json:"reply_to"`
	CatalogState CatalogState       `json:"catalog_state"`
	Listeners    []listenerSnapshot `json:"listeners"`
}

type monitorSnapshot struct {
	Pid     Pid            `json:"pid"`
	Purpose MonitorPurpose `json:"purpose"`
}

// EncodeSnapshot converts s into its wire Snapshot form. Streams, members,
// listeners and monitors are all held in maps for O(1) lookup during
// apply, but map iteration order is randomized per-process; encoding
// walks each in a stable sorted order so two replicas (or two replays of
// the same command log) produce byte-identical snapshots, per spec §8's
// determinism invariant.
func EncodeSnapshot(s *State) (Snapshot, error) {
	snap := Snapshot{MachineVersion: s.MachineVersion, Sac: s.Sac}

	streamIDs := make([]StreamId, 0, len(s.Streams))
	for id := range s.Streams {
		streamIDs = append(streamIDs, id)
	}
	sort.Slice(streamIDs, func(i, j int) bool { return streamIDs[i] < streamIDs[j] })

	for _, id := range streamIDs {
		stream := s.Streams[id]
		ss := streamSnapshot{
			Id: stream.Id, Epoch: stream.Epoch, Nodes: stream.Nodes,
			QueueRef: stream.QueueRef, Conf: stream.Conf, Target: stream.Target,
			ReplyTo: stream.ReplyTo, CatalogState: stream.CatalogState,
		}

		nodes := make([]Node, 0, len(stream.Members))
		for n := range stream.Members {
			nodes = append(nodes, n)
		}
		sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
		for _, n := range nodes {
			m := stream.Members[n]
			ss.Members = append(ss.Members, memberSnapshot{
				Node: m.Node, Role: m.Role, State: m.State, Target: m.Target,
				Current: m.Current, Conf: m.Conf,
			})
		}

		keys := make([]ListenerKey, 0, len(stream.Listeners))
		for key := range stream.Listeners {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool { return listenerKeyLess(keys[i], keys[j]) })
		for _, key := range keys {
			ss.Listeners = append(ss.Listeners, listenerSnapshot{Key: key, Payload: stream.Listeners[key]})
		}

		snap.Streams = append(snap.Streams, ss)
	}

	pids := make([]Pid, 0, len(s.Monitors))
	for pid := range s.Monitors {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pidLess(pids[i], pids[j]) })
	for _, pid := range pids {
		snap.Monitors = append(snap.Monitors, monitorSnapshot{Pid: pid, Purpose: s.Monitors[pid]})
	}

	return snap, nil
}

func pidLess(a, b Pid) bool {
	if a.Node != b.Node {
		return a.Node < b.Node
	}
	return a.Token < b.Token
}

func listenerKeyLess(a, b ListenerKey) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Node != b.Node {
		return a.Node < b.Node
	}
	return pidLess(a.Pid, b.Pid)
}

// v1StreamSnapshot mirrors the machine_version-1 on-disk stream shape:
// listeners keyed directly by pid, valued by the writer pid last delivered
// to them (spec §9's "stream_id -> {pid -> leader_pid}" note) — the only
// kind of listener v1 supported. CatalogState and Sac didn't exist yet.
type v1StreamSnapshot struct {
	Id        StreamId         `json:"id"`
	Epoch     Epoch            `json:"epoch"`
	Nodes     []Node           `json:"nodes"`
	Members   []memberSnapshot `json:"members"`
	QueueRef  string           `json:"queue_ref"`
	Conf      Conf             `json:"conf"`
	Target    StreamTargetKind `json:"target"`
	ReplyTo ReplyAddr `json:"reply_to"`
	// Listeners is v1's raw shape: pid string -> leader_pid string, both in
	// Pid.String's "node/token" form.
	Listeners map[string]string `json:"listeners"`
}

type v1Snapshot struct {
	MachineVersion int                `json:"machine_version"`
	Streams        []v1StreamSnapshot `json:"streams"`
	Monitors       []monitorSnapshot  `json:"monitors"`
}

// DecodeSnapshot rebuilds a State from a Snapshot (or its JSON bytes). Raw
// JSON bytes tagged machine_version 1 are decoded through the legacy v1
// shape instead, preserving each stream's raw listener map in
// LegacyListeners for migrateV1ToV2 to rewrite once machine_version(1,2)
// replays.
func DecodeSnapshot(raw interface{}) (*State, error) {
	if b, ok := raw.([]byte); ok {
		var probe struct {
			MachineVersion int `json:"machine_version"`
		}
		if err := json.Unmarshal(b, &probe); err != nil {
			return nil, err
		}
		if probe.MachineVersion == 1 {
			return decodeV1Snapshot(b)
		}
	}

	var snap Snapshot
	switch v := raw.(type) {
	case Snapshot:
		snap = v
	case []byte:
		if err := json.Unmarshal(v, &snap); err != nil {
			return nil, err
		}
	default:
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &snap); err != nil {
			return nil, err
		}
	}

	s := &State{
		MachineVersion: snap.MachineVersion,
		Streams:        make(map[StreamId]*Stream, len(snap.Streams)),
		Monitors:       make(map[Pid]MonitorPurpose, len(snap.Monitors)),
		Sac:            snap.Sac,
	}
	for _, ss := range snap.Streams {
		stream := &Stream{
			Id: ss.Id, Epoch: ss.Epoch, Nodes: ss.Nodes, QueueRef: ss.QueueRef,
			Conf: ss.Conf, Target: ss.Target, ReplyTo: ss.ReplyTo, CatalogState: ss.CatalogState,
			Members:   make(map[Node]*Member, len(ss.Members)),
			Listeners: make(map[ListenerKey]ListenerPayload, len(ss.Listeners)),
		}
		for _, m := range ss.Members {
			stream.Members[m.Node] = &Member{
				Node: m.Node, Role: m.Role, State: m.State, Target: m.Target,
				Current: m.Current, Conf: m.Conf,
			}
		}
		for _, l := range ss.Listeners {
			stream.Listeners[l.Key] = l.Payload
		}
		s.Streams[ss.Id] = stream
	}
	for _, ms := range snap.Monitors {
		s.Monitors[ms.Pid] = ms.Purpose
	}
	if s.Sac.Inner == nil {
		s.Sac = NewSacState()
	}
	return s, nil
}

// decodeV1Snapshot rebuilds a State from a machine_version-1 snapshot.
// Listeners start empty in the new shape; each stream's raw pid->leader_pid
// map is kept in LegacyListeners until migrateV1ToV2 rewrites it.
func decodeV1Snapshot(b []byte) (*State, error) {
	var snap v1Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}

	s := &State{
		MachineVersion: snap.MachineVersion,
		Streams:        make(map[StreamId]*Stream, len(snap.Streams)),
		Monitors:       make(map[Pid]MonitorPurpose, len(snap.Monitors)),
		Sac:            NewSacState(),
	}
	for _, ss := range snap.Streams {
		legacy := make(map[Pid]Pid, len(ss.Listeners))
		for pidStr, leaderStr := range ss.Listeners {
			pid, err := parsePidString(pidStr)
			if err != nil {
				return nil, err
			}
			leaderPid, err := parsePidString(leaderStr)
			if err != nil {
				return nil, err
			}
			legacy[pid] = leaderPid
		}

		stream := &Stream{
			Id: ss.Id, Epoch: ss.Epoch, Nodes: ss.Nodes, QueueRef: ss.QueueRef,
			Conf: ss.Conf, Target: ss.Target, ReplyTo: ss.ReplyTo,
			Members:         make(map[Node]*Member, len(ss.Members)),
			Listeners:       make(map[ListenerKey]ListenerPayload),
			LegacyListeners: legacy,
		}
		for _, m := range ss.Members {
			stream.Members[m.Node] = &Member{
				Node: m.Node, Role: m.Role, State: m.State, Target: m.Target,
				Current: m.Current, Conf: m.Conf,
			}
		}
		s.Streams[ss.Id] = stream
	}
	for _, ms := range snap.Monitors {
		s.Monitors[ms.Pid] = ms.Purpose
	}
	return s, nil
}
