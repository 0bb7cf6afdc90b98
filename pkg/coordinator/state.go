package coordinator

// MonitorPurposeKind distinguishes why a pid is being watched.
type MonitorPurposeKind string

const (
	MonitorMember   MonitorPurposeKind = "member"
	MonitorListener MonitorPurposeKind = "listener"
	MonitorSac      MonitorPurposeKind = "sac"
)

// MonitorPurpose records why the runtime was asked to watch a pid.
type MonitorPurpose struct {
	Kind      MonitorPurposeKind
	StreamId  StreamId
	Node      Node
	StreamIds map[StreamId]struct{}
}

// State is the coordinator's full global machine state, the unit that gets
// snapshotted at release-cursor boundaries.
type State struct {
	MachineVersion int
	Streams        map[StreamId]*Stream
	Monitors       map[Pid]MonitorPurpose
	Sac            SacState
}

// NewState builds an empty machine state at the current machine version.
func NewState() *State {
	return &State{
		MachineVersion: CurrentMachineVersion,
		Streams:        make(map[StreamId]*Stream),
		Monitors:       make(map[Pid]MonitorPurpose),
		Sac:            NewSacState(),
	}
}

// Clone returns a deep-enough copy of s for tests that need two
// independently mutable machines starting from the same state.
func (s *State) Clone() *State {
	out := &State{
		MachineVersion: s.MachineVersion,
		Streams:        make(map[StreamId]*Stream, len(s.Streams)),
		Monitors:       make(map[Pid]MonitorPurpose, len(s.Monitors)),
		Sac:            s.Sac,
	}
	for id, st := range s.Streams {
		out.Streams[id] = cloneStream(st)
	}
	for pid, p := range s.Monitors {
		out.Monitors[pid] = p
	}
	return out
}

func cloneStream(s *Stream) *Stream {
	out := &Stream{
		Id:           s.Id,
		Epoch:        s.Epoch,
		Nodes:        append([]Node(nil), s.Nodes...),
		Members:      make(map[Node]*Member, len(s.Members)),
		QueueRef:     s.QueueRef,
		Conf:         s.Conf,
		Target:       s.Target,
		ReplyTo:      s.ReplyTo,
		CatalogState: s.CatalogState,
		Listeners:    make(map[ListenerKey]ListenerPayload, len(s.Listeners)),
	}
	for n, m := range s.Members {
		cp := *m
		out.Members[n] = &cp
	}
	for k, v := range s.Listeners {
		out.Listeners[k] = v
	}
	if s.LegacyListeners != nil {
		out.LegacyListeners = make(map[Pid]Pid, len(s.LegacyListeners))
		for k, v := range s.LegacyListeners {
			out.LegacyListeners[k] = v
		}
	}
	return out
}
