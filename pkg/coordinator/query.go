package coordinator

// WriterPidQuery asks for the current writer pid of a stream.
type WriterPidQuery struct{ StreamId StreamId }

// LocalPidQuery asks for the pid running on a specific node for a stream.
type LocalPidQuery struct {
	StreamId StreamId
	Node     Node
}

// MembersQuery asks for the full member roster of a stream.
type MembersQuery struct{ StreamId StreamId }

// MemberView is one row of a MembersQuery's answer.
type MemberView struct {
	Node  Node
	Pid   Pid
	Role  RoleKind
	State MemberStateKind
}

// ReadTailRequest is the payload of the "read_tail" pkg/mesh action a live
// process answers with a LiveTail, grounding add_replica's freshness gate
// (spec §7) in a real wire call instead of local state.
type ReadTailRequest struct {
	Node     Node
	StreamId StreamId
}

// LiveTail is a running process's current append position, tagged with the
// wall-clock time it was captured. Unlike Tail (the position a stopped
// member reports into the replicated log), it is read live from a running
// process and is never itself replicated; it exists only to ground
// add_replica's freshness gate (spec §7).
type LiveTail struct {
	Offset   uint64
	AsOfUnix int64
}

// Query answers the three read-only queries of spec §6.2 against the
// dispatcher's local state. Escalation from a local read to a quorum read
// is the caller's (pkg/raftrt.Querier's) responsibility; this method only
// ever performs a local read.
func (d *Dispatcher) Query(q interface{}) (interface{}, *Error) {
	switch query := q.(type) {
	case WriterPidQuery:
		s, ok := d.state.Streams[query.StreamId]
		if !ok {
			return nil, NewError(ErrStreamNotFound, "stream %s not found", query.StreamId)
		}
		w := s.Writer()
		if w == nil || w.State.Kind != StateRunning {
			return nil, NewError(ErrWriterNotFound, "stream %s has no running writer", query.StreamId)
		}
		return w.State.Pid, nil

	case LocalPidQuery:
		s, ok := d.state.Streams[query.StreamId]
		if !ok {
			return nil, NewError(ErrStreamNotFound, "stream %s not found", query.StreamId)
		}
		m, ok := s.Members[query.Node]
		if !ok || m.State.Kind != StateRunning {
			return nil, NewError(ErrNotFound, "no running member for %s on %s", query.StreamId, query.Node)
		}
		return m.State.Pid, nil

	case MembersQuery:
		s, ok := d.state.Streams[query.StreamId]
		if !ok {
			return nil, NewError(ErrStreamNotFound, "stream %s not found", query.StreamId)
		}
		views := make([]MemberView, 0, len(s.Members))
		for n, m := range s.Members {
			views = append(views, MemberView{Node: n, Pid: m.State.Pid, Role: m.Role.Kind, State: m.State.Kind})
		}
		return views, nil

	default:
		return nil, NewError(ErrUnknownCommand, "unrecognized query %T", q)
	}
}
