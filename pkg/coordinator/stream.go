package coordinator

// StreamTargetKind is a stream's desired end state.
type StreamTargetKind string

const (
	StreamTargetRunning StreamTargetKind = "running"
	StreamTargetDeleted StreamTargetKind = "deleted"
)

// CatalogSyncKind tracks whether the external catalog reflects the
// stream's current writer epoch.
type CatalogSyncKind string

const (
	CatalogUpdated  CatalogSyncKind = "updated"
	CatalogUpdating CatalogSyncKind = "updating"
)

// CatalogState is the last epoch published to the external catalog, and
// whether that publication is still in flight.
type CatalogState struct {
	Kind  CatalogSyncKind
	Epoch Epoch
}

// ListenerKind distinguishes what a listener wants to be told about.
type ListenerKind string

const (
	ListenerLeader      ListenerKind = "leader"
	ListenerLocalMember ListenerKind = "local_member"
)

// ListenerKey identifies one registered listener.
type ListenerKey struct {
	Pid  Pid
	Kind ListenerKind
	// Node scopes a ListenerLocalMember listener to one node; unused for
	// ListenerLeader.
	Node Node
}

// ListenerPayload is the last value notified to a listener: the writer's
// pid for a leader listener, or the last-known pid on the scoped node for
// a local_member listener.
type ListenerPayload struct {
	LastPid Pid
}

// ReplyAddr is an opaque address the dispatcher answers once a deferred
// reply condition (e.g. new_stream's writer becoming running) is met.
type ReplyAddr struct {
	Present bool
	Token   string
}

// Stream is the coordinator's per-stream state.
//
// Invariants (spec.md §3.3):
//  4. At most one member has Role.Kind == RoleWriter at the current Epoch
//     whose State is Ready or Running.
//  5. If any member has State.Epoch == e, then e <= stream.Epoch.
//  6. A new writer is selected only from members Stopped at stream.Epoch,
//     and only when those members form a quorum of len(Nodes).
type Stream struct {
	Id           StreamId
	Epoch        Epoch
	Nodes        []Node
	Members      map[Node]*Member
	QueueRef     string
	Conf         Conf
	Target       StreamTargetKind
	ReplyTo      ReplyAddr
	CatalogState CatalogState
	Listeners    map[ListenerKey]ListenerPayload

	// LegacyListeners holds a machine_version-1 snapshot's raw pid ->
	// leader_pid listener map, populated only by decodeV1Snapshot.
	// migrateV1ToV2 consumes and clears it; nil for anything decoded at
	// machine_version 2 or later.
	LegacyListeners map[Pid]Pid

	// PendingReply is set by the Stream FSM when a deferred reply
	// condition (spec §3.3 reply_to) is satisfied within this apply; the
	// dispatcher consumes and clears it after calling updateStream.
	PendingReply interface{}
}

// newStream builds an empty Stream shell shared by NewStream and tests.
func newStream(id StreamId, queueRef string) *Stream {
	return &Stream{
		Id:           id,
		Members:      make(map[Node]*Member),
		QueueRef:     queueRef,
		Target:       StreamTargetRunning,
		Listeners:    make(map[ListenerKey]ListenerPayload),
		CatalogState: CatalogState{Kind: CatalogUpdated, Epoch: 1},
	}
}

// Writer returns the member currently holding the writer role, if any.
func (s *Stream) Writer() *Member {
	for _, m := range s.Members {
		if m.Role.Kind == RoleWriter {
			return m
		}
	}
	return nil
}

// nonDeletedCount counts members whose target is not TargetDeleted.
func (s *Stream) nonDeletedCount() int {
	n := 0
	for _, m := range s.Members {
		if m.Target != TargetDeleted {
			n++
		}
	}
	return n
}

// quorum returns strictly more than half of n, or 1 when n == 1.
func quorum(n int) int {
	if n <= 1 {
		return 1
	}
	return n/2 + 1
}
