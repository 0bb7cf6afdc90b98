package coordinator

// PeerHandle abstracts the source runtime's process-identity model: every
// entity is a process with an opaque identifier monitored by a scheduler.
// The machine depends only on equality and node-of-pid, never on a
// concrete runtime's pid format, so PeerHandle carries exactly that.
type PeerHandle struct {
	node  Node
	token uint64
}

// NewPeerHandle builds a PeerHandle for node with a locally unique token.
func NewPeerHandle(node Node, token uint64) PeerHandle {
	return PeerHandle{node: node, token: token}
}

// Node returns the node this handle lives on.
func (h PeerHandle) Node() Node { return h.node }

// Pid converts the handle to the Pid type the Stream FSM operates on.
func (h PeerHandle) Pid() Pid { return Pid{Node: h.node, Token: h.token} }
