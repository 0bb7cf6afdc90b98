// Package coordinator implements the replicated, deterministic state
// machine that manages stream (append-only log queue) lifecycles across a
// cluster: writer election, replica placement, member start/stop
// orchestration across epochs, and listener notification.
package coordinator

import (
	"fmt"
	"strconv"
	"strings"
)

// StreamId globally identifies a stream. Opaque to the machine beyond
// equality and use as a map key.
type StreamId string

// Node identifies a cluster node. Opaque beyond equality.
type Node string

// Epoch is a monotonic, non-negative per-stream term counter. It strictly
// increases on every leader election.
type Epoch uint64

// Pid identifies a log process on a node.
type Pid struct {
	Node  Node
	Token uint64
}

func (p Pid) String() string {
	return fmt.Sprintf("%s/%d", p.Node, p.Token)
}

// IsZero reports whether p is the zero-value pid (no process).
func (p Pid) IsZero() bool {
	return p.Node == "" && p.Token == 0
}

// parsePidString parses the "node/token" form produced by Pid.String,
// which is how a legacy v1 snapshot's raw listener map keys and values are
// written on disk (Pid never implements encoding.TextMarshaler itself,
// since that would silently change the wire shape of every other place a
// Pid is embedded in a snapshot).
func parsePidString(s string) (Pid, error) {
	idx := strings.LastIndexByte(s, '/')
	if idx < 0 {
		return Pid{}, fmt.Errorf("coordinator: invalid pid %q", s)
	}
	token, err := strconv.ParseUint(s[idx+1:], 10, 64)
	if err != nil {
		return Pid{}, fmt.Errorf("coordinator: invalid pid %q: %w", s, err)
	}
	return Pid{Node: Node(s[:idx]), Token: token}, nil
}

// Index is the runtime's command index, used to correlate outstanding aux
// actions with the command that scheduled them.
type Index uint64

// Tail is the highest log position reported by a stopped member. The zero
// value is the "empty" tail, which sorts last in leader election.
type Tail struct {
	Epoch  Epoch
	Offset uint64
	Empty  bool
}

// EmptyTail is the tail of a member that has never run.
var EmptyTail = Tail{Empty: true}
