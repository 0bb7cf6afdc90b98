package coordinator

import (
	"encoding/json"
	"time"
)

// Conf is the configuration snapshot shipped to members and to the
// catalog. Its full grammar is left open by the specification; the machine
// only reads Retention and rewrites LeaderNode/ReplicaNodes/Epoch/Reference
// into shipped copies. Anything else callers put in Extra rides along
// opaque to the machine.
type Conf struct {
	Retention    time.Duration   `json:"retention"`
	LeaderNode   Node            `json:"leader_node"`
	ReplicaNodes []Node          `json:"replica_nodes"`
	Epoch        Epoch           `json:"epoch"`
	Reference    string          `json:"reference"`
	Extra        json.RawMessage `json:"extra,omitempty"`
}

// WithEpoch returns a copy of c shipped for epoch e, with LeaderNode and
// ReplicaNodes rewritten from nodes.
func (c Conf) WithEpoch(e Epoch, leader Node, replicas []Node) Conf {
	out := c
	out.Epoch = e
	out.LeaderNode = leader
	out.ReplicaNodes = append([]Node(nil), replicas...)
	return out
}

// SameRetention reports whether two confs specify the same retention.
func (c Conf) SameRetention(other Conf) bool {
	return c.Retention == other.Retention
}
