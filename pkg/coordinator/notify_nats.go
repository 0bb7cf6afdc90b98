package coordinator

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NatsSink publishes Notification values to a per-stream NATS subject so
// API-layer WebSocket clients (pkg/api/ws.go) receive the same
// notifications a co-located listener pid would, without requiring the
// listener to run on the same node as the dispatcher.
type NatsSink struct {
	conn   *nats.Conn
	prefix string
}

// NewNatsSink builds a NatsSink publishing under "<prefix>.<queue_ref>".
func NewNatsSink(conn *nats.Conn, subjectPrefix string) *NatsSink {
	if subjectPrefix == "" {
		subjectPrefix = "coordinator.notify"
	}
	return &NatsSink{conn: conn, prefix: subjectPrefix}
}

// Deliver implements NotificationSink.
func (s *NatsSink) Deliver(n Notification) {
	subject := fmt.Sprintf("%s.%s", s.prefix, n.QueueRef)
	body, err := json.Marshal(n)
	if err != nil {
		return
	}
	_ = s.conn.Publish(subject, body)
}

// Subject returns the subject a given queue ref's notifications are
// published on, for subscribers to mirror.
func (s *NatsSink) Subject(queueRef string) string {
	return fmt.Sprintf("%s.%s", s.prefix, queueRef)
}
