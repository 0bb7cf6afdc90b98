package coordinator

import "sync"

// NotificationSink receives Notification values emitted as dispatcher
// effects. It is the in-process delivery path used directly by tests and
// by any listener co-located with the dispatcher.
type NotificationSink interface {
	Deliver(n Notification)
}

// ChannelSink fans Notification values out over a buffered channel.
// Deliver drops a notification rather than blocking if the channel is
// full, since the machine itself must never block inside Apply.
type ChannelSink struct {
	mu sync.Mutex
	ch chan Notification
}

// NewChannelSink builds a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Notification, buffer)}
}

// Deliver implements NotificationSink.
func (s *ChannelSink) Deliver(n Notification) {
	select {
	case s.ch <- n:
	default:
	}
}

// C returns the channel notifications are delivered on.
func (s *ChannelSink) C() <-chan Notification { return s.ch }

// DispatchEffects walks a batch of effect payloads (raftrt.Effect.Payload
// values, not the Effect wrappers) and forwards every Notification to
// sink. Aux and monitor payloads are ignored; callers route those
// separately.
func DispatchEffects(effects []interface{}, sink NotificationSink) {
	for _, e := range effects {
		if n, ok := e.(Notification); ok {
			sink.Deliver(n)
		}
	}
}
