package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamio/streamcoordinator/pkg/coordinator"
	"github.com/streamio/streamcoordinator/pkg/core"
)

// upgrader is shared across connections; origin checking is left to
// whatever reverse proxy terminates TLS in front of this service.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NotificationHub fans coordinator.Notification values out to WebSocket
// clients subscribed to a queue_ref, giving remote listeners the same
// stream_leader_change/stream_local_member_change/eol delivery a
// co-located listener pid gets in-process (pkg/coordinator/notify.go).
type NotificationHub struct {
	mu      sync.Mutex
	clients map[string]map[*websocket.Conn]struct{}
	logger  core.Logger
}

// NewNotificationHub builds an empty hub.
func NewNotificationHub(logger core.Logger) *NotificationHub {
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return &NotificationHub{clients: make(map[string]map[*websocket.Conn]struct{}), logger: logger}
}

// ServeWS upgrades the request to a WebSocket and subscribes it to the
// queue_ref named by the "queue_ref" query parameter.
func (h *NotificationHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	queueRef := r.URL.Query().Get("queue_ref")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("ws: upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	set, ok := h.clients[queueRef]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		h.clients[queueRef] = set
	}
	set[conn] = struct{}{}
	h.mu.Unlock()

	go h.readPump(queueRef, conn)
}

// readPump drains control frames and drops the connection once the peer
// closes, pruning it from the subscriber set.
func (h *NotificationHub) readPump(queueRef string, conn *websocket.Conn) {
	defer h.remove(queueRef, conn)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *NotificationHub) remove(queueRef string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[queueRef]; ok {
		delete(set, conn)
	}
	conn.Close()
}

// Deliver implements coordinator.NotificationSink, broadcasting n to every
// client subscribed to n.QueueRef.
func (h *NotificationHub) Deliver(n coordinator.Notification) {
	h.mu.Lock()
	set := h.clients[n.QueueRef]
	conns := make([]*websocket.Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(n); err != nil {
			h.remove(n.QueueRef, c)
		}
	}
}
