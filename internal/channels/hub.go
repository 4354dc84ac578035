package channels

import (
	"sync"

	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// Conn is one live client connection attached to the hub. The outer
// transport (websocket handler, SSE writer) reads from Events and
// forwards to the wire.
type Conn struct {
	userID string
	events chan notification.Event
}

// Events returns the connection's delivery stream.
func (c *Conn) Events() <-chan notification.Event {
	return c.events
}

// Hub is the in-process registry of live socket connections, keyed by
// user. It also owns the reconnect hooks that trigger offline-queue
// drains when a user comes back online.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string][]*Conn
	onConnect []func(userID string)
}

// NewHub creates an empty connection hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string][]*Conn)}
}

// OnConnect registers a hook invoked (on its own goroutine) every time
// a user gains a connection. Hooks must be registered before serving.
func (h *Hub) OnConnect(fn func(userID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, fn)
}

// Connect attaches a new connection for userID with the given delivery
// buffer and fires the reconnect hooks.
func (h *Hub) Connect(userID string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 16
	}
	conn := &Conn{userID: userID, events: make(chan notification.Event, buffer)}

	h.mu.Lock()
	h.conns[userID] = append(h.conns[userID], conn)
	hooks := h.onConnect
	h.mu.Unlock()

	for _, fn := range hooks {
		go fn(userID)
	}
	return conn
}

// Disconnect detaches a connection and closes its stream.
func (h *Hub) Disconnect(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.conns[conn.userID]
	for i, c := range conns {
		if c == conn {
			h.conns[conn.userID] = append(conns[:i], conns[i+1:]...)
			close(c.events)
			break
		}
	}
	if len(h.conns[conn.userID]) == 0 {
		delete(h.conns, conn.userID)
	}
}

// Connected reports whether the user has at least one live connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

// Publish delivers the event to every live connection of the user and
// returns how many connections accepted it. Connections with a full
// buffer are skipped; a slow client must not block dispatch.
func (h *Hub) Publish(userID string, event notification.Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, c := range h.conns[userID] {
		select {
		case c.events <- event:
			delivered++
		default:
		}
	}
	return delivered
}
