package bridge

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Connection is one websocket client: an id, the underlying
// *websocket.Conn, and a buffered outbound queue drained by a
// dedicated write pump so the read pump and driver goroutines never
// write to the socket directly.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	mu sync.Mutex
}

func newConnection(id string, ws *websocket.Conn) *Connection {
	return &Connection{ID: id, Conn: ws, Send: make(chan []byte, 256)}
}

// WriteMessage serializes writes to the socket; the write pump and any
// best-effort close frame are the only callers.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// enqueue attempts a non-blocking send and reports whether it was
// queued; on a full buffer it returns false at once rather than letting
// the driver goroutine block indefinitely. The connection stays open.
func (c *Connection) enqueue(data []byte) bool {
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// registry tracks live connections for the health/REST surface. It does
// not route events: driver events go straight back to the connection
// that opened the turn, and a session is never fanned out to several
// connections.
type registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

func newRegistry() *registry {
	return &registry{connections: make(map[string]*Connection)}
}

func (r *registry) add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[c.ID] = c
}

func (r *registry) remove(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connections[c.ID]; ok {
		delete(r.connections, c.ID)
		close(c.Send)
	}
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
