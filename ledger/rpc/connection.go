package rpc

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws/wsutil"
)

// Connection is one authenticated client of a Server.
type Connection struct {
	// ID uniquely identifies this connection.
	ID string

	// ConnectedAt records when the connection was established.
	ConnectedAt time.Time

	// LastActivity tracks the most recent frame received.
	LastActivity atomic.Value // time.Time

	conn    net.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	cancel func() // ledger subscription, nil when unsubscribed

	events chan *Frame
	done   chan struct{}
}

// NewConnection wraps an upgraded WebSocket connection. buffer bounds the
// events queued for a slow reader.
func NewConnection(id string, conn net.Conn, buffer int) *Connection {
	c := &Connection{
		ID:          id,
		ConnectedAt: time.Now().UTC(),
		conn:        conn,
		events:      make(chan *Frame, buffer),
		done:        make(chan struct{}),
	}
	c.LastActivity.Store(time.Now().UTC())
	return c
}

// Touch updates the last activity timestamp.
func (c *Connection) Touch() {
	c.LastActivity.Store(time.Now().UTC())
}

// Subscribed reports whether the connection receives ledger events.
func (c *Connection) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// write encodes and sends a frame as one binary message.
func (c *Connection) write(f *Frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerBinary(c.conn, data)
}

// enqueue queues an event frame without blocking. It reports false when
// the frame was dropped.
func (c *Connection) enqueue(f *Frame) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.events <- f:
		return true
	default:
		return false
	}
}

// subscribe records the cancel func of a ledger subscription. It reports
// false when the connection was already subscribed.
func (c *Connection) subscribe(cancel func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return false
	}
	c.cancel = cancel
	return true
}

// unsubscribe stops event delivery. It is safe to call repeatedly.
func (c *Connection) unsubscribe() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ConnectionManager tracks active connections.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionManager creates an empty connection manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		conns: make(map[string]*Connection),
	}
}

// Add registers a new connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.conns[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove unregisters a connection.
func (cm *ConnectionManager) Remove(connID string) {
	cm.mu.Lock()
	delete(cm.conns, connID)
	cm.mu.Unlock()
}

// Count returns the number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// All returns a snapshot of all connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]*Connection, 0, len(cm.conns))
	for _, c := range cm.conns {
		out = append(out, c)
	}
	return out
}
