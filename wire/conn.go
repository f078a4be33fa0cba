package wire

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/time/rate"

	"github.com/hashfleet/hashfleet/id"
)

// Connection represents an authenticated protocol connection.
type Connection struct {
	// ID uniquely identifies this connection.
	ID string

	// Identity is the authenticated identity for this connection.
	Identity *Identity

	// NodeID is set for agent connections after authentication; it is
	// id.Nil for operator connections.
	NodeID id.NodeID

	// Codec is the negotiated wire format.
	Codec Codec

	// ConnectedAt records when the connection was established.
	ConnectedAt time.Time

	// LastActivity tracks the most recent frame received.
	LastActivity atomic.Value // time.Time

	// Limiter throttles inbound frames on this connection.
	Limiter *rate.Limiter

	conn    net.Conn
	writeMu sync.Mutex

	// Subscriptions tracks active channel subscriptions.
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

// NewConnection creates a connection with the given ID and identity.
func NewConnection(connID string, netConn net.Conn, identity *Identity, codec Codec, limiter *rate.Limiter) *Connection {
	c := &Connection{
		ID:            connID,
		Identity:      identity,
		Codec:         codec,
		ConnectedAt:   time.Now().UTC(),
		Limiter:       limiter,
		conn:          netConn,
		subscriptions: make(map[string]struct{}),
	}
	c.LastActivity.Store(time.Now().UTC())
	return c
}

// Touch updates the last activity timestamp.
func (c *Connection) Touch() {
	c.LastActivity.Store(time.Now().UTC())
}

// Send encodes and writes a frame. Writes are serialized so the
// handler goroutine and the event forwarder never interleave payloads.
func (c *Connection) Send(frame *Frame) error {
	data, err := c.Codec.Encode(frame)
	if err != nil {
		return err
	}
	op := ws.OpText
	if c.Codec.Name() == CodecNameMsgpack {
		op = ws.OpBinary
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.conn, op, data)
}

// Close tears down the underlying socket.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// AddSubscription records a channel subscription.
func (c *Connection) AddSubscription(channel string) {
	c.mu.Lock()
	c.subscriptions[channel] = struct{}{}
	c.mu.Unlock()
}

// RemoveSubscription removes a channel subscription.
func (c *Connection) RemoveSubscription(channel string) {
	c.mu.Lock()
	delete(c.subscriptions, channel)
	c.mu.Unlock()
}

// Subscriptions returns a copy of active subscription channels.
func (c *Connection) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		out = append(out, ch)
	}
	return out
}

// ConnectionManager tracks active connections, indexed by connection
// ID and, for agents, by node ID.
type ConnectionManager struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	byNode map[id.NodeID]*Connection
}

// NewConnectionManager creates an empty connection manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		conns:  make(map[string]*Connection),
		byNode: make(map[id.NodeID]*Connection),
	}
}

// Add registers a new connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.conns[conn.ID] = conn
	if conn.NodeID != id.Nil {
		cm.byNode[conn.NodeID] = conn
	}
	cm.mu.Unlock()
}

// Remove unregisters a connection.
func (cm *ConnectionManager) Remove(connID string) {
	cm.mu.Lock()
	if c, ok := cm.conns[connID]; ok {
		delete(cm.conns, connID)
		if c.NodeID != id.Nil && cm.byNode[c.NodeID] == c {
			delete(cm.byNode, c.NodeID)
		}
	}
	cm.mu.Unlock()
}

// Get returns a connection by ID.
func (cm *ConnectionManager) Get(connID string) (*Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.conns[connID]
	return c, ok
}

// GetByNode returns the agent connection for a node.
func (cm *ConnectionManager) GetByNode(nodeID id.NodeID) (*Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.byNode[nodeID]
	return c, ok
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
