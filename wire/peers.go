package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/hashfleet/hashfleet/backoff"
	"github.com/hashfleet/hashfleet/election"
	"github.com/hashfleet/hashfleet/id"
)

// ── Peer ──────────────────────────────────────

// PeerState represents the connection state of a coordinator peer.
type PeerState string

const (
	PeerStateConnected    PeerState = "connected"
	PeerStateDisconnected PeerState = "disconnected"
	PeerStateConnecting   PeerState = "connecting"
)

// Peer represents a remote coordinator in the cluster.
type Peer struct {
	// NodeID identifies the remote coordinator.
	NodeID id.NodeID

	// URL is the WebSocket endpoint of the peer's wire server.
	URL string

	// Token is the authentication token for the peer.
	Token string

	// State tracks the connection state.
	State PeerState

	// LastSeen is the timestamp of the last frame from the peer.
	LastSeen time.Time

	// conn is the underlying WebSocket connection.
	conn net.Conn

	// pending tracks request-response correlation.
	pending sync.Map // frameID → chan *Frame

	// mu protects state updates.
	mu sync.RWMutex
}

// ── PeerMesh ───────────────────────────────────

// PeerMesh maintains authenticated WebSocket connections to the other
// coordinators and carries election traffic over them. It implements
// the election manager's Transport.
type PeerMesh struct {
	logger *slog.Logger

	// Peers keyed by node ID.
	peers sync.Map // id.NodeID → *Peer

	// Local identity for outgoing connections.
	self  id.NodeID
	token string

	// Heartbeat settings.
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	// Vote and announcement RPC deadline.
	requestTimeout time.Duration

	// Reconnection backoff.
	reconnect backoff.Strategy

	// Lifecycle.
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PeerMeshOption configures a PeerMesh.
type PeerMeshOption func(*PeerMesh)

// WithPeerToken sets the auth token used when connecting to peers.
func WithPeerToken(token string) PeerMeshOption {
	return func(m *PeerMesh) { m.token = token }
}

// WithPeerHeartbeat sets the peer ping interval and liveness timeout.
func WithPeerHeartbeat(interval, timeout time.Duration) PeerMeshOption {
	return func(m *PeerMesh) {
		m.heartbeatInterval = interval
		m.heartbeatTimeout = timeout
	}
}

// WithRequestTimeout bounds vote and announcement round trips.
func WithRequestTimeout(d time.Duration) PeerMeshOption {
	return func(m *PeerMesh) { m.requestTimeout = d }
}

// WithReconnectStrategy sets the backoff used between reconnect
// attempts to a lost peer.
func WithReconnectStrategy(s backoff.Strategy) PeerMeshOption {
	return func(m *PeerMesh) { m.reconnect = s }
}

// NewPeerMesh creates a peer mesh for the local coordinator.
func NewPeerMesh(self id.NodeID, logger *slog.Logger, opts ...PeerMeshOption) *PeerMesh {
	m := &PeerMesh{
		logger:            logger,
		self:              self,
		heartbeatInterval: 5 * time.Second,
		heartbeatTimeout:  15 * time.Second,
		requestTimeout:    5 * time.Second,
		reconnect:         backoff.DefaultReconnect(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins heartbeat monitoring and peer health checks.
func (m *PeerMesh) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.heartbeatLoop(ctx)
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.healthCheckLoop(ctx)
	}()
}

// Stop gracefully shuts down all peer connections.
func (m *PeerMesh) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.peers.Range(func(_, value any) bool {
		peer := value.(*Peer) //nolint:errcheck // sync.Map always stores *Peer
		m.disconnectPeer(peer)
		return true
	})
}

// ── Peer Management ────────────────────────────

// AddPeer registers and connects to a remote coordinator.
func (m *PeerMesh) AddPeer(ctx context.Context, nodeID id.NodeID, url string) error {
	peer := &Peer{
		NodeID: nodeID,
		URL:    url,
		Token:  m.token,
		State:  PeerStateDisconnected,
	}
	m.peers.Store(nodeID, peer)

	return m.connectPeer(ctx, peer)
}

// RemovePeer disconnects and removes a peer.
func (m *PeerMesh) RemovePeer(nodeID id.NodeID) {
	val, ok := m.peers.LoadAndDelete(nodeID)
	if !ok {
		return
	}
	m.disconnectPeer(val.(*Peer)) //nolint:errcheck // sync.Map always stores *Peer
}

// GetPeer returns a peer by node ID.
func (m *PeerMesh) GetPeer(nodeID id.NodeID) (*Peer, bool) {
	val, ok := m.peers.Load(nodeID)
	if !ok {
		return nil, false
	}
	return val.(*Peer), true //nolint:errcheck // sync.Map always stores *Peer
}

// Peers returns a snapshot of all peers.
func (m *PeerMesh) Peers() []*Peer {
	var peers []*Peer
	m.peers.Range(func(_, value any) bool {
		peers = append(peers, value.(*Peer)) //nolint:errcheck // sync.Map always stores *Peer
		return true
	})
	return peers
}

// Stats returns mesh connectivity counts.
func (m *PeerMesh) Stats() MeshStats {
	connected := 0
	total := 0
	m.peers.Range(func(_, value any) bool {
		total++
		peer := value.(*Peer) //nolint:errcheck // sync.Map always stores *Peer
		peer.mu.RLock()
		if peer.State == PeerStateConnected {
			connected++
		}
		peer.mu.RUnlock()
		return true
	})
	return MeshStats{TotalPeers: total, ConnectedPeers: connected}
}

// MeshStats contains peer mesh connectivity counts.
type MeshStats struct {
	TotalPeers     int `json:"total_peers"`
	ConnectedPeers int `json:"connected_peers"`
}

// ── election.Transport ─────────────────────────

var _ election.Transport = (*PeerMesh)(nil)

// RequestVote asks a peer to grant its vote for a term.
func (m *PeerMesh) RequestVote(ctx context.Context, target id.NodeID, req election.VoteRequest) (election.VoteResponse, error) {
	peer, ok := m.GetPeer(target)
	if !ok {
		return election.VoteResponse{}, fmt.Errorf("wire: unknown peer %s", target)
	}

	resp, err := m.peerRequest(ctx, peer, MethodVoteRequest, VoteRequestPayload{
		Term:      req.Term,
		Candidate: req.Candidate.String(),
	})
	if err != nil {
		return election.VoteResponse{}, fmt.Errorf("wire: vote request to %s: %w", target, err)
	}
	if resp.Type == FrameErr {
		msg := "unknown error"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return election.VoteResponse{}, fmt.Errorf("wire: peer %s rejected vote request: %s", target, msg)
	}

	var payload VoteResponsePayload
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		return election.VoteResponse{}, fmt.Errorf("wire: parse vote response from %s: %w", target, err)
	}
	return election.VoteResponse{Term: payload.Term, Granted: payload.Granted}, nil
}

// Announce tells a peer who leads the given term.
func (m *PeerMesh) Announce(ctx context.Context, target id.NodeID, ann election.Announcement) error {
	peer, ok := m.GetPeer(target)
	if !ok {
		return fmt.Errorf("wire: unknown peer %s", target)
	}

	resp, err := m.peerRequest(ctx, peer, MethodLeaderAnnounce, LeaderAnnouncement{
		Term:   ann.Term,
		Leader: ann.Leader.String(),
	})
	if err != nil {
		return fmt.Errorf("wire: announce to %s: %w", target, err)
	}
	if resp.Type == FrameErr {
		msg := "unknown error"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return fmt.Errorf("wire: peer %s rejected announcement: %s", target, msg)
	}
	return nil
}

// ── Connection Management ──────────────────────

func (m *PeerMesh) connectPeer(ctx context.Context, peer *Peer) error {
	peer.mu.Lock()
	peer.State = PeerStateConnecting
	peer.mu.Unlock()

	conn, _, _, err := ws.Dial(ctx, peer.URL)
	if err != nil {
		m.markDisconnected(peer)
		return fmt.Errorf("wire: dial peer %s: %w", peer.NodeID, err)
	}

	// Authenticate with the peer. Auth is always JSON.
	authFrame := &Frame{
		ID:     GenerateFrameID(),
		Type:   FrameRequest,
		Method: MethodAuth,
		Data: mustMarshalJSON(AuthRequest{
			Token:  peer.Token,
			NodeID: m.self.String(),
			Format: CodecNameJSON,
		}),
		Timestamp: time.Now().UTC(),
	}
	if writeErr := writeJSONFrame(conn, authFrame); writeErr != nil {
		conn.Close()
		m.markDisconnected(peer)
		return fmt.Errorf("wire: auth write to peer %s: %w", peer.NodeID, writeErr)
	}

	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		conn.Close()
		m.markDisconnected(peer)
		return fmt.Errorf("wire: auth read from peer %s: %w", peer.NodeID, err)
	}

	var resp Frame
	if err := json.Unmarshal(data, &resp); err != nil {
		conn.Close()
		m.markDisconnected(peer)
		return fmt.Errorf("wire: auth parse from peer %s: %w", peer.NodeID, err)
	}
	if resp.Type == FrameErr {
		conn.Close()
		m.markDisconnected(peer)
		msg := "auth failed"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return fmt.Errorf("wire: %s at peer %s", msg, peer.NodeID)
	}

	peer.mu.Lock()
	peer.conn = conn
	peer.State = PeerStateConnected
	peer.LastSeen = time.Now().UTC()
	peer.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.peerReadLoop(peer)
	}()

	m.logger.Info("peer connected",
		slog.String("peer", peer.NodeID.String()),
		slog.String("url", peer.URL),
	)
	return nil
}

func (m *PeerMesh) markDisconnected(peer *Peer) {
	peer.mu.Lock()
	peer.State = PeerStateDisconnected
	peer.mu.Unlock()
}

func (m *PeerMesh) disconnectPeer(peer *Peer) {
	peer.mu.Lock()
	defer peer.mu.Unlock()

	if peer.conn != nil {
		peer.conn.Close()
		peer.conn = nil
	}
	peer.State = PeerStateDisconnected
}

func (m *PeerMesh) peerReadLoop(peer *Peer) {
	for {
		peer.mu.RLock()
		conn := peer.conn
		state := peer.State
		peer.mu.RUnlock()

		if conn == nil || state != PeerStateConnected {
			return
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			m.logger.Warn("peer read error",
				slog.String("peer", peer.NodeID.String()),
				slog.String("error", err.Error()),
			)
			m.markDisconnected(peer)

			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.reconnectPeer(peer)
			}()
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		peer.mu.Lock()
		peer.LastSeen = time.Now().UTC()
		peer.mu.Unlock()

		switch frame.Type {
		case FrameResponse, FrameErr:
			// Resolve pending request.
			if val, ok := peer.pending.LoadAndDelete(frame.CorrelID); ok {
				ch := val.(chan *Frame) //nolint:errcheck // pending map always stores chan *Frame
				ch <- &frame
			}
		case FramePong:
			// Heartbeat response, LastSeen already updated.
		}
	}
}

func (m *PeerMesh) reconnectPeer(peer *Peer) {
	for attempt := 0; ; attempt++ {
		// Don't reconnect if the peer was removed.
		if _, exists := m.peers.Load(peer.NodeID); !exists {
			return
		}

		peer.mu.RLock()
		state := peer.State
		peer.mu.RUnlock()
		if state == PeerStateConnected {
			return
		}

		delay := m.reconnect.Delay(attempt)
		m.logger.Info("reconnecting to peer",
			slog.String("peer", peer.NodeID.String()),
			slog.Duration("backoff", delay),
		)
		time.Sleep(delay)

		if err := m.connectPeer(context.Background(), peer); err != nil {
			continue
		}
		return
	}
}

// ── Request/Response ───────────────────────────

func (m *PeerMesh) peerRequest(ctx context.Context, peer *Peer, method string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	frameID := GenerateFrameID()
	frame := &Frame{
		ID:        frameID,
		Type:      FrameRequest,
		Method:    method,
		NodeID:    m.self.String(),
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}

	ch := make(chan *Frame, 1)
	peer.pending.Store(frameID, ch)
	defer peer.pending.Delete(frameID)

	peer.mu.RLock()
	conn := peer.conn
	state := peer.State
	peer.mu.RUnlock()

	if conn == nil || state != PeerStateConnected {
		return nil, fmt.Errorf("peer not connected")
	}

	if err := writeJSONFrame(conn, frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.requestTimeout):
		return nil, fmt.Errorf("request timed out")
	}
}

// ── Heartbeat ──────────────────────────────────

func (m *PeerMesh) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sendPings()
		}
	}
}

func (m *PeerMesh) sendPings() {
	m.peers.Range(func(_, value any) bool {
		peer := value.(*Peer) //nolint:errcheck // sync.Map always stores *Peer
		peer.mu.RLock()
		conn := peer.conn
		state := peer.State
		peer.mu.RUnlock()

		if conn == nil || state != PeerStateConnected {
			return true
		}

		ping := &Frame{
			ID:        GenerateFrameID(),
			Type:      FramePing,
			NodeID:    m.self.String(),
			Timestamp: time.Now().UTC(),
		}
		if err := writeJSONFrame(conn, ping); err != nil {
			m.logger.Warn("peer ping failed",
				slog.String("peer", peer.NodeID.String()),
				slog.String("error", err.Error()),
			)
		}
		return true
	})
}

func (m *PeerMesh) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkPeerHealth()
		}
	}
}

func (m *PeerMesh) checkPeerHealth() {
	now := time.Now().UTC()
	m.peers.Range(func(_, value any) bool {
		peer := value.(*Peer) //nolint:errcheck // sync.Map always stores *Peer
		peer.mu.RLock()
		state := peer.State
		lastSeen := peer.LastSeen
		peer.mu.RUnlock()

		if state == PeerStateConnected && now.Sub(lastSeen) > m.heartbeatTimeout {
			m.logger.Warn("peer timed out",
				slog.String("peer", peer.NodeID.String()),
				slog.Duration("since_last_seen", now.Sub(lastSeen)),
			)
			m.disconnectPeer(peer)

			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.reconnectPeer(peer)
			}()
		}
		return true
	})
}

// ── Helpers ────────────────────────────────────

func writeJSONFrame(conn net.Conn, frame *Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return wsutil.WriteClientText(conn, data)
}

func mustMarshalJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("wire: marshal: " + err.Error())
	}
	return data
}
