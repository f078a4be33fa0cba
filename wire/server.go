package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/time/rate"

	"github.com/hashfleet/hashfleet/engine"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/stream"
)

// Server accepts WebSocket connections from cracking agents, operator
// tooling, and coordinator peers, and bridges them to the engine. It
// also implements the scheduler's Sender so work assignments reach
// agents over their own connections.
type Server struct {
	eng          *engine.Engine
	handler      *Handler
	auth         Authenticator
	defaultCodec Codec
	conns        *ConnectionManager
	broker       *stream.Broker
	logger       *slog.Logger
	basePath     string
	rateLimit    rate.Limit
	rateBurst    int
	sendTimeout  time.Duration

	httpServer *http.Server
	baseCtx    context.Context
}

// NewServer creates a new wire server. Attach binds it to an engine
// before serving; the two-step construction lets the server act as the
// engine's assignment Sender while the engine is still being built.
func NewServer(opts ...Option) *Server {
	s := &Server{
		defaultCodec: &JSONCodec{},
		conns:        NewConnectionManager(),
		logger:       slog.Default(),
		basePath:     "/wire",
		rateLimit:    rate.Limit(200),
		rateBurst:    400,
		sendTimeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = &NoopAuthenticator{}
	}
	return s
}

// Attach binds the server to a built engine.
func (s *Server) Attach(eng *engine.Engine) {
	s.eng = eng
	s.broker = eng.Broker()
	s.handler = NewHandler(eng, s.logger)
}

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager { return s.conns }

// Serve accepts connections on the listener until the context is
// cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.eng == nil {
		return errors.New("wire: server not attached to an engine")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.basePath, s.handleUpgrade)

	s.baseCtx = ctx
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		//nolint:errcheck // listener is closing either way
		s.httpServer.Shutdown(shutCtx)
		for _, c := range s.conns.All() {
			c.Close()
		}
	}()

	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on addr and serves until the context is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("wire: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// handleUpgrade performs the WebSocket upgrade and hands the socket to
// the connection loop.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	go func() {
		if serveErr := s.serveConn(conn); serveErr != nil {
			s.logger.Debug("connection closed", "error", serveErr)
		}
	}()
}

// serveConn runs the full lifecycle of one client connection:
// auth handshake, codec negotiation, then the frame loop.
func (s *Server) serveConn(netConn net.Conn) error {
	defer netConn.Close()

	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	connID := GenerateFrameID()

	// Wait for the auth frame. Auth frames are always JSON (before
	// codec negotiation).
	authData, err := wsutil.ReadClientText(netConn)
	if err != nil {
		return fmt.Errorf("wire: read auth frame: %w", err)
	}

	var authFrame Frame
	if err := json.Unmarshal(authData, &authFrame); err != nil {
		s.rejectJSON(netConn, NewErrorFrame("", ErrCodeBadRequest, "invalid auth frame"))
		return fmt.Errorf("wire: unmarshal auth frame: %w", err)
	}
	if authFrame.Method != MethodAuth {
		s.rejectJSON(netConn, NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "first frame must be auth"))
		return fmt.Errorf("wire: expected auth frame, got %q", authFrame.Method)
	}

	var authReq AuthRequest
	if len(authFrame.Data) > 0 {
		if err := json.Unmarshal(authFrame.Data, &authReq); err != nil {
			s.rejectJSON(netConn, NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "invalid auth data"))
			return err
		}
	}

	token := authReq.Token
	if token == "" {
		token = authFrame.Token
	}
	identity, authErr := s.auth.Authenticate(ctx, token)
	if authErr != nil {
		s.rejectJSON(netConn, NewErrorFrame(authFrame.ID, ErrCodeUnauthorized, "authentication failed"))
		return fmt.Errorf("wire: auth failed: %w", authErr)
	}

	// Negotiate codec.
	codec := s.defaultCodec
	if authReq.Format != "" {
		codec = GetCodec(authReq.Format)
	}

	// Bind the connection to a node for agent identities. The token's
	// pinned node wins over the client's claim.
	nodeID, bindErr := s.bindNode(identity, authReq.NodeID)
	if bindErr != nil {
		s.rejectJSON(netConn, NewErrorFrame(authFrame.ID, ErrCodeBadRequest, bindErr.Error()))
		return bindErr
	}

	var limiter *rate.Limiter
	if s.rateLimit > 0 {
		limiter = rate.NewLimiter(s.rateLimit, s.rateBurst)
	}

	conn := NewConnection(connID, netConn, identity, codec, limiter)
	conn.NodeID = nodeID
	s.conns.Add(conn)
	defer func() {
		s.broker.RemoveSubscriber(connID)
		s.conns.Remove(connID)
		s.logger.Info("connection closed", "conn_id", connID, "subject", identity.Subject)
	}()

	leader := ""
	if l, ok := s.eng.Leader(); ok {
		leader = l.String()
	}
	resp, respErr := NewResponseFrame(authFrame.ID, AuthResponse{
		Format:    codec.Name(),
		SessionID: connID,
		Leader:    leader,
	})
	if respErr != nil {
		return fmt.Errorf("wire: marshal auth response: %w", respErr)
	}
	// The whole handshake is JSON; the negotiated codec applies only to
	// frames after the auth response.
	respData, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		return fmt.Errorf("wire: marshal auth response: %w", marshalErr)
	}
	if err := wsutil.WriteServerMessage(netConn, ws.OpText, respData); err != nil {
		return err
	}

	s.logger.Info("connection authenticated",
		"conn_id", connID,
		"subject", identity.Subject,
		"node_id", nodeID,
		"codec", codec.Name(),
	)

	// Forward broker events to the socket.
	sub := s.broker.Subscribe(connID)
	go s.forwardEvents(conn, sub)

	return s.frameLoop(ctx, conn, sub)
}

// bindNode resolves the node an agent connection speaks for.
func (s *Server) bindNode(identity *Identity, claimed string) (id.NodeID, error) {
	raw := identity.NodeID
	if raw == "" {
		raw = claimed
	}
	if raw == "" {
		return id.Nil, nil
	}
	nodeID, err := id.ParseNodeID(raw)
	if err != nil {
		return id.Nil, fmt.Errorf("wire: invalid node ID %q: %w", raw, err)
	}
	return nodeID, nil
}

// frameLoop reads, authorizes, and dispatches frames until the
// connection drops.
func (s *Server) frameLoop(ctx context.Context, conn *Connection, sub *stream.Subscriber) error {
	for {
		data, _, err := wsutil.ReadClientData(conn.conn)
		if err != nil {
			return nil // Connection closed.
		}

		conn.Touch()

		if conn.Limiter != nil && !conn.Limiter.Allow() {
			s.writeOrWarn(conn, NewErrorFrame("", ErrCodeTooManyReqs, "rate limit exceeded"))
			continue
		}

		frame, decErr := conn.Codec.Decode(data)
		if decErr != nil {
			s.writeOrWarn(conn, NewErrorFrame("", ErrCodeBadRequest, "invalid frame: "+decErr.Error()))
			continue
		}

		if frame.Type == FramePing {
			s.writeOrWarn(conn, &Frame{
				ID:        GenerateFrameID(),
				Type:      FramePong,
				CorrelID:  frame.ID,
				Timestamp: frame.Timestamp,
			})
			continue
		}

		if frame.Method != "" {
			reqScope := RequiredScope(frame.Method)
			if reqScope != "" && !conn.Identity.HasScope(reqScope) {
				s.writeOrWarn(conn, NewErrorFrame(frame.ID, ErrCodeForbidden, "insufficient permissions"))
				continue
			}
		}

		// Credits replenishment for the event subscription.
		if frame.Credits > 0 {
			sub.AddCredits(int64(frame.Credits))
			continue
		}

		respFrame := s.handler.Handle(ctx, frame, conn)
		if respFrame == nil {
			continue
		}

		// Subscribe/unsubscribe side effects after a successful
		// response.
		if frame.Method == MethodSubscribe && respFrame.Type == FrameResponse {
			var subReq SubscribeRequest
			if json.Unmarshal(frame.Data, &subReq) == nil {
				s.broker.SubscribeTo(conn.ID, subReq.Channel)
				conn.AddSubscription(subReq.Channel)
				if subReq.Credits > 0 {
					sub.AddCredits(int64(subReq.Credits))
				}
			}
		} else if frame.Method == MethodUnsubscribe && respFrame.Type == FrameResponse {
			var unsubReq UnsubscribeRequest
			if json.Unmarshal(frame.Data, &unsubReq) == nil {
				s.broker.Unsubscribe(conn.ID, unsubReq.Channel)
				conn.RemoveSubscription(unsubReq.Channel)
			}
		}

		s.writeOrWarn(conn, respFrame)
	}
}

// forwardEvents reads from the subscriber channel and writes events to
// the socket.
func (s *Server) forwardEvents(conn *Connection, sub *stream.Subscriber) {
	for evt := range sub.C() {
		evtFrame, err := NewEventFrame(evt.Topic, evt)
		if err != nil {
			continue
		}
		if writeErr := conn.Send(evtFrame); writeErr != nil {
			return // Connection gone.
		}
	}
}

func (s *Server) writeOrWarn(conn *Connection, frame *Frame) {
	if err := conn.Send(frame); err != nil {
		s.logger.Warn("frame write failed", "conn_id", conn.ID, "error", err)
	}
}

// rejectJSON writes a best-effort JSON error frame before disconnect.
func (s *Server) rejectJSON(netConn net.Conn, frame *Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	//nolint:errcheck // connection is being dropped either way
	wsutil.WriteServerText(netConn, data)
}

// ── scheduler.Sender ────────────────────────────────

// SendAssignment delivers a work assignment to the agent connection of
// the target node. Failing when no agent is connected lets the
// scheduler roll the assignment back instead of stranding the unit.
func (s *Server) SendAssignment(ctx context.Context, nodeID id.NodeID, j *job.Job, u *job.WorkUnit) error {
	conn, ok := s.conns.GetByNode(nodeID)
	if !ok {
		return fmt.Errorf("wire: no connected agent for node %s", nodeID)
	}

	frame, err := NewRequestFrame(GenerateFrameID(), MethodWorkAssign, NewAssignment(j, u))
	if err != nil {
		return fmt.Errorf("wire: encode assignment: %w", err)
	}
	return s.sendBounded(ctx, conn, frame)
}

// SendStop tells the agent holding a unit to abandon it.
func (s *Server) SendStop(ctx context.Context, nodeID id.NodeID, unitID id.UnitID) error {
	conn, ok := s.conns.GetByNode(nodeID)
	if !ok {
		return fmt.Errorf("wire: no connected agent for node %s", nodeID)
	}

	frame, err := NewRequestFrame(GenerateFrameID(), MethodWorkStop, WorkStop{UnitID: unitID.String()})
	if err != nil {
		return fmt.Errorf("wire: encode stop: %w", err)
	}
	return s.sendBounded(ctx, conn, frame)
}

// sendBounded writes a frame with a deadline so one stalled agent
// socket cannot block the coordination loop.
func (s *Server) sendBounded(ctx context.Context, conn *Connection, frame *Frame) error {
	deadline := time.Now().Add(s.sendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	//nolint:errcheck // best effort, Send surfaces the real failure
	conn.conn.SetWriteDeadline(deadline)
	defer conn.conn.SetWriteDeadline(time.Time{})
	return conn.Send(frame)
}
