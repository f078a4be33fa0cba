// Package client provides a Go client for the hashfleet wire protocol
// over WebSocket. It serves both sides of the fleet: operator tooling
// submits and watches jobs, and cracking agents heartbeat, receive
// work assignments, and report progress.
//
// Usage:
//
//	c, err := client.Dial("ws://coordinator:9400/wire",
//	    client.WithToken("hf_..."),
//	)
//	defer c.Close()
//
//	// Submit a job.
//	res, err := c.SubmitJob(ctx, client.JobSpec{
//	    Name:       "ntlm-batch",
//	    HashType:   "ntlm",
//	    Hashes:     hashes,
//	    TotalSpace: 14344384,
//	})
//
//	// Watch its events.
//	ch, err := c.WatchJob(ctx, res.JobID)
//	for evt := range ch {
//	    fmt.Printf("%s: %s\n", evt.Topic, evt.Type)
//	}
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/hashfleet/hashfleet/backoff"
	"github.com/hashfleet/hashfleet/stream"
	"github.com/hashfleet/hashfleet/wire"
)

// Client is a wire protocol client connected to a coordinator.
type Client struct {
	url    string
	token  string
	nodeID string
	format string
	codec  wire.Codec
	logger *slog.Logger

	// Reconnection.
	reconnect    bool
	maxRetries   int
	retryBackoff backoff.Strategy

	// Connection state.
	conn      net.Conn
	mu        sync.Mutex
	closed    atomic.Bool
	sessionID string
	leader    atomic.Value // string

	// Request-response correlation.
	pending sync.Map // frameID → chan *wire.Frame

	// Subscriptions.
	subs sync.Map // channel → chan *stream.Event

	// Agent command handlers.
	onAssign atomic.Value // func(context.Context, wire.WorkAssignment)
	onStop   atomic.Value // func(context.Context, string)
}

// Dial connects to a coordinator and authenticates.
func Dial(url string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), url, opts...)
}

// DialContext connects to a coordinator with a context.
func DialContext(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:          url,
		format:       wire.CodecNameJSON,
		logger:       slog.Default(),
		maxRetries:   5,
		retryBackoff: backoff.DefaultReconnect(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("hashfleet/client: dial: %w", err)
	}

	// Start the read loop.
	go c.readLoop()

	return c, nil
}

// connect establishes the WebSocket connection and sends the auth
// frame. It reads the auth response directly since the readLoop hasn't
// started yet.
func (c *Client) connect(ctx context.Context) error {
	conn, _, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	// The handshake is always JSON; the negotiated codec takes over
	// once the server confirms it in the auth response.
	c.codec = &wire.JSONCodec{}

	authFrame := &wire.Frame{
		ID:     wire.GenerateFrameID(),
		Type:   wire.FrameRequest,
		Method: wire.MethodAuth,
		Token:  c.token,
	}
	authData, marshalErr := json.Marshal(wire.AuthRequest{
		Token:  c.token,
		NodeID: c.nodeID,
		Format: c.format,
	})
	if marshalErr != nil {
		conn.Close()
		return fmt.Errorf("marshal auth request: %w", marshalErr)
	}
	authFrame.Data = authData
	authFrame.Timestamp = time.Now().UTC()

	if writeErr := c.writeFrame(authFrame); writeErr != nil {
		conn.Close()
		return fmt.Errorf("write auth frame: %w", writeErr)
	}

	// Read the auth response directly from the WebSocket. The readLoop
	// hasn't been started yet (DialContext starts it after connect
	// returns).
	type readResult struct {
		resp *wire.Frame
		err  error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		data, readErr := wsutil.ReadServerText(conn)
		if readErr != nil {
			resultCh <- readResult{err: fmt.Errorf("read auth response: %w", readErr)}
			return
		}
		var frame wire.Frame
		if unmarshalErr := json.Unmarshal(data, &frame); unmarshalErr != nil {
			resultCh <- readResult{err: fmt.Errorf("unmarshal auth response: %w", unmarshalErr)}
			return
		}
		resultCh <- readResult{resp: &frame}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			conn.Close()
			return result.err
		}
		resp := result.resp
		if resp.Type == wire.FrameErr {
			conn.Close()
			msg := "unknown error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return fmt.Errorf("auth failed: %s", msg)
		}
		var authResp wire.AuthResponse
		if len(resp.Data) > 0 {
			if unmarshalErr := json.Unmarshal(resp.Data, &authResp); unmarshalErr != nil {
				c.logger.Warn("failed to unmarshal auth response", slog.String("error", unmarshalErr.Error()))
			}
		}
		c.sessionID = authResp.SessionID
		c.leader.Store(authResp.Leader)
		c.codec = wire.GetCodec(authResp.Format)
		c.logger.Info("client connected",
			slog.String("session_id", c.sessionID),
			slog.String("format", authResp.Format),
			slog.String("leader", authResp.Leader),
		)
		return nil
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	case <-time.After(10 * time.Second):
		conn.Close()
		return fmt.Errorf("auth timeout")
	}
}

// readLoop reads frames from the WebSocket and dispatches them.
func (c *Client) readLoop() {
	for {
		if c.closed.Load() {
			return
		}

		data, _, err := wsutil.ReadServerData(c.conn)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("client read error", slog.String("error", err.Error()))
			if c.reconnect {
				c.tryReconnect()
			}
			return
		}

		frame, decErr := c.codec.Decode(data)
		if decErr != nil {
			c.logger.Warn("client: invalid frame", slog.String("error", decErr.Error()))
			continue
		}

		// Route the frame.
		switch frame.Type {
		case wire.FrameResponse, wire.FrameErr:
			// Correlate with pending request.
			if val, ok := c.pending.Load(frame.CorrelID); ok {
				ch := val.(chan *wire.Frame) //nolint:errcheck // pending map always stores chan *wire.Frame
				select {
				case ch <- frame:
				default:
				}
			}
		case wire.FrameEvent:
			// Route to subscription channel.
			if val, ok := c.subs.Load(frame.Channel); ok {
				ch := val.(chan *stream.Event) //nolint:errcheck // subs map always stores chan *stream.Event
				var evt stream.Event
				if len(frame.Data) > 0 && json.Unmarshal(frame.Data, &evt) == nil {
					select {
					case ch <- &evt:
					default:
						// Drop if subscriber is slow.
					}
				}
			}
		case wire.FrameRequest:
			// Leader commands for agents.
			c.dispatchCommand(frame)
		case wire.FramePong:
			// Ignore pong frames.
		}
	}
}

// dispatchCommand routes work.assign and work.stop commands from the
// leader to the registered agent handlers.
func (c *Client) dispatchCommand(frame *wire.Frame) {
	switch frame.Method {
	case wire.MethodWorkAssign:
		fn, ok := c.onAssign.Load().(func(context.Context, wire.WorkAssignment))
		if !ok || fn == nil {
			c.logger.Warn("assignment received with no handler registered")
			return
		}
		var assignment wire.WorkAssignment
		if err := json.Unmarshal(frame.Data, &assignment); err != nil {
			c.logger.Warn("client: invalid assignment", slog.String("error", err.Error()))
			return
		}
		go fn(context.Background(), assignment)
	case wire.MethodWorkStop:
		fn, ok := c.onStop.Load().(func(context.Context, string))
		if !ok || fn == nil {
			return
		}
		var stop wire.WorkStop
		if err := json.Unmarshal(frame.Data, &stop); err != nil {
			c.logger.Warn("client: invalid stop", slog.String("error", err.Error()))
			return
		}
		go fn(context.Background(), stop.UnitID)
	}
}

// tryReconnect attempts to reconnect with backoff.
func (c *Client) tryReconnect() {
	for i := range c.maxRetries {
		delay := c.retryBackoff.Delay(i)
		c.logger.Info("client reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		time.Sleep(delay)

		if err := c.connect(context.Background()); err != nil {
			c.logger.Warn("client reconnect failed", slog.String("error", err.Error()))
			continue
		}

		c.logger.Info("client reconnected")
		go c.readLoop()
		return
	}
	c.logger.Error("client: max reconnection attempts reached")
}

// request sends a request frame and waits for the correlated response.
func (c *Client) request(ctx context.Context, method string, data any) (*wire.Frame, error) {
	frame := &wire.Frame{
		ID:        wire.GenerateFrameID(),
		Type:      wire.FrameRequest,
		Method:    method,
		NodeID:    c.nodeID,
		Timestamp: time.Now().UTC(),
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal request data: %w", err)
		}
		frame.Data = raw
	}

	respCh := make(chan *wire.Frame, 1)
	c.pending.Store(frame.ID, respCh)
	defer c.pending.Delete(frame.ID)

	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Type == wire.FrameErr {
			msg := "unknown error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return nil, fmt.Errorf("wire error: %s", msg)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// writeFrame encodes and sends a frame over the WebSocket. Msgpack
// frames go out as binary messages, JSON as text.
func (c *Client) writeFrame(frame *wire.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.codec.Encode(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if c.codec.Name() == wire.CodecNameMsgpack {
		return wsutil.WriteClientBinary(c.conn, data)
	}
	return wsutil.WriteClientText(c.conn, data)
}

// SessionID returns the session ID assigned by the server.
func (c *Client) SessionID() string { return c.sessionID }

// Leader returns the leader node ID reported at connect time, if any.
func (c *Client) Leader() string {
	if l, ok := c.leader.Load().(string); ok {
		return l
	}
	return ""
}

// Close closes the client connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	// Close all subscription channels.
	c.subs.Range(func(key, val any) bool {
		ch := val.(chan *stream.Event) //nolint:errcheck // subs map always stores chan *stream.Event
		close(ch)
		c.subs.Delete(key)
		return true
	})

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
