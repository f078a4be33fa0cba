// Package wire implements the frame-based coordination protocol spoken
// between cluster nodes and operator tooling, transported over
// WebSocket. Cracking agents use it to heartbeat, receive work
// assignments and report progress; coordinator peers use it for
// election traffic; operators use it to submit jobs and query status.
package wire

import (
	"encoding/json"
	"time"

	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
	"github.com/hashfleet/hashfleet/scheduler"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameErr      FrameType = "error"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Frame is the protocol message envelope. Every message exchanged over
// the wire is a Frame.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Method names the operation for request frames (e.g., "job.submit").
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`

	// CorrelID links a response to its originating request.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`

	// Token carries auth credentials (typically only on the auth frame).
	Token string `json:"token,omitempty" msgpack:"token,omitempty"`

	// NodeID identifies the sending node for agent and peer traffic.
	NodeID string `json:"node_id,omitempty" msgpack:"node_id,omitempty"`

	// Data carries the method-specific payload.
	Data json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Channel identifies the subscription channel for event/subscribe frames.
	Channel string `json:"channel,omitempty" msgpack:"channel,omitempty"`

	// Credits replenishes flow-control credits (backpressure).
	Credits int `json:"credits,omitempty" msgpack:"credits,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in a response or error frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
	Details string `json:"details,omitempty" msgpack:"details,omitempty"`
}

// ── Well-known methods ──────────────────────────────

const (
	// Auth.
	MethodAuth = "auth"

	// Agent methods (node → leader).
	MethodHeartbeat      = "heartbeat"
	MethodProgressReport = "progress.report"
	MethodWorkResult     = "work.result"
	MethodDeregister     = "deregister"

	// Leader methods (leader → node, delivered as events or requests).
	MethodWorkAssign = "work.assign"
	MethodWorkStop   = "work.stop"

	// Election methods (peer → peer).
	MethodLeaderAnnounce = "leader.announce"
	MethodVoteRequest    = "vote.request"

	// Operator methods.
	MethodJobSubmit     = "job.submit"
	MethodJobGet        = "job.get"
	MethodJobCancel     = "job.cancel"
	MethodJobList       = "job.list"
	MethodStatus        = "status"
	MethodElectionForce = "election.force"

	// Subscription methods.
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"
)

// ── Well-known error codes ──────────────────────────

const (
	ErrCodeBadRequest     = 400
	ErrCodeUnauthorized   = 401
	ErrCodeForbidden      = 403
	ErrCodeNotFound       = 404
	ErrCodeMethodNotFound = 405
	ErrCodeConflict       = 409
	ErrCodeNotLeader      = 421
	ErrCodeTooManyReqs    = 429
	ErrCodeInternal       = 500
	ErrCodeUnavailable    = 503
)

// ── Request/Response payloads ───────────────────────

// AuthRequest is sent by clients to authenticate.
type AuthRequest struct {
	Token  string `json:"token"`
	NodeID string `json:"node_id,omitempty"`
	Format string `json:"format,omitempty"` // "json" (default) or "msgpack"
}

// AuthResponse is returned after successful authentication.
type AuthResponse struct {
	Format    string `json:"format"`
	SessionID string `json:"session_id"`
	Leader    string `json:"leader,omitempty"`
}

// HeartbeatRequest is an agent's periodic liveness and resource report.
type HeartbeatRequest struct {
	NodeID  string             `json:"node_id"`
	Addr    string             `json:"addr,omitempty"`
	Metrics membership.Metrics `json:"metrics"`
	At      time.Time          `json:"at"`
}

// ProgressReportRequest carries an agent's progress on its unit.
type ProgressReportRequest struct {
	NodeID   string           `json:"node_id"`
	UnitID   string           `json:"unit_id"`
	Fraction float64          `json:"fraction"`
	Cracked  []job.Credential `json:"cracked,omitempty"`
	At       time.Time        `json:"at"`
}

// WorkResultRequest carries an agent's final verdict on a unit.
type WorkResultRequest struct {
	NodeID  string `json:"node_id"`
	UnitID  string `json:"unit_id"`
	Outcome string `json:"outcome"` // "done" or "failed"
}

// WorkAssignment instructs an agent to start working a unit. The job
// fields carry the opaque tool invocation parameters.
type WorkAssignment struct {
	UnitID     string     `json:"unit_id"`
	JobID      string     `json:"job_id"`
	HashType   string     `json:"hash_type"`
	Hashes     []string   `json:"hashes"`
	Attack     job.Attack `json:"attack"`
	RangeStart uint64     `json:"range_start"`
	RangeEnd   uint64     `json:"range_end"`
}

// WorkStop instructs an agent to abandon a unit.
type WorkStop struct {
	UnitID string `json:"unit_id"`
}

// DeregisterRequest announces a graceful agent shutdown.
type DeregisterRequest struct {
	NodeID string `json:"node_id"`
}

// VoteRequestPayload solicits a peer's vote for a term.
type VoteRequestPayload struct {
	Term      uint64 `json:"term"`
	Candidate string `json:"candidate"`
}

// VoteResponsePayload carries the peer's decision.
type VoteResponsePayload struct {
	Term    uint64 `json:"term"`
	Granted bool   `json:"granted"`
}

// LeaderAnnouncement is a leader's periodic claim over the cluster.
type LeaderAnnouncement struct {
	Term   uint64 `json:"term"`
	Leader string `json:"leader"`
}

// JobSubmitRequest submits a new cracking job.
type JobSubmitRequest struct {
	Name       string     `json:"name"`
	HashType   string     `json:"hash_type"`
	Hashes     []string   `json:"hashes"`
	Attack     job.Attack `json:"attack"`
	Priority   int        `json:"priority,omitempty"`
	TotalSpace uint64     `json:"total_space"`
}

// JobSubmitResponse confirms job creation.
type JobSubmitResponse struct {
	JobID string `json:"job_id"`
	Units int    `json:"units"`
	State string `json:"state"`
}

// JobGetRequest retrieves a job's progress view by ID.
type JobGetRequest struct {
	JobID string `json:"job_id"`
}

// JobCancelRequest cancels a job.
type JobCancelRequest struct {
	JobID string `json:"job_id"`
}

// JobListRequest pages through jobs, optionally filtered by state.
type JobListRequest struct {
	State  string `json:"state,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// SubscribeRequest subscribes to a topic channel.
type SubscribeRequest struct {
	Channel string `json:"channel"`
	Credits int    `json:"credits,omitempty"` // Initial credits (0 = use default)
}

// UnsubscribeRequest removes a subscription.
type UnsubscribeRequest struct {
	Channel string `json:"channel"`
}

// ── Frame constructors ──────────────────────────────

// NewRequestFrame creates a new request frame.
func NewRequestFrame(frameID, method string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        frameID,
		Type:      FrameRequest,
		Method:    method,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewResponseFrame creates a response to a request.
func NewResponseFrame(correlID string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        GenerateFrameID(),
		Type:      FrameResponse,
		CorrelID:  correlID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewErrorFrame creates an error response to a request.
func NewErrorFrame(correlID string, code int, message string) *Frame {
	return &Frame{
		ID:       GenerateFrameID(),
		Type:     FrameErr,
		CorrelID: correlID,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewEventFrame creates an event frame for a subscription channel.
func NewEventFrame(channel string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        GenerateFrameID(),
		Type:      FrameEvent,
		Channel:   channel,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewAssignment builds the WorkAssignment for a unit of a job.
func NewAssignment(j *job.Job, u *job.WorkUnit) WorkAssignment {
	return WorkAssignment{
		UnitID:     u.ID.String(),
		JobID:      j.ID.String(),
		HashType:   j.HashType,
		Hashes:     j.Hashes,
		Attack:     j.Attack,
		RangeStart: u.Range.Start,
		RangeEnd:   u.Range.End,
	}
}

// GenerateFrameID returns a new unique frame ID.
func GenerateFrameID() string {
	return id.NewEventID().String()
}

// ── Outcome conversion ──────────────────────────────

// ParseOutcome maps a wire outcome string onto the scheduler's type.
func ParseOutcome(s string) (scheduler.Outcome, bool) {
	switch scheduler.Outcome(s) {
	case scheduler.OutcomeDone:
		return scheduler.OutcomeDone, true
	case scheduler.OutcomeFailed:
		return scheduler.OutcomeFailed, true
	default:
		return "", false
	}
}
