package wire

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/election"
	"github.com/hashfleet/hashfleet/engine"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/progress"
	"github.com/hashfleet/hashfleet/stream"
)

// Handler dispatches request frames to engine operations.
type Handler struct {
	eng    *engine.Engine
	broker *stream.Broker
	logger *slog.Logger
}

// NewHandler creates a new method handler.
func NewHandler(eng *engine.Engine, logger *slog.Logger) *Handler {
	return &Handler{eng: eng, broker: eng.Broker(), logger: logger}
}

// Handle processes a single request frame and returns a response.
func (h *Handler) Handle(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	switch frame.Method {
	case MethodHeartbeat:
		return h.handleHeartbeat(ctx, frame, conn)
	case MethodProgressReport:
		return h.handleProgressReport(ctx, frame, conn)
	case MethodWorkResult:
		return h.handleWorkResult(ctx, frame, conn)
	case MethodDeregister:
		return h.handleDeregister(ctx, frame, conn)
	case MethodVoteRequest:
		return h.handleVoteRequest(frame)
	case MethodLeaderAnnounce:
		return h.handleLeaderAnnounce(frame)
	case MethodJobSubmit:
		return h.handleJobSubmit(ctx, frame)
	case MethodJobGet:
		return h.handleJobGet(ctx, frame)
	case MethodJobCancel:
		return h.handleJobCancel(ctx, frame)
	case MethodJobList:
		return h.handleJobList(ctx, frame)
	case MethodStatus:
		return h.handleStatus(ctx, frame)
	case MethodElectionForce:
		return h.handleElectionForce(ctx, frame)
	case MethodSubscribe:
		return h.handleSubscribe(frame)
	case MethodUnsubscribe:
		return h.handleUnsubscribe(frame)
	default:
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method: "+frame.Method)
	}
}

// mustResponseFrame creates a response frame, returning an error frame on marshal failure.
func mustResponseFrame(frameID string, data any) *Frame {
	resp, err := NewResponseFrame(frameID, data)
	if err != nil {
		return NewErrorFrame(frameID, ErrCodeInternal, "marshal response: "+err.Error())
	}
	return resp
}

// errorCode maps engine errors onto wire error codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, hashfleet.ErrNotLeader),
		errors.Is(err, hashfleet.ErrNoLeader):
		return ErrCodeNotLeader
	case errors.Is(err, hashfleet.ErrReconciling):
		return ErrCodeUnavailable
	case errors.Is(err, hashfleet.ErrJobNotFound),
		errors.Is(err, hashfleet.ErrUnitNotFound),
		errors.Is(err, hashfleet.ErrNodeNotFound):
		return ErrCodeNotFound
	case errors.Is(err, hashfleet.ErrJobAlreadyExists),
		errors.Is(err, hashfleet.ErrJobTerminal),
		errors.Is(err, hashfleet.ErrNodeHoldsUnit):
		return ErrCodeConflict
	default:
		return ErrCodeInternal
	}
}

// reportingNode resolves the node ID an agent frame speaks for. The
// identity's pinned node wins over whatever the payload claims, so a
// compromised agent token cannot impersonate another node.
func reportingNode(conn *Connection, claimed string) (id.NodeID, error) {
	if conn.NodeID != id.Nil {
		return conn.NodeID, nil
	}
	return id.ParseNodeID(claimed)
}

func (h *Handler) handleHeartbeat(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	var req HeartbeatRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	nodeID, err := reportingNode(conn, req.NodeID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid node ID: "+err.Error())
	}

	hb := engine.Heartbeat{
		NodeID:  nodeID,
		Addr:    req.Addr,
		Metrics: req.Metrics,
		At:      req.At,
	}
	if err := h.eng.Heartbeat(ctx, hb); err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "heartbeat failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, map[string]string{"status": "ok"})
}

func (h *Handler) handleProgressReport(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	var req ProgressReportRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	nodeID, err := reportingNode(conn, req.NodeID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid node ID: "+err.Error())
	}
	unitID, err := id.ParseUnitID(req.UnitID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid unit ID: "+err.Error())
	}

	report := progress.Report{
		NodeID:   nodeID,
		UnitID:   unitID,
		Fraction: req.Fraction,
		Cracked:  req.Cracked,
		At:       req.At,
	}
	if err := h.eng.ReportProgress(ctx, report); err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "progress report failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, map[string]string{"status": "ok"})
}

func (h *Handler) handleWorkResult(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	var req WorkResultRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	nodeID, err := reportingNode(conn, req.NodeID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid node ID: "+err.Error())
	}
	unitID, err := id.ParseUnitID(req.UnitID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid unit ID: "+err.Error())
	}
	outcome, ok := ParseOutcome(req.Outcome)
	if !ok {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid outcome: "+req.Outcome)
	}

	res := engine.Result{NodeID: nodeID, UnitID: unitID, Outcome: outcome}
	if err := h.eng.ReportResult(ctx, res); err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "result failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, map[string]string{"status": "ok"})
}

func (h *Handler) handleDeregister(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	var req DeregisterRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	nodeID, err := reportingNode(conn, req.NodeID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid node ID: "+err.Error())
	}

	if err := h.eng.Deregister(ctx, nodeID); err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "deregister failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, map[string]string{"status": "deregistered"})
}

func (h *Handler) handleVoteRequest(frame *Frame) *Frame {
	var req VoteRequestPayload
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	candidate, err := id.ParseNodeID(req.Candidate)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid candidate ID: "+err.Error())
	}

	resp := h.eng.HandleVoteRequest(election.VoteRequest{
		Term:      req.Term,
		Candidate: candidate,
	})
	return mustResponseFrame(frame.ID, VoteResponsePayload{
		Term:    resp.Term,
		Granted: resp.Granted,
	})
}

func (h *Handler) handleLeaderAnnounce(frame *Frame) *Frame {
	var req LeaderAnnouncement
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	leader, err := id.ParseNodeID(req.Leader)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid leader ID: "+err.Error())
	}

	if err := h.eng.ObserveLeader(leader, req.Term); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeConflict, "announcement rejected: "+err.Error())
	}
	return mustResponseFrame(frame.ID, map[string]string{"status": "ok"})
}

func (h *Handler) handleJobSubmit(ctx context.Context, frame *Frame) *Frame {
	var req JobSubmitRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	if req.Name == "" || req.HashType == "" || len(req.Hashes) == 0 {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "name, hash_type, and hashes are required")
	}
	if req.TotalSpace == 0 {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "total_space must be positive")
	}

	j := &job.Job{
		Entity:     hashfleet.NewEntity(),
		ID:         id.NewJobID(),
		Name:       req.Name,
		HashType:   req.HashType,
		Hashes:     req.Hashes,
		Attack:     req.Attack,
		Priority:   req.Priority,
		State:      job.StatePending,
		TotalSpace: req.TotalSpace,
	}
	if err := h.eng.SubmitJob(ctx, j); err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "submit failed: "+err.Error())
	}

	units, err := h.eng.Store().ListUnitsByJob(ctx, j.ID)
	if err != nil {
		h.logger.Warn("unit count lookup failed", "job_id", j.ID, "error", err)
	}

	return mustResponseFrame(frame.ID, JobSubmitResponse{
		JobID: j.ID.String(),
		Units: len(units),
		State: string(j.State),
	})
}

func (h *Handler) handleJobGet(ctx context.Context, frame *Frame) *Frame {
	var req JobGetRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	jobID, err := id.ParseJobID(req.JobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
	}

	prog, err := h.eng.JobStatus(ctx, jobID)
	if err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "job lookup failed: "+err.Error())
	}
	return mustResponseFrame(frame.ID, prog)
}

func (h *Handler) handleJobCancel(ctx context.Context, frame *Frame) *Frame {
	var req JobCancelRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	jobID, err := id.ParseJobID(req.JobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
	}

	if err := h.eng.CancelJob(ctx, jobID); err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "cancel failed: "+err.Error())
	}
	return mustResponseFrame(frame.ID, map[string]string{"status": "cancelled"})
}

func (h *Handler) handleJobList(ctx context.Context, frame *Frame) *Frame {
	var req JobListRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	jobs, err := h.eng.Store().ListJobs(ctx, job.ListOpts{
		Limit:  req.Limit,
		Offset: req.Offset,
		State:  job.State(req.State),
	})
	if err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "list failed: "+err.Error())
	}
	return mustResponseFrame(frame.ID, jobs)
}

func (h *Handler) handleStatus(ctx context.Context, frame *Frame) *Frame {
	status, err := h.eng.Status(ctx)
	if err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "status failed: "+err.Error())
	}
	return mustResponseFrame(frame.ID, status)
}

func (h *Handler) handleElectionForce(ctx context.Context, frame *Frame) *Frame {
	won, err := h.eng.ForceElection(ctx)
	if err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "election failed: "+err.Error())
	}
	return mustResponseFrame(frame.ID, map[string]any{
		"won":  won,
		"term": h.eng.Term(),
	})
}

func (h *Handler) handleSubscribe(frame *Frame) *Frame {
	var req SubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	if err := stream.ValidateTopic(req.Channel); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}

	// Actual subscription is done in the server loop after response is sent.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "subscribed",
	})
}

func (h *Handler) handleUnsubscribe(frame *Frame) *Frame {
	var req UnsubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	// Actual unsubscription is done in the server loop after response is sent.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "unsubscribed",
	})
}
