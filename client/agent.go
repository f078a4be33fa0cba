package client

import (
	"context"
	"time"

	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
	"github.com/hashfleet/hashfleet/wire"
)

// Agent-side operations. A cracking agent dials the coordinator with
// WithNodeID, registers its command handlers, and runs a heartbeat
// loop. Work assignments arrive through the OnAssignment handler.

// OnAssignment registers the handler invoked when the leader assigns a
// work unit to this node. The handler runs on its own goroutine.
func (c *Client) OnAssignment(fn func(ctx context.Context, a wire.WorkAssignment)) {
	c.onAssign.Store(fn)
}

// OnStop registers the handler invoked when the leader tells this node
// to abandon a unit.
func (c *Client) OnStop(fn func(ctx context.Context, unitID string)) {
	c.onStop.Store(fn)
}

// Heartbeat sends a single liveness and resource report.
func (c *Client) Heartbeat(ctx context.Context, addr string, metrics membership.Metrics) error {
	_, err := c.request(ctx, wire.MethodHeartbeat, wire.HeartbeatRequest{
		NodeID:  c.nodeID,
		Addr:    addr,
		Metrics: metrics,
		At:      time.Now().UTC(),
	})
	return err
}

// RunHeartbeats sends heartbeats at the given interval until the
// context is cancelled. The metrics function is sampled before each
// send.
func (c *Client) RunHeartbeats(ctx context.Context, addr string, interval time.Duration, metrics func() membership.Metrics) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// Send immediately, then on every tick.
		if err := c.Heartbeat(ctx, addr, metrics()); err != nil {
			c.logger.Warn("heartbeat failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ReportProgress reports progress on the unit this node is working.
func (c *Client) ReportProgress(ctx context.Context, unitID string, fraction float64, cracked []job.Credential) error {
	_, err := c.request(ctx, wire.MethodProgressReport, wire.ProgressReportRequest{
		NodeID:   c.nodeID,
		UnitID:   unitID,
		Fraction: fraction,
		Cracked:  cracked,
		At:       time.Now().UTC(),
	})
	return err
}

// ReportDone reports that the unit's range was exhausted.
func (c *Client) ReportDone(ctx context.Context, unitID string) error {
	return c.reportResult(ctx, unitID, "done")
}

// ReportFailed reports that the node could not finish the unit.
func (c *Client) ReportFailed(ctx context.Context, unitID string) error {
	return c.reportResult(ctx, unitID, "failed")
}

func (c *Client) reportResult(ctx context.Context, unitID, outcome string) error {
	_, err := c.request(ctx, wire.MethodWorkResult, wire.WorkResultRequest{
		NodeID:  c.nodeID,
		UnitID:  unitID,
		Outcome: outcome,
	})
	return err
}

// Deregister announces a graceful shutdown of this node. The
// coordinator refuses while this node still holds a unit; report the
// unit's result first.
func (c *Client) Deregister(ctx context.Context) error {
	_, err := c.request(ctx, wire.MethodDeregister, wire.DeregisterRequest{
		NodeID: c.nodeID,
	})
	return err
}
