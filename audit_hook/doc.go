// Package audithook is an extension that bridges cluster lifecycle events
// to an immutable audit trail backend.
//
// Every membership, election, scheduling, and job lifecycle hook emits a
// structured audit event through the [Recorder] interface. The extension
// assigns appropriate severity levels (info for normal operations, warning
// for health degradation and requeues, critical for node deaths and terminal
// failures) and rich metadata (node address, term, unit range, errors).
//
// The failover trail is the main use case: every node death, eviction,
// leader change, and work-unit reassignment leaves a record, so an operator
// can reconstruct why a unit ran where it did after the fact.
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return trail.Append(ctx, evt.Action, evt.Resource, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionNodeDead,
//	        audithook.ActionUnitRequeued,
//	        audithook.ActionLeaderChanged,
//	    ),
//	)
package audithook
