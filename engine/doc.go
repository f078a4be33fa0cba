// Package engine wires all hashfleet subsystems together and drives the
// cluster coordination loop for one node.
//
// The engine package exists to break a fundamental import cycle: the root
// hashfleet package defines Entity and the sentinel errors (imported by
// job, membership, election, etc.) and therefore cannot import those
// packages back. Engine sits above all subsystem packages and below the
// application layer.
//
// # Building an Engine
//
//	c, err := hashfleet.New(
//	    hashfleet.WithStore(pgStore),
//	    hashfleet.WithNodeID("node_01hq..."),
//	    hashfleet.WithAddr("10.0.0.5:9400"),
//	)
//
//	eng, err := engine.Build(c,
//	    engine.WithExtension(myExtension),
//	    engine.WithTransport(wireTransport),
//	    engine.WithSender(wireSender),
//	)
//
//	if err := c.Start(ctx); err != nil { ... }
//
// # The coordination loop
//
// All membership, job and unit state mutations happen on a single
// goroutine. Heartbeats, progress reports and unit results arrive on
// ingestion channels; operator commands (SubmitJob, CancelJob) are
// funneled through the same loop so no mutation ever races another.
//
// Every node runs the election state machine. The node that wins
// leadership first reconciles: it loads the latest snapshot, revalidates
// every active assignment against current membership health, and only
// then resumes scheduling ticks. Until reconciliation finishes the
// operator API answers ErrReconciling.
//
// # Options
//
//   - [WithExtension] — register a lifecycle extension
//   - [WithSender] — set the outbound instruction channel to nodes
//   - [WithTransport] — set the election transport between peers
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
