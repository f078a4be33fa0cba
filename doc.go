// Package hashfleet provides cluster coordination and job distribution for
// fleets of credential-recovery worker nodes. It handles leader election
// with failover, node membership and health tracking, partitioning of
// cracking jobs into independent work units, and race-free aggregation of
// per-node progress into job-level state.
//
// HashFleet is designed as a library, not a service. Import it, configure a
// store, and run the engine on every node of the cluster.
//
// # Quick Start
//
//	c, err := hashfleet.New(
//	    hashfleet.WithStore(memStore),
//	    hashfleet.WithAddr("10.0.0.12:7311"),
//	)
//
//	srv := wire.NewServer(wire.WithAuthenticator(auth))
//	eng, err := engine.Build(c, engine.WithSender(srv))
//	srv.Attach(eng)
//
//	eng.Start(ctx)
//	srv.ListenAndServe(ctx, ":7311")
//
// # Architecture
//
// HashFleet follows a composable store pattern where each subsystem
// (membership, job, snapshot) defines its own store interface. A single
// backend implements all of them. The engine package wires the subsystems
// together and owns all authoritative state through a single coordinating
// goroutine; heartbeats and progress reports arrive concurrently but are
// serialized before touching membership or job state.
//
// The engine never executes cracking work itself. Work units carry opaque
// tool invocation parameters that nodes forward to their local cracking
// tool; the engine only schedules units and folds the reported results.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package hashfleet
