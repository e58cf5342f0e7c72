// Package deploy implements topology-matched job deployment for deployr.
//
// # Reading Guide
//
// Start with these three files to understand the deployment core:
//   - topology.go: Device/memory/compute model and the greedy Satisfies scan
//   - matcher.go: Hopcroft-Karp instance-to-host matching over the compatibility graph
//   - deployr.go: The coordinator protocol (gather → match → propagate → run) and its state machine
//
// # Architecture
//
// The deploy package owns the protocol and its contracts; substrates live in
// sub-packages:
//   - deploy/engine/: engine name registry and per-process launch
//   - deploy/engine/local/: in-process engine (goroutine participants, emulated topologies)
//   - deploy/engine/tcp/: multi-process engine (TCP rendezvous, net/rpc control and data planes)
//   - deploy/engine/probe/: host topology detection for real machines
//   - deploy/trace/: protocol event recording
//
// Engines register themselves via init() functions calling engine.RegisterRunner;
// the CLI selects one by name at process start.
//
// # Key Interfaces
//
// The extension points are two interfaces in engine.go:
//   - Engine: participant identity, strict listen/call RPC, shared-memory publish/lookup/barrier, abort
//   - Buffer: fixed-size shared memory with owner-resident storage and locked sections
//
// Everything above them (request validation, matching, deployment propagation,
// channel construction) is substrate-independent.
package deploy
