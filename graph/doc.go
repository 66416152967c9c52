// Package graph implements a stateful, directed graph execution engine
// for orchestrating multi-step, agent-style workflows.
//
// A Schema of per-key Channels governs how node outputs are folded into a
// shared State (state.go). A StateGraph builder (builder.go) registers
// nodes and edges; Compile (compiler.go) validates the definition
// (validator.go), flattens any nested subgraphs, and produces an
// immutable CompiledGraph (engine.go) whose Invoke and Stream methods
// drive runs through Routing, Dispatching, Merging, Checkpointing and
// Emitting until the run completes, is interrupted, or fails.
package graph
