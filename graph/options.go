package graph

import (
	"fmt"

	"github.com/nodeflow/graphkit/graph/emit"
	"github.com/nodeflow/graphkit/graph/store"
)

// ConflictPolicy controls how a parallel fanout's concurrently-produced
// updates are folded when they touch the same unscheduled (no-channel)
// key.
type ConflictPolicy int

const (
	// LastWriterWins folds fanout updates in the branches' declaration
	// order, so the last target listed in AddEdge wins ties on
	// unscheduled keys. This is the default and the only policy required
	// by the engine's merge step; ConflictFail exists for callers that
	// would rather surface a divergent write than silently pick one.
	LastWriterWins ConflictPolicy = iota
	// ConflictFail returns an ExecutionError instead of silently applying
	// last-writer-wins when two fanout branches write different values to
	// the same unscheduled key.
	ConflictFail
)

// CompileConfig holds every option accepted by StateGraph.Compile. Its
// zero value is a valid, fully permissive configuration.
type CompileConfig struct {
	MaxSteps        int
	InterruptBefore []string
	InterruptAfter  []string
	Store           store.Store
	Emitter         emit.Emitter
	Metrics         *PrometheusMetrics
	Conflict        ConflictPolicy
	// ReleaseThreadAfterExecution deletes the thread's checkpoint log once
	// a run reaches Done or Failed, rather than leaving it for resumption.
	ReleaseThreadAfterExecution bool
}

func defaultCompileConfig() CompileConfig {
	return CompileConfig{
		MaxSteps: 10_000,
		Emitter:  emit.NewNullEmitter(),
		Conflict: LastWriterWins,
	}
}

// CompileOption configures a StateGraph.Compile call, following the same
// functional-options shape as the teacher's graph.Option.
type CompileOption func(*CompileConfig) error

// WithMaxSteps bounds the number of Routing/Dispatching/Merging cycles a
// single run may take before it fails with ErrMaxStepsExceeded.
func WithMaxSteps(n int) CompileOption {
	return func(c *CompileConfig) error {
		if n <= 0 {
			return fmt.Errorf("WithMaxSteps: n must be positive, got %d", n)
		}
		c.MaxSteps = n
		return nil
	}
}

// WithInterruptBefore marks node ids where the engine pauses (entering
// Interrupted) before dispatching the node.
func WithInterruptBefore(nodeIDs ...string) CompileOption {
	return func(c *CompileConfig) error {
		c.InterruptBefore = append(c.InterruptBefore, nodeIDs...)
		return nil
	}
}

// WithInterruptAfter marks node ids where the engine pauses after
// dispatching and merging the node's result, before routing onward.
func WithInterruptAfter(nodeIDs ...string) CompileOption {
	return func(c *CompileConfig) error {
		c.InterruptAfter = append(c.InterruptAfter, nodeIDs...)
		return nil
	}
}

// WithCheckpointStore attaches a persistence backend. Invoke and Stream
// require a ThreadID in InvokeOptions once a store is configured.
func WithCheckpointStore(s store.Store) CompileOption {
	return func(c *CompileConfig) error {
		c.Store = s
		return nil
	}
}

// WithEmitter attaches an observer of step-level events. The default is a
// no-op emitter.
func WithEmitter(e emit.Emitter) CompileOption {
	return func(c *CompileConfig) error {
		c.Emitter = e
		return nil
	}
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *PrometheusMetrics) CompileOption {
	return func(c *CompileConfig) error {
		c.Metrics = m
		return nil
	}
}

// WithConflictPolicy overrides how same-key writes from concurrent fanout
// branches are resolved. The default is LastWriterWins.
func WithConflictPolicy(p ConflictPolicy) CompileOption {
	return func(c *CompileConfig) error {
		c.Conflict = p
		return nil
	}
}

// WithReleaseThreadAfterExecution deletes a thread's checkpoint log once
// its run finishes (Done or Failed) instead of retaining it for
// resumption.
func WithReleaseThreadAfterExecution() CompileOption {
	return func(c *CompileConfig) error {
		c.ReleaseThreadAfterExecution = true
		return nil
	}
}
