package graph

import "context"

// START and END are the reserved node identifiers marking a graph's single
// entry point and its implicit termination target.
const (
	START = "__start__"
	END   = "__end__"
)

// RunnableConfig carries per-invocation metadata into an Action or
// ConditionalAction: which thread and run this call belongs to, the
// current step, and any free-form metadata a caller attached via
// InvokeOptions.Metadata. The engine does not fill in CheckpointID.
type RunnableConfig struct {
	ThreadID     string
	CheckpointID string
	RunID        string
	Step         int
	Metadata     map[string]any
}

// NodeResult is what an Action returns: a partial state update to be
// folded through the schema's channels. An empty Update is valid — a node
// may run purely for its side effects.
type NodeResult struct {
	Update State
}

// Command is the unified return value of a ConditionalAction: it can
// request a state update, a routing decision, or both at once.
type Command struct {
	GotoNode string
	Update   State
}

// IsEmpty reports whether c carries neither a routing decision nor an
// update.
func (c Command) IsEmpty() bool {
	return c.GotoNode == "" && len(c.Update) == 0
}

// Action is the single signature the engine dispatches for a node body.
type Action func(ctx context.Context, state State, cfg RunnableConfig) (NodeResult, error)

// ConditionalAction evaluates routing for a conditional edge. It may also
// request a state update via the returned Command, which the engine folds
// in exactly like a node's NodeResult before the Command's GotoNode is
// resolved against the edge's mapping.
type ConditionalAction func(ctx context.Context, state State, cfg RunnableConfig) (Command, error)

// ActionFactory builds an Action using the graph's compiled configuration.
// Most callers only need a fixed Action and should use ActionFunc to wrap
// one in a trivial factory.
type ActionFactory func(cfg CompileConfig) Action

// ActionFunc adapts a fixed Action into an ActionFactory that ignores the
// compile configuration.
func ActionFunc(fn Action) ActionFactory {
	return func(CompileConfig) Action { return fn }
}

// SyncAction is a synchronous node body with no routing concerns: read
// state, return a partial update or an error.
type SyncAction func(ctx context.Context, state State) (State, error)

// LiftSync adapts a SyncAction to the engine's Action signature, the way
// the teacher's NodeFunc lifts a plain function into its Node interface.
func LiftSync(fn SyncAction) Action {
	return func(ctx context.Context, state State, _ RunnableConfig) (NodeResult, error) {
		update, err := fn(ctx, state)
		if err != nil {
			return NodeResult{}, err
		}
		return NodeResult{Update: update}, nil
	}
}

// node is the builder's internal record for one registered vertex. Exactly
// one of factory, subgraph or compiledSubgraph is set.
type node struct {
	id               string
	factory          ActionFactory
	subgraph         *StateGraph
	compiledSubgraph *CompiledGraph
}
