package graph

import (
	"context"
	"fmt"
)

// StateGraph is the mutable builder for a graph definition. Build it up
// with AddNode/AddEdge/AddConditionalEdges, then call Compile to validate
// and freeze it into a CompiledGraph. A StateGraph is not safe for
// concurrent use; build it on a single goroutine before compiling.
type StateGraph struct {
	schema Schema
	nodes  map[string]*node
	edges  map[string]*Edge
	// order preserves insertion order of edge sources so that Compile,
	// validation error ordering and rendering are deterministic.
	order []string
}

// NewStateGraph creates an empty builder governed by schema. schema may be
// nil, in which case every key uses plain overwrite semantics.
func NewStateGraph(schema Schema) *StateGraph {
	if schema == nil {
		schema = Schema{}
	}
	return &StateGraph{
		schema: schema,
		nodes:  map[string]*node{},
		edges:  map[string]*Edge{},
	}
}

// AddNode registers a vertex under id, whose body is produced by factory
// at compile time.
func (g *StateGraph) AddNode(id string, factory ActionFactory) error {
	if err := g.reserveID(id); err != nil {
		return err
	}
	g.nodes[id] = &node{id: id, factory: factory}
	return nil
}

// AddNodeFunc registers a vertex whose body is a fixed Action.
func (g *StateGraph) AddNodeFunc(id string, fn Action) error {
	return g.AddNode(id, ActionFunc(fn))
}

// AddNodeSync registers a vertex whose body is a synchronous function,
// lifted via LiftSync.
func (g *StateGraph) AddNodeSync(id string, fn SyncAction) error {
	return g.AddNode(id, ActionFunc(LiftSync(fn)))
}

// AddNodeSubgraph registers a vertex whose body is an entire nested
// StateGraph, flattened into the parent at Compile time. sub must declare
// exactly one unconditional edge from START.
func (g *StateGraph) AddNodeSubgraph(id string, sub *StateGraph) error {
	if err := g.reserveID(id); err != nil {
		return err
	}
	g.nodes[id] = &node{id: id, subgraph: sub}
	return nil
}

// AddNodeCompiledSubgraph registers a vertex whose body invokes an
// already-compiled graph as an opaque unit: its internals are not
// flattened into the parent, and it keeps its own checkpointing and
// interruption configuration.
func (g *StateGraph) AddNodeCompiledSubgraph(id string, sub *CompiledGraph) error {
	if err := g.reserveID(id); err != nil {
		return err
	}
	g.nodes[id] = &node{id: id, compiledSubgraph: sub}
	return nil
}

func (g *StateGraph) reserveID(id string) error {
	if id == START || id == END {
		return fmt.Errorf("%w: %q", ErrReservedNodeID, id)
	}
	if id == "" {
		return fmt.Errorf("%w: node id must not be empty", ErrReservedNodeID)
	}
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateNode, id)
	}
	return nil
}

// AddEdge adds a direct edge from source to target. Calling AddEdge
// repeatedly with the same source appends additional targets, forming a
// parallel fanout dispatched together on the next step. source may be
// START; target may be END.
func (g *StateGraph) AddEdge(source, target string) error {
	if source == END {
		return fmt.Errorf("%w: END cannot be an edge source", ErrDanglingSource)
	}
	if target == START {
		return fmt.Errorf("%w: START cannot be an edge target", ErrDanglingTarget)
	}

	e, exists := g.edges[source]
	if !exists {
		e = &Edge{Source: source}
		g.edges[source] = e
		g.order = append(g.order, source)
	}
	if e.Condition != nil {
		return fmt.Errorf("%w: %q", ErrDuplicateSource, source)
	}
	for _, t := range e.Targets {
		if t == target {
			return fmt.Errorf("%w: %q -> %q", ErrDuplicateParallelTarget, source, target)
		}
	}
	e.Targets = append(e.Targets, target)
	return nil
}

// AddConditionalEdges installs a single conditional router as the entire
// outgoing routing rule for source. action is invoked with the freshly
// merged state to produce a label; mapping resolves that label to the
// next node (or END). A source may carry at most one routing rule, direct
// or conditional.
func (g *StateGraph) AddConditionalEdges(source string, action ConditionalAction, mapping map[string]string) error {
	if source == END {
		return fmt.Errorf("%w: END cannot be an edge source", ErrDanglingSource)
	}
	if len(mapping) == 0 {
		return fmt.Errorf("%w: source %q", ErrEmptyMapping, source)
	}
	if _, exists := g.edges[source]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateSource, source)
	}
	g.edges[source] = &Edge{
		Source:    source,
		Condition: &Condition{Action: action, Mapping: mapping},
	}
	g.order = append(g.order, source)
	return nil
}

const commandRouteKeyPrefix = "__cmd_route__:"

// AddNodeWithCommand is sugar for a node whose body chooses its own
// successor: it installs a node at id and a conditional edge from id in
// one call. The chosen target is threaded through a synthetic state key
// rather than read directly off the returned Command, so that the routing
// decision survives the Merging step and is available when the
// conditional edge is evaluated — the fix recommended for the known
// "gotoNode ignored" limitation of reading Command.GotoNode directly at
// the action layer.
func (g *StateGraph) AddNodeWithCommand(id string, action ConditionalAction, mapping map[string]string) error {
	routeKey := commandRouteKeyPrefix + id

	nodeAction := func(ctx context.Context, state State, rc RunnableConfig) (NodeResult, error) {
		cmd, err := action(ctx, state, rc)
		if err != nil {
			return NodeResult{}, err
		}
		update := cmd.Update.Clone()
		update[routeKey] = cmd.GotoNode
		return NodeResult{Update: update}, nil
	}
	if err := g.AddNodeFunc(id, nodeAction); err != nil {
		return err
	}

	cond := func(_ context.Context, state State, _ RunnableConfig) (Command, error) {
		label, _ := state[routeKey].(string)
		return Command{GotoNode: label}, nil
	}
	return g.AddConditionalEdges(id, cond, mapping)
}
