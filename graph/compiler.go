package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nodeflow/graphkit/graph/emit"
	"github.com/nodeflow/graphkit/graph/store"
)

// CompiledGraph is an immutable, runnable graph produced by
// StateGraph.Compile. It is safe for concurrent use by multiple runs.
type CompiledGraph struct {
	schema   Schema
	nodes    map[string]ActionFactory
	outgoing map[string]*Edge

	interruptBefore map[string]bool
	interruptAfter  map[string]bool

	store         store.Store
	emitter       emit.Emitter
	metrics       *PrometheusMetrics
	conflict      ConflictPolicy
	maxSteps      int
	releaseThread bool
	cfg           CompileConfig

	activeRuns int64

	mu sync.RWMutex
}

// Compile validates g against opts and flattens it (including any nested
// subgraphs) into a CompiledGraph.
func (g *StateGraph) Compile(opts ...CompileOption) (*CompiledGraph, error) {
	cfg := defaultCompileConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, &ConfigurationError{Errors: []error{err}}
		}
	}
	if err := validate(g, cfg); err != nil {
		return nil, err
	}

	cg := &CompiledGraph{
		schema:          g.schema,
		nodes:           map[string]ActionFactory{},
		outgoing:        map[string]*Edge{},
		interruptBefore: toSet(cfg.InterruptBefore),
		interruptAfter:  toSet(cfg.InterruptAfter),
		store:           cfg.Store,
		emitter:         cfg.Emitter,
		metrics:         cfg.Metrics,
		conflict:        cfg.Conflict,
		maxSteps:        cfg.MaxSteps,
		releaseThread:   cfg.ReleaseThreadAfterExecution,
		cfg:             cfg,
	}

	entryOf := map[string]string{}
	if err := cg.flattenInto(g, "", entryOf); err != nil {
		return nil, err
	}
	if err := cg.resolveExits(); err != nil {
		return nil, err
	}
	cg.resolveAliases(entryOf)

	return cg, nil
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func ns(prefix, id string) string {
	if prefix == "" {
		return id
	}
	return prefix + "/" + id
}

// flattenInto recursively copies g's nodes and edges into cg under the
// given namespace prefix. A nested StateGraph node becomes a pure alias:
// its internal nodes and edges are copied in under the node's own id as
// prefix, its own START edge's target becomes its resolved entry point
// (recorded in entryOf), and any internal edge reaching END is rewritten
// to an exit marker for the alias, later expanded by resolveExits into
// whatever continuation edge the enclosing scope recorded for that alias
// id. No executable node is ever registered for an alias.
func (cg *CompiledGraph) flattenInto(g *StateGraph, prefix string, entryOf map[string]string) error {
	for id, n := range g.nodes {
		full := ns(prefix, id)
		switch {
		case n.subgraph != nil:
			startEdge := n.subgraph.edges[START]
			if startEdge == nil || startEdge.Condition != nil || len(startEdge.Targets) != 1 {
				return &ConfigurationError{Errors: []error{
					&subgraphShapeError{nodeID: full},
				}}
			}
			entryOf[full] = ns(full, startEdge.Targets[0])
			if err := cg.flattenInto(n.subgraph, full, entryOf); err != nil {
				return err
			}
		case n.compiledSubgraph != nil:
			sub := n.compiledSubgraph
			cg.nodes[full] = ActionFunc(func(ctx context.Context, state State, rc RunnableConfig) (NodeResult, error) {
				final, err := sub.Invoke(ctx, state, InvokeOptions{ThreadID: rc.ThreadID})
				if err != nil {
					return NodeResult{}, err
				}
				return NodeResult{Update: final}, nil
			})
		default:
			cg.nodes[full] = n.factory
		}
	}

	for _, source := range g.order {
		e := g.edges[source]
		if source == START && prefix != "" {
			continue
		}
		full := ns(prefix, source)
		out := &Edge{Source: full}
		for _, t := range e.Targets {
			out.Targets = append(out.Targets, remapTarget(prefix, t))
		}
		if e.Condition != nil {
			mapping := make(map[string]string, len(e.Condition.Mapping))
			for label, t := range e.Condition.Mapping {
				mapping[label] = remapTarget(prefix, t)
			}
			out.Condition = &Condition{Action: e.Condition.Action, Mapping: mapping}
		}
		cg.outgoing[full] = out
	}
	return nil
}

// exitSuffix marks a target as "this branch reached END inside the
// subgraph aliased by the prefix with this suffix stripped off" — distinct
// from the alias's bare name, which means "enter this subgraph", so the
// two can never be confused by resolveAliases.
const exitSuffix = "\x00exit"

func remapTarget(prefix, t string) string {
	if t == END {
		if prefix == "" {
			return END
		}
		return prefix + exitSuffix
	}
	if t == START {
		return t
	}
	return ns(prefix, t)
}

// resolveExits rewrites every exit marker produced by remapTarget to the
// continuation recorded for the aliased node at its enclosing scope,
// recursively, so that reaching END inside a nested subgraph falls
// through to whatever follows the subgraph node in the parent graph
// rather than being dispatched as a node in its own right. It fails if an
// exit marker inside a Condition.Mapping entry would need to resolve to
// more than one target: a conditional edge's label names exactly one next
// node, so it cannot express the fanout a direct edge can.
func (cg *CompiledGraph) resolveExits() error {
	var expand func(id string, seen map[string]bool, out *[]string)
	expand = func(id string, seen map[string]bool, out *[]string) {
		full, ok := strings.CutSuffix(id, exitSuffix)
		if !ok {
			*out = append(*out, id)
			return
		}
		if seen[full] {
			return
		}
		seen[full] = true
		e, ok := cg.outgoing[full]
		if !ok {
			return
		}
		for _, t := range e.Targets {
			expand(t, seen, out)
		}
	}
	expandAll := func(ids []string) []string {
		out := make([]string, 0, len(ids))
		expand0 := func(id string) {
			expand(id, map[string]bool{}, &out)
		}
		for _, id := range ids {
			expand0(id)
		}
		return out
	}

	var errs []error
	for _, e := range cg.outgoing {
		e.Targets = expandAll(e.Targets)
		if e.Condition != nil {
			for label, t := range e.Condition.Mapping {
				resolved := expandAll([]string{t})
				switch len(resolved) {
				case 0:
					e.Condition.Mapping[label] = END
				case 1:
					e.Condition.Mapping[label] = resolved[0]
				default:
					errs = append(errs, &conditionalExitFanoutError{source: e.Source, label: label, targets: resolved})
				}
			}
		}
	}
	if len(errs) > 0 {
		return &ConfigurationError{Errors: errs}
	}
	return nil
}

// resolveAliases rewrites every edge target that names a subgraph alias
// (a node with no registered Action) to that alias's resolved entry
// point, recursively.
func (cg *CompiledGraph) resolveAliases(entryOf map[string]string) {
	resolve := func(t string) string {
		seen := map[string]bool{}
		for {
			r, ok := entryOf[t]
			if !ok || seen[t] {
				return t
			}
			seen[t] = true
			t = r
		}
	}
	for _, e := range cg.outgoing {
		for i, t := range e.Targets {
			e.Targets[i] = resolve(t)
		}
		if e.Condition != nil {
			for label, t := range e.Condition.Mapping {
				e.Condition.Mapping[label] = resolve(t)
			}
		}
	}
}

type subgraphShapeError struct{ nodeID string }

func (e *subgraphShapeError) Error() string {
	return "subgraph node " + e.nodeID + " must declare exactly one unconditional edge from START to be inlined"
}

type conditionalExitFanoutError struct {
	source  string
	label   string
	targets []string
}

func (e *conditionalExitFanoutError) Error() string {
	return fmt.Sprintf("conditional edge %q label %q resolves through a subgraph exit to %d targets (%v); a conditional label can only name one next node", e.source, e.label, len(e.targets), e.targets)
}
