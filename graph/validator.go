package graph

import "fmt"

// validate runs the structural checks required before a graph may be
// compiled, collecting every problem it finds rather than stopping at the
// first. It does not check reachability of every node from START; that is
// a testable property exercised in the test suite, not a hard compile
// gate, since an unreachable node is dead weight rather than a
// contradiction.
func validate(g *StateGraph, cfg CompileConfig) error {
	var errs []error

	if _, ok := g.edges[START]; !ok {
		errs = append(errs, ErrMissingEntryPoint)
	}

	for _, source := range g.order {
		e := g.edges[source]
		if source != START {
			if _, ok := g.nodes[source]; !ok {
				errs = append(errs, fmt.Errorf("%w: %q", ErrDanglingSource, source))
			}
		}

		if e.Condition != nil && len(e.Targets) > 0 {
			errs = append(errs, fmt.Errorf("%w: %q", ErrConditionalFanout, source))
		}

		seen := map[string]bool{}
		for _, t := range e.Targets {
			if seen[t] {
				errs = append(errs, fmt.Errorf("%w: %q -> %q", ErrDuplicateParallelTarget, source, t))
				continue
			}
			seen[t] = true
			if err := checkTargetExists(g, t); err != nil {
				errs = append(errs, err)
			}
		}

		if e.Condition != nil {
			if len(e.Condition.Mapping) == 0 {
				errs = append(errs, fmt.Errorf("%w: source %q", ErrEmptyMapping, source))
			}
			for _, t := range e.Condition.Mapping {
				if err := checkTargetExists(g, t); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	for _, id := range cfg.InterruptBefore {
		if _, ok := g.nodes[id]; !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrMissingInterruptNode, id))
		}
	}
	for _, id := range cfg.InterruptAfter {
		if _, ok := g.nodes[id]; !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrMissingInterruptNode, id))
		}
	}

	if len(errs) > 0 {
		return &ConfigurationError{Errors: errs}
	}
	return nil
}

func checkTargetExists(g *StateGraph, t string) error {
	if t == END {
		return nil
	}
	if _, ok := g.nodes[t]; !ok {
		return fmt.Errorf("%w: %q", ErrDanglingTarget, t)
	}
	return nil
}

// Reachable returns the set of node ids reachable from START by following
// direct targets and conditional mapping values. It is a diagnostic used
// by tests, not a compile-time gate.
func Reachable(g *StateGraph) map[string]bool {
	seen := map[string]bool{}
	var visit func(id string)
	visit = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		e, ok := g.edges[id]
		if !ok {
			return
		}
		for _, t := range e.Targets {
			if t != END {
				visit(t)
			}
		}
		if e.Condition != nil {
			for _, t := range e.Condition.Mapping {
				if t != END {
					visit(t)
				}
			}
		}
	}
	if _, ok := g.edges[START]; ok {
		visit(START)
	}
	delete(seen, START)
	return seen
}
