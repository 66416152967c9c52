package graph

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nodeflow/graphkit/graph/emit"
)

func stepEvent(runID string, step int, nodeIDs []string, state State) emit.Event {
	return emit.Event{
		RunID:  runID,
		Step:   step,
		NodeID: joinNodeIDs(nodeIDs),
		Msg:    "step merged",
		Meta:   map[string]interface{}{"keys": len(state)},
	}
}

// ErrInterrupted is returned by Invoke/Stream when a run pauses at a
// configured interrupt point rather than failing. The run's state at the
// point of interruption is available via GetState and can be resumed by
// calling Invoke again with the same ThreadID and Resume set.
var ErrInterrupted = errors.New("graph: run interrupted")

// InvokeOptions configures a single run.
type InvokeOptions struct {
	// ThreadID identifies the run for checkpointing and later resumption.
	// Required whenever a checkpoint store is configured.
	ThreadID string
	// RunID identifies this particular execution; generated if empty.
	RunID string
	// Resume, when true, ignores the initial state passed to Invoke/Stream
	// and instead continues from ThreadID's latest checkpoint.
	Resume bool
	// Metadata is attached to every checkpoint written during this run.
	Metadata map[string]any
}

// StepOutput is emitted after each completed Merging step.
type StepOutput struct {
	RunID   string
	Step    int
	NodeIDs []string
	State   State
}

func newRunID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Invoke runs the graph to completion (or until it is interrupted or
// fails), returning the final state.
func (cg *CompiledGraph) Invoke(ctx context.Context, initial State, opts InvokeOptions) (State, error) {
	var final State
	_, err := cg.drive(ctx, initial, opts, func(out StepOutput) {
		final = out.State
	})
	if final == nil {
		final = initial
	}
	return final, err
}

// Stream runs the graph exactly like Invoke, but returns a channel of
// StepOutput values delivered as each step completes, plus a channel that
// receives at most one error (nil on success) when the run ends. Both
// channels are closed when the run is over.
func (cg *CompiledGraph) Stream(ctx context.Context, initial State, opts InvokeOptions) (<-chan StepOutput, <-chan error) {
	steps := make(chan StepOutput)
	errc := make(chan error, 1)

	go func() {
		defer close(steps)
		defer close(errc)
		_, err := cg.drive(ctx, initial, opts, func(out StepOutput) {
			select {
			case steps <- out:
			case <-ctx.Done():
			}
		})
		errc <- err
	}()

	return steps, errc
}

// drive is the shared state-machine loop behind Invoke and Stream. It
// walks Init -> Routing -> Dispatching -> Merging -> Checkpointing ->
// Emitting, repeating until the frontier is empty (Done), a configured
// interrupt point is hit (Interrupted), or a node, router, or checkpoint
// operation fails.
func (cg *CompiledGraph) drive(ctx context.Context, initial State, opts InvokeOptions, onStep func(StepOutput)) (_ State, err error) {
	runID := opts.RunID
	if runID == "" {
		runID = newRunID()
	}
	threadID := opts.ThreadID
	if cg.store != nil && threadID == "" {
		return nil, &CheckpointError{RunID: runID, Op: "init", Cause: ErrThreadRequired}
	}
	if cg.releaseThread && cg.store != nil {
		defer func() {
			if errors.Is(err, ErrInterrupted) {
				return
			}
			log, lerr := cg.store.List(ctx, threadID)
			for i := 0; lerr == nil && i < len(log); i++ {
				lerr = cg.store.Delete(ctx, threadID, log[i].ID)
			}
			if lerr != nil && err == nil {
				err = &CheckpointError{RunID: runID, ThreadID: threadID, Op: "release", Cause: lerr}
			}
		}()
	}

	state := initial.Clone()
	current := []string{START}
	step := 0
	resumingPending := false

	if opts.Resume {
		if cg.store == nil {
			return nil, &CheckpointError{RunID: runID, ThreadID: threadID, Op: "resume", Cause: ErrThreadRequired}
		}
		latest, err := cg.store.Get(ctx, threadID, "")
		if err != nil {
			return nil, &CheckpointError{RunID: runID, ThreadID: threadID, Op: "resume", Cause: err}
		}
		state = State(latest.State)
		step = latest.Step
		current = splitNodeIDs(latest.NextNodeID)
		if len(current) == 0 {
			return state, nil
		}
		resumingPending = latest.Pending
	}

	for {
		select {
		case <-ctx.Done():
			return state, &CancelledError{RunID: runID, Step: step, Cause: ctx.Err()}
		default:
		}

		if cg.maxSteps > 0 && step >= cg.maxSteps {
			return state, &ExecutionError{RunID: runID, Step: step, NodeID: "(engine)", Cause: ErrMaxStepsExceeded}
		}

		// Routing: resolve the next frontier from every node in current,
		// unless we just resumed from an interrupt-before checkpoint, in
		// which case current IS the already-routed frontier and must be
		// dispatched directly rather than routed from again.
		var next []string
		if resumingPending {
			next = current
			resumingPending = false
		} else {
			for _, src := range current {
				targets, merged, err := cg.route(ctx, src, state, RunnableConfig{RunID: runID, ThreadID: threadID, Step: step, Metadata: opts.Metadata})
				if err != nil {
					return state, err
				}
				state = merged
				next = appendUnique(next, withoutEnd(targets))
			}
			if len(next) == 0 {
				return state, nil
			}

			if interrupted := cg.checkInterrupt(cg.interruptBefore, next); interrupted != "" {
				if err := cg.checkpoint(ctx, runID, threadID, step, state, joinNodeIDs(current), joinNodeIDs(next), true, opts.Metadata); err != nil {
					return state, err
				}
				cg.recordInterruption(interrupted, "before")
				return state, fmt.Errorf("%w: before %q", ErrInterrupted, interrupted)
			}
		}

		cg.trackActive(1)

		results, err := cg.dispatch(ctx, next, state, RunnableConfig{RunID: runID, ThreadID: threadID, Step: step, Metadata: opts.Metadata})
		if err != nil {
			cg.trackActive(-1)
			return state, err
		}
		if cg.metrics != nil && len(next) > 1 {
			cg.metrics.RecordFanout(len(next))
		}

		if cg.conflict == ConflictFail {
			if key, ok := conflictingKey(cg.schema, results); ok {
				cg.trackActive(-1)
				return state, &ExecutionError{RunID: runID, Step: step, NodeID: joinNodeIDs(next), Cause: fmt.Errorf("%w: %q", ErrConflictingWrite, key)}
			}
		}

		// Merging: fold each branch's update in declaration order so the
		// last-listed target wins ties on unscheduled keys.
		for i, res := range results {
			merged, err := Apply(cg.schema, state, res.Update)
			if err != nil {
				cg.trackActive(-1)
				return state, &ExecutionError{RunID: runID, Step: step, NodeID: next[i], Cause: err}
			}
			state = merged
		}
		step++
		cg.trackActive(-1)

		if err := cg.checkpoint(ctx, runID, threadID, step, state, joinNodeIDs(next), joinNodeIDs(next), false, opts.Metadata); err != nil {
			return state, err
		}

		cg.emitter.Emit(stepEvent(runID, step, next, state))
		if onStep != nil {
			onStep(StepOutput{RunID: runID, Step: step, NodeIDs: next, State: state})
		}

		if interrupted := cg.checkInterrupt(cg.interruptAfter, next); interrupted != "" {
			cg.recordInterruption(interrupted, "after")
			return state, fmt.Errorf("%w: after %q", ErrInterrupted, interrupted)
		}

		current = next
	}
}

// trackActive adjusts the in-flight run count the Dispatching/Merging
// phases contribute to the active_runs gauge. A no-op without metrics.
func (cg *CompiledGraph) trackActive(delta int64) {
	if cg.metrics == nil {
		return
	}
	n := atomic.AddInt64(&cg.activeRuns, delta)
	cg.metrics.SetActiveRuns(int(n))
}

// conflictingKey reports the first unscheduled (no-channel) key that two or
// more of a fanout's concurrently-produced updates disagree on, for
// ConflictFail. A key covered by a schema channel is exempt, since its
// reducer (or overwrite-by-declaration-order) already defines the merge.
func conflictingKey(schema Schema, results []NodeResult) (string, bool) {
	if len(results) < 2 {
		return "", false
	}
	seen := map[string]any{}
	for _, res := range results {
		for k, v := range res.Update {
			if _, scheduled := schema[k]; scheduled {
				continue
			}
			if prev, ok := seen[k]; ok {
				if !reflect.DeepEqual(prev, v) {
					return k, true
				}
				continue
			}
			seen[k] = v
		}
	}
	return "", false
}

// route resolves the outgoing edge for one currently-active node. A
// direct edge yields its (possibly many, for fanout) targets unchanged; a
// conditional edge invokes its router, folds any Command.Update into
// state, and resolves Command.GotoNode against the edge's mapping.
func (cg *CompiledGraph) route(ctx context.Context, source string, state State, rc RunnableConfig) ([]string, State, error) {
	e, ok := cg.outgoing[source]
	if !ok {
		return nil, state, nil
	}
	if e.Condition == nil {
		return e.Targets, state, nil
	}

	cmd, err := e.Condition.Action(ctx, state, rc)
	if err != nil {
		return nil, state, &RoutingError{RunID: rc.RunID, Step: rc.Step, Source: source, Cause: err}
	}

	merged := state
	if len(cmd.Update) > 0 {
		m, err := Apply(cg.schema, state, cmd.Update)
		if err != nil {
			return nil, state, &RoutingError{RunID: rc.RunID, Step: rc.Step, Source: source, Cause: err}
		}
		merged = m
	}

	target, ok := e.Condition.Mapping[cmd.GotoNode]
	if !ok {
		return nil, merged, &RoutingError{RunID: rc.RunID, Step: rc.Step, Source: source, Cause: fmt.Errorf("%w: %q", ErrUnknownLabel, cmd.GotoNode)}
	}
	if target == END {
		return nil, merged, nil
	}
	return []string{target}, merged, nil
}

// dispatch runs every target in ids concurrently and returns their
// results in the same order ids were given, regardless of completion
// order — so Merging can fold them by declaration order deterministically
// even though the branches race to finish.
func (cg *CompiledGraph) dispatch(ctx context.Context, ids []string, state State, rc RunnableConfig) ([]NodeResult, error) {
	results := make([]NodeResult, len(ids))
	errs := make([]error, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		factory, ok := cg.nodes[id]
		if !ok {
			errs[i] = fmt.Errorf("%w: %q", ErrUnresolvedGoto, id)
			continue
		}
		wg.Add(1)
		go func(i int, id string, action Action) {
			defer wg.Done()
			start := time.Now()
			res, err := action(ctx, state.Clone(), rc)
			status := "success"
			if err != nil {
				status = "error"
			}
			if cg.metrics != nil {
				cg.metrics.RecordStep(id, status, time.Since(start))
			}
			results[i] = res
			errs[i] = err
		}(i, id, factory(cg.cfg))
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, &ExecutionError{RunID: rc.RunID, Step: rc.Step, NodeID: ids[i], Cause: err}
		}
	}
	return results, nil
}

func (cg *CompiledGraph) checkpoint(ctx context.Context, runID, threadID string, step int, state State, nodeID, nextNodeID string, pending bool, meta map[string]any) error {
	if cg.store == nil {
		return nil
	}
	cp := toStoreCheckpoint(runID, step, state, nodeID, nextNodeID, pending, meta)
	if _, err := cg.store.Put(ctx, threadID, cp); err != nil {
		return &CheckpointError{RunID: runID, ThreadID: threadID, Op: "put", Cause: err}
	}
	if cg.metrics != nil {
		cg.metrics.RecordCheckpoint(threadID)
	}
	return nil
}

func (cg *CompiledGraph) checkInterrupt(set map[string]bool, ids []string) string {
	for _, id := range ids {
		if set[id] {
			return id
		}
	}
	return ""
}

func (cg *CompiledGraph) recordInterruption(nodeID, phase string) {
	if cg.metrics != nil {
		cg.metrics.RecordInterruption(nodeID, phase)
	}
}

func withoutEnd(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != END {
			out = append(out, id)
		}
	}
	return out
}

func appendUnique(dst []string, src []string) []string {
	for _, s := range src {
		found := false
		for _, d := range dst {
			if d == s {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, s)
		}
	}
	return dst
}

const nodeIDSeparator = ","

func joinNodeIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += nodeIDSeparator
		}
		out += id
	}
	return out
}

func splitNodeIDs(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i:i+1] == nodeIDSeparator {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}
