package graph

import (
	"context"
	"time"

	"github.com/nodeflow/graphkit/graph/store"
)

// CheckpointTuple is a checkpoint together with the state it captured,
// returned by GetState and StateHistory. NodeID and NextNodeID mirror
// store.Checkpoint's fields; see its doc comment for how they differ
// between a step-completion checkpoint and an interrupt-before pause.
type CheckpointTuple struct {
	ID         string
	RunID      string
	Step       int
	State      State
	NodeID     string
	NextNodeID string
	Pending    bool
	Metadata   map[string]any
	Timestamp  time.Time
}

func toStoreCheckpoint(runID string, step int, s State, nodeID, nextNodeID string, pending bool, meta map[string]any) store.Checkpoint {
	return store.Checkpoint{
		RunID:      runID,
		Step:       step,
		State:      map[string]any(s),
		NodeID:     nodeID,
		NextNodeID: nextNodeID,
		Pending:    pending,
		Metadata:   meta,
		Timestamp:  time.Now(),
	}
}

func fromStoreCheckpoint(cp store.Checkpoint) CheckpointTuple {
	return CheckpointTuple{
		ID:         cp.ID,
		RunID:      cp.RunID,
		Step:       cp.Step,
		State:      State(cp.State),
		NodeID:     cp.NodeID,
		NextNodeID: cp.NextNodeID,
		Pending:    cp.Pending,
		Metadata:   cp.Metadata,
		Timestamp:  cp.Timestamp,
	}
}

// GetState returns the most recently checkpointed state for threadID. It
// requires a checkpoint store to have been configured with
// WithCheckpointStore.
func (cg *CompiledGraph) GetState(ctx context.Context, threadID string) (CheckpointTuple, error) {
	if cg.store == nil {
		return CheckpointTuple{}, &CheckpointError{ThreadID: threadID, Op: "get", Cause: ErrThreadRequired}
	}
	cp, err := cg.store.Get(ctx, threadID, "")
	if err != nil {
		return CheckpointTuple{}, &CheckpointError{ThreadID: threadID, Op: "get", Cause: err}
	}
	return fromStoreCheckpoint(cp), nil
}

// StateHistory returns every checkpoint recorded for threadID, oldest
// first.
func (cg *CompiledGraph) StateHistory(ctx context.Context, threadID string) ([]CheckpointTuple, error) {
	if cg.store == nil {
		return nil, &CheckpointError{ThreadID: threadID, Op: "list", Cause: ErrThreadRequired}
	}
	log, err := cg.store.List(ctx, threadID)
	if err != nil {
		return nil, &CheckpointError{ThreadID: threadID, Op: "list", Cause: err}
	}
	out := make([]CheckpointTuple, len(log))
	for i, cp := range log {
		out[i] = fromStoreCheckpoint(cp)
	}
	return out, nil
}

// UpdateState writes a new checkpoint for threadID by folding patch into
// the thread's latest state through the schema's channels, without
// running any node. It is how a human-in-the-loop caller edits state
// while a run sits Interrupted.
func (cg *CompiledGraph) UpdateState(ctx context.Context, threadID string, patch State) (CheckpointTuple, error) {
	if cg.store == nil {
		return CheckpointTuple{}, &CheckpointError{ThreadID: threadID, Op: "update", Cause: ErrThreadRequired}
	}
	latest, err := cg.store.Get(ctx, threadID, "")
	if err != nil && err != store.ErrNotFound {
		return CheckpointTuple{}, &CheckpointError{ThreadID: threadID, Op: "update", Cause: err}
	}

	current := State(latest.State)
	merged, err := Apply(cg.schema, current, patch)
	if err != nil {
		return CheckpointTuple{}, &ExecutionError{RunID: latest.RunID, Step: latest.Step, NodeID: "(updateState)", Cause: err}
	}

	id, err := cg.store.Put(ctx, threadID, toStoreCheckpoint(latest.RunID, latest.Step, merged, latest.NodeID, latest.NextNodeID, latest.Pending, latest.Metadata))
	if err != nil {
		return CheckpointTuple{}, &CheckpointError{ThreadID: threadID, Op: "put", Cause: err}
	}
	if cg.metrics != nil {
		cg.metrics.RecordCheckpoint(threadID)
	}
	tuple := fromStoreCheckpoint(store.Checkpoint{
		ID: id, RunID: latest.RunID, Step: latest.Step, State: map[string]any(merged),
		NodeID: latest.NodeID, NextNodeID: latest.NextNodeID, Pending: latest.Pending,
		Metadata: latest.Metadata, Timestamp: time.Now(),
	})
	return tuple, nil
}
