package nodeaction

import (
	"context"
	"fmt"

	"github.com/nodeflow/graphkit/graph"
	"github.com/nodeflow/graphkit/graph/model"
	"github.com/nodeflow/graphkit/graph/tool"
)

// ToolCallOptions configures a tool-execution node action.
type ToolCallOptions struct {
	// ToolCallsKey is the state key holding []model.ToolCall requested by
	// a prior chat node. Defaults to "tool_calls".
	ToolCallsKey string
	// ResultsKey is the state key execution results are written to, as
	// []ToolResult. Defaults to "tool_results".
	ResultsKey string
}

func (o ToolCallOptions) withDefaults() ToolCallOptions {
	if o.ToolCallsKey == "" {
		o.ToolCallsKey = "tool_calls"
	}
	if o.ResultsKey == "" {
		o.ResultsKey = "tool_results"
	}
	return o
}

// ToolResult pairs a requested tool call with its execution outcome.
type ToolResult struct {
	Name   string
	Output map[string]interface{}
	Err    error
}

// NewToolCallAction builds a node action that executes every tool call a
// preceding chat node requested, dispatching each by name against tools.
// Unknown tool names produce a ToolResult carrying an error rather than
// failing the whole step, since one bad call shouldn't sink a multi-call
// turn.
func NewToolCallAction(tools map[string]tool.Tool, opts ToolCallOptions) graph.ActionFactory {
	opts = opts.withDefaults()

	action := func(ctx context.Context, state graph.State, rc graph.RunnableConfig) (graph.NodeResult, error) {
		calls, _ := state[opts.ToolCallsKey].([]model.ToolCall)
		if len(calls) == 0 {
			return graph.NodeResult{}, nil
		}

		results := make([]ToolResult, len(calls))
		for i, call := range calls {
			t, ok := tools[call.Name]
			if !ok {
				results[i] = ToolResult{Name: call.Name, Err: fmt.Errorf("nodeaction: no tool registered for %q", call.Name)}
				continue
			}
			out, err := t.Call(ctx, call.Input)
			results[i] = ToolResult{Name: call.Name, Output: out, Err: err}
		}

		return graph.NodeResult{Update: graph.State{opts.ResultsKey: results}}, nil
	}

	return graph.ActionFunc(action)
}
