// Package llm wraps model.ChatModel providers as graph.ActionFactory node
// actions, so a StateGraph can call an LLM the same way it calls any other
// node. These are example actions, not part of the core engine: the graph
// package treats every node body as an opaque user-supplied function, and
// this package demonstrates filling that slot with a real provider.
package llm

import (
	"context"
	"fmt"

	"github.com/nodeflow/graphkit/graph"
	"github.com/nodeflow/graphkit/graph/model"
	"github.com/nodeflow/graphkit/nodeaction"
)

// ChatOptions configures a chat node action.
type ChatOptions struct {
	// MessagesKey is the state key holding the []model.Message history fed
	// to the model. Defaults to "messages".
	MessagesKey string
	// ToolsKey is the state key holding []model.ToolSpec, if the node
	// should offer tools to the model. Optional.
	ToolsKey string
	// ReplyKey is the state key the model's response text is written to.
	// Defaults to "reply".
	ReplyKey string
	// ToolCallsKey is the state key any requested tool calls are written
	// to, as []model.ToolCall. Defaults to "tool_calls".
	ToolCallsKey string
	// Cost, if set, receives a RecordLLMCall for every invocation. Token
	// counts are estimated from text length (see estimateTokens) since
	// ChatOut does not carry usage metadata. The call's node id argument
	// is the run's ThreadID, as RunnableConfig carries no node id.
	Cost *nodeaction.CostTracker
	// ModelName is recorded against the cost tracker. NewAnthropicAction,
	// NewOpenAIAction and NewGoogleAction fill it with their modelName
	// argument when empty; NewChatAction records it as given.
	ModelName string
}

func (o ChatOptions) withDefaults() ChatOptions {
	if o.MessagesKey == "" {
		o.MessagesKey = "messages"
	}
	if o.ReplyKey == "" {
		o.ReplyKey = "reply"
	}
	if o.ToolCallsKey == "" {
		o.ToolCallsKey = "tool_calls"
	}
	return o
}

// NewChatAction wraps m as a graph.ActionFactory: on each invocation it
// reads the conversation history (and optional tool specs) out of state,
// calls the model, and writes the reply text and any requested tool calls
// back into state.
func NewChatAction(m model.ChatModel, opts ChatOptions) graph.ActionFactory {
	opts = opts.withDefaults()

	action := func(ctx context.Context, state graph.State, rc graph.RunnableConfig) (graph.NodeResult, error) {
		messages, ok := state[opts.MessagesKey].([]model.Message)
		if !ok {
			return graph.NodeResult{}, fmt.Errorf("llm: state key %q is not []model.Message", opts.MessagesKey)
		}

		var tools []model.ToolSpec
		if opts.ToolsKey != "" {
			tools, _ = state[opts.ToolsKey].([]model.ToolSpec)
		}

		out, err := m.Chat(ctx, messages, tools)
		if err != nil {
			return graph.NodeResult{}, fmt.Errorf("llm: chat failed: %w", err)
		}

		if opts.Cost != nil {
			in, output := estimateTokens(messages, out)
			opts.Cost.RecordLLMCall(opts.ModelName, in, output, rc.ThreadID)
		}

		update := graph.State{opts.ReplyKey: out.Text}
		if len(out.ToolCalls) > 0 {
			update[opts.ToolCallsKey] = out.ToolCalls
		}
		return graph.NodeResult{Update: update}, nil
	}

	return graph.ActionFunc(action)
}

// estimateTokens approximates token counts from message and reply length
// since model.ChatOut carries no usage metadata. Roughly four characters
// per token, the common rule of thumb for English text.
func estimateTokens(messages []model.Message, out model.ChatOut) (input, output int) {
	var chars int
	for _, m := range messages {
		chars += len(m.Content)
	}
	input = chars / 4
	output = len(out.Text) / 4
	return input, output
}
