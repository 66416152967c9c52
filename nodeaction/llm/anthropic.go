package llm

import (
	"github.com/nodeflow/graphkit/graph"
	"github.com/nodeflow/graphkit/graph/model/anthropic"
)

// NewAnthropicAction builds a chat node action backed by Claude.
//
// Example:
//
//	g.AddNode("summarize", llm.NewAnthropicAction(apiKey, "claude-3-5-sonnet-20241022", llm.ChatOptions{
//	    Cost: tracker,
//	}))
func NewAnthropicAction(apiKey, modelName string, opts ChatOptions) graph.ActionFactory {
	m := anthropic.NewChatModel(apiKey, modelName)
	if opts.ModelName == "" {
		opts.ModelName = modelName
	}
	return NewChatAction(m, opts)
}
