package llm

import (
	"github.com/nodeflow/graphkit/graph"
	"github.com/nodeflow/graphkit/graph/model/openai"
)

// NewOpenAIAction builds a chat node action backed by OpenAI's Chat
// Completions API.
func NewOpenAIAction(apiKey, modelName string, opts ChatOptions) graph.ActionFactory {
	m := openai.NewChatModel(apiKey, modelName)
	if opts.ModelName == "" {
		opts.ModelName = modelName
	}
	return NewChatAction(m, opts)
}
