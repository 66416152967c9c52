package llm

import (
	"github.com/nodeflow/graphkit/graph"
	"github.com/nodeflow/graphkit/graph/model/google"
)

// NewGoogleAction builds a chat node action backed by Gemini.
func NewGoogleAction(apiKey, modelName string, opts ChatOptions) graph.ActionFactory {
	m := google.NewChatModel(apiKey, modelName)
	if opts.ModelName == "" {
		opts.ModelName = modelName
	}
	return NewChatAction(m, opts)
}
