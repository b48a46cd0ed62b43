// Package llm provides the language model transport used by the agent.
package llm

import "context"

// Client is the interface the agent loop talks to. Tools are passed in
// OpenAI function format and converted at the provider boundary.
type Client interface {
	// Chat sends one completion request and returns the response. When
	// tools is non-empty the model chooses per turn whether to call any.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable and the credentials work.
	Ping(ctx context.Context) error
}
