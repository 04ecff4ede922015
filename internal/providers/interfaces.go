package providers

import (
	"context"

	"github.com/costwise-ai/costwise/internal/types"
)

// Completion is the provider-neutral result of an upstream call.
type Completion struct {
	Content string
	Model   string
	Usage   types.Usage
}

// LLMProvider is the upstream call surface the host uses after the engine
// has made its cache and routing decisions. model may differ from
// req.Model when the request was routed.
type LLMProvider interface {
	Name() string
	ChatCompletion(ctx context.Context, req *types.ChatRequest, model string) (*Completion, error)
	HealthCheck(ctx context.Context) error
}

// EstimateTokens gives a rough token count for a message list, used when a
// provider response carries no usage block. Four characters per token is
// the usual approximation for English text.
func EstimateTokens(messages []types.ChatMessage) int {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Role) + len(msg.Content)
	}
	return chars / 4
}
