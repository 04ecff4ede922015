package types

import (
	"time"
)

// ChatMessage is a single message in a conversation. The ordered message
// list, together with provider and model, forms the request signature used
// for cache-key derivation.
type ChatMessage struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// ChatRequest is the inbound request handled by the optimization path.
type ChatRequest struct {
	ID          string        `json:"id"`
	Provider    string        `json:"provider"`
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`

	// Routing hints
	TaskType string `json:"task_type,omitempty"` // e.g. "simple", "analysis"

	// Metadata
	TenantID  string    `json:"tenant_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatResponse is the outcome of a completion, whether served upstream or
// from cache.
type ChatResponse struct {
	ID           string        `json:"id"`
	Model        string        `json:"model"`
	Content      string        `json:"content"`
	Usage        Usage         `json:"usage"`
	CacheHit     bool          `json:"cache_hit"`
	CostMetadata *CostMetadata `json:"cost_metadata,omitempty"`
}

// Usage holds token accounting for a completed call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// CostMetadata reports what the optimization layer did for one request.
type CostMetadata struct {
	RequestedModel string  `json:"requested_model"`
	ServedModel    string  `json:"served_model"`
	Routed         bool    `json:"routed"`
	ActualCost     float64 `json:"actual_cost"`
	BaselineCost   float64 `json:"baseline_cost"`
	SavedCost      float64 `json:"saved_cost"`
}
