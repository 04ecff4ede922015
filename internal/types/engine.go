package types

import (
	"time"
)

// CacheEntry is a cached completion keyed by the request signature hash.
// Entries are created on cache miss and read-only afterwards; the store's
// TTL handles expiry.
type CacheEntry struct {
	Response     string    `json:"response"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	CachedAt     time.Time `json:"cached_at"`
}

// CacheStats aggregates the daily hit/miss counters over a window.
type CacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"` // percentage in [0,100]
	SavedCost float64 `json:"saved_cost"`
}

// RoutingDecision is the classifier's verdict for one request. It is
// ephemeral; only its outcome (served model != requested model) is recorded
// on the resulting Run.
type RoutingDecision struct {
	RequestedModel string   `json:"requested_model"`
	TargetModel    string   `json:"target_model"`
	ShouldRoute    bool     `json:"should_route"`
	Confidence     float64  `json:"confidence"`
	Complexity     float64  `json:"complexity"`
	Critical       bool     `json:"critical"`
	Reasoning      []string `json:"reasoning"`
}

// Run is the durable record of one completed request, owned by the
// persistence layer. The savings calculator and circuit breaker read runs
// in aggregate.
type Run struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	RequestedModel string    `json:"requested_model"`
	ServedModel    string    `json:"served_model"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	Cost           float64   `json:"cost"`
	CacheHit       bool      `json:"cache_hit"`
	CreatedAt      time.Time `json:"created_at"`
}

// Routed reports whether the run was served by a different model than the
// one originally requested.
func (r *Run) Routed() bool {
	return r.ServedModel != "" && r.ServedModel != r.RequestedModel
}

// QualityFeedback is a user-submitted rating tied to a run. Append-only.
type QualityFeedback struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	RunID     string    `json:"run_id"`
	Rating    int       `json:"rating"` // 1-5
	Comment   string    `json:"comment,omitempty"`
	Submitter string    `json:"submitter,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// QualityMetrics partitions recent feedback into routed vs non-routed
// averages. QualityDrop = NonRoutedAvgRating - RoutedAvgRating.
type QualityMetrics struct {
	AvgRating            float64 `json:"avg_rating"`
	TotalFeedback        int     `json:"total_feedback"`
	RoutedFeedback       int     `json:"routed_feedback"`
	RoutedAvgRating      float64 `json:"routed_avg_rating"`
	NonRoutedAvgRating   float64 `json:"non_routed_avg_rating"`
	QualityDrop          float64 `json:"quality_drop"`
	ShouldDisableRouting bool    `json:"should_disable_routing"`
}

// RoutingStatus is the current per-tenant breaker state.
type RoutingStatus struct {
	TenantID string `json:"tenant_id"`
	Enabled  bool   `json:"enabled"`
	Reason   string `json:"reason,omitempty"`
}

// SavingsBreakdown is the derived savings report for a tenant over a
// window. The underlying run records and cache counters stay authoritative;
// this is recomputed on demand.
type SavingsBreakdown struct {
	TotalSaved          float64 `json:"total_saved"`
	RoutingSavings      float64 `json:"routing_savings"`
	CacheSavings        float64 `json:"cache_savings"`
	OptimizationSavings float64 `json:"optimization_savings"`
	BaselineCost        float64 `json:"baseline_cost"`
	ActualCost          float64 `json:"actual_cost"`
	SavingsRate         float64 `json:"savings_rate"`
}
