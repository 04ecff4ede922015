package breaker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/costwise-ai/costwise/internal/types"
)

// RatedRun is one feedback record joined with whether its underlying run
// was routed (served model differed from the requested model).
type RatedRun struct {
	Feedback types.QualityFeedback
	Routed   bool
}

// Store is the durable collaborator the breaker reads and writes. Feedback
// is append-only; the routing flag transition relies on the store's own
// conditional-update atomicity.
type Store interface {
	AppendFeedback(ctx context.Context, fb types.QualityFeedback) error
	RatedRuns(ctx context.Context, tenantID string, since time.Time) ([]RatedRun, error)
	RoutingFlag(ctx context.Context, tenantID string) (enabled bool, reason string, err error)
	SetRoutingFlag(ctx context.Context, tenantID string, enabled bool, reason string) error
}

// Config holds the trip condition. The defaults mirror the product's
// original tuning and are configuration, not validated constants.
type Config struct {
	MinRoutedSamples int     `yaml:"min_routed_samples"`
	MinRoutedRating  float64 `yaml:"min_routed_rating"`
	MaxQualityDrop   float64 `yaml:"max_quality_drop"`
	WindowDays       int     `yaml:"window_days"`
}

// DefaultConfig returns the stock trip condition.
func DefaultConfig() Config {
	return Config{
		MinRoutedSamples: 10,
		MinRoutedRating:  3.5,
		MaxQualityDrop:   0.5,
		WindowDays:       30,
	}
}

// Breaker trips a per-tenant routing-enabled flag when routed requests
// show degraded quality. The trip is one-directional: disabling is
// automatic, re-enabling requires an explicit administrative call.
type Breaker struct {
	store  Store
	config Config
	logger *logrus.Logger
	now    func() time.Time
}

// New creates a breaker over the given store.
func New(store Store, config Config, logger *logrus.Logger) *Breaker {
	if config.MinRoutedSamples <= 0 {
		config = DefaultConfig()
	}
	return &Breaker{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the breaker clock. Test hook for window behavior.
func (b *Breaker) SetClock(now func() time.Time) {
	b.now = now
}

// SubmitFeedback appends a quality rating and re-evaluates the trip
// condition. This is the only place the Enabled -> Disabled transition
// happens. Evaluation failures leave the flag in its last known state.
func (b *Breaker) SubmitFeedback(ctx context.Context, tenantID, runID string, rating int, comment, submitter string) (*types.QualityFeedback, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("rating must be between 1 and 5, got %d", rating)
	}
	if tenantID == "" || runID == "" {
		return nil, fmt.Errorf("tenant and run ids are required")
	}

	fb := types.QualityFeedback{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		RunID:     runID,
		Rating:    rating,
		Comment:   comment,
		Submitter: submitter,
		CreatedAt: b.now(),
	}

	if err := b.store.AppendFeedback(ctx, fb); err != nil {
		return nil, fmt.Errorf("append feedback: %w", err)
	}

	b.evaluate(ctx, tenantID)
	return &fb, nil
}

// evaluate recomputes metrics and trips the flag if the disable condition
// holds. Errors here are logged, never surfaced: the breaker stays in its
// last known state.
func (b *Breaker) evaluate(ctx context.Context, tenantID string) {
	metrics, err := b.Metrics(ctx, tenantID, b.config.WindowDays)
	if err != nil {
		b.logger.WithError(err).WithField("tenant", tenantID).Warn("Breaker evaluation failed, keeping last state")
		return
	}

	if !metrics.ShouldDisableRouting {
		return
	}

	enabled, _, err := b.store.RoutingFlag(ctx, tenantID)
	if err != nil {
		b.logger.WithError(err).WithField("tenant", tenantID).Warn("Failed to read routing flag")
		return
	}
	if !enabled {
		return // already tripped
	}

	reason := fmt.Sprintf(
		"routing disabled: routed quality %.2f vs non-routed %.2f (drop %.2f) over %d routed ratings",
		metrics.RoutedAvgRating, metrics.NonRoutedAvgRating, metrics.QualityDrop, metrics.RoutedFeedback,
	)
	if err := b.store.SetRoutingFlag(ctx, tenantID, false, reason); err != nil {
		b.logger.WithError(err).WithField("tenant", tenantID).Warn("Failed to trip routing flag")
		return
	}

	b.logger.WithFields(logrus.Fields{
		"tenant":          tenantID,
		"routed_avg":      metrics.RoutedAvgRating,
		"non_routed_avg":  metrics.NonRoutedAvgRating,
		"quality_drop":    metrics.QualityDrop,
		"routed_feedback": metrics.RoutedFeedback,
	}).Warn("Routing circuit breaker tripped")
}

// Metrics partitions the window's feedback into routed vs non-routed
// averages and evaluates the disable condition.
func (b *Breaker) Metrics(ctx context.Context, tenantID string, windowDays int) (*types.QualityMetrics, error) {
	if windowDays <= 0 {
		windowDays = b.config.WindowDays
	}
	since := b.now().AddDate(0, 0, -windowDays)

	rated, err := b.store.RatedRuns(ctx, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("load rated runs: %w", err)
	}

	var metrics types.QualityMetrics
	var totalSum, routedSum, nonRoutedSum int
	var nonRoutedCount int

	for _, r := range rated {
		metrics.TotalFeedback++
		totalSum += r.Feedback.Rating
		if r.Routed {
			metrics.RoutedFeedback++
			routedSum += r.Feedback.Rating
		} else {
			nonRoutedCount++
			nonRoutedSum += r.Feedback.Rating
		}
	}

	if metrics.TotalFeedback > 0 {
		metrics.AvgRating = float64(totalSum) / float64(metrics.TotalFeedback)
	}
	if metrics.RoutedFeedback > 0 {
		metrics.RoutedAvgRating = float64(routedSum) / float64(metrics.RoutedFeedback)
	}
	if nonRoutedCount > 0 {
		metrics.NonRoutedAvgRating = float64(nonRoutedSum) / float64(nonRoutedCount)
	}
	metrics.QualityDrop = metrics.NonRoutedAvgRating - metrics.RoutedAvgRating

	// The minimum-sample guard avoids tripping on early statistical noise.
	if metrics.RoutedFeedback >= b.config.MinRoutedSamples &&
		(metrics.RoutedAvgRating < b.config.MinRoutedRating ||
			metrics.QualityDrop > b.config.MaxQualityDrop) {
		metrics.ShouldDisableRouting = true
	}

	return &metrics, nil
}

// RoutingStatus reads the current flag. Tenants with no recorded flag are
// enabled. Callers on the request path treat an error as "do not route",
// the safe default when the flag cannot be read.
func (b *Breaker) RoutingStatus(ctx context.Context, tenantID string) (types.RoutingStatus, error) {
	enabled, reason, err := b.store.RoutingFlag(ctx, tenantID)
	if err != nil {
		return types.RoutingStatus{}, fmt.Errorf("read routing flag: %w", err)
	}
	status := types.RoutingStatus{TenantID: tenantID, Enabled: enabled}
	if !enabled {
		status.Reason = reason
	}
	return status, nil
}

// EnableRouting resets a tripped breaker. Intentionally a separate,
// explicit call: recovery requires a human decision.
func (b *Breaker) EnableRouting(ctx context.Context, tenantID string) error {
	if err := b.store.SetRoutingFlag(ctx, tenantID, true, ""); err != nil {
		return fmt.Errorf("enable routing: %w", err)
	}
	b.logger.WithField("tenant", tenantID).Info("Routing re-enabled by administrator")
	return nil
}
