package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/costwise-ai/costwise/internal/breaker"
	"github.com/costwise-ai/costwise/internal/cache"
	"github.com/costwise-ai/costwise/internal/classifier"
	"github.com/costwise-ai/costwise/internal/pricing"
	"github.com/costwise-ai/costwise/internal/savings"
	"github.com/costwise-ai/costwise/internal/types"
)

// RunStore records completed runs and serves them back for reporting.
type RunStore interface {
	RecordRun(ctx context.Context, run types.Run) error
	RunsBetween(ctx context.Context, tenantID string, start, end time.Time) ([]types.Run, error)
}

// Engine is the cost-optimization decision engine: cache gateway, routing
// classifier, quality circuit breaker and savings calculator behind one
// in-process API. All collaborators are injected; the engine holds no
// process-wide singletons.
type Engine struct {
	gateway    *cache.Gateway
	classifier *classifier.Classifier
	breaker    *breaker.Breaker
	calculator *savings.Calculator
	catalog    *pricing.Catalog
	runs       RunStore
	logger     *logrus.Logger
}

// New wires an engine from its parts.
func New(gateway *cache.Gateway, cls *classifier.Classifier, brk *breaker.Breaker, calc *savings.Calculator, catalog *pricing.Catalog, runs RunStore, logger *logrus.Logger) *Engine {
	return &Engine{
		gateway:    gateway,
		classifier: cls,
		breaker:    brk,
		calculator: calc,
		catalog:    catalog,
		runs:       runs,
		logger:     logger,
	}
}

// Catalog exposes the pricing table to the host.
func (e *Engine) Catalog() *pricing.Catalog {
	return e.catalog
}

// CheckCache looks up a cached completion for the request signature and
// records the hit or miss. On hit the entry's cost counts as saved.
func (e *Engine) CheckCache(ctx context.Context, provider, model string, messages []types.ChatMessage) (*types.CacheEntry, bool) {
	entry, hit := e.gateway.Lookup(ctx, provider, model, messages)
	if hit {
		e.gateway.TrackHit(ctx, true, entry.Cost)
		e.logger.WithFields(logrus.Fields{
			"model":      model,
			"saved_cost": entry.Cost,
		}).Debug("Cache hit")
		return entry, true
	}
	e.gateway.TrackHit(ctx, false, 0)
	return nil, false
}

// SaveToCache stores a completed upstream response. Cache failures are an
// optimization loss, not a request failure; callers may ignore the error.
func (e *Engine) SaveToCache(ctx context.Context, provider, model string, messages []types.ChatMessage, response string, inputTokens, outputTokens int, cost float64, ttl time.Duration) error {
	entry := &types.CacheEntry{
		Response:     response,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
	}
	if err := e.gateway.Store(ctx, provider, model, messages, entry, ttl); err != nil {
		e.logger.WithError(err).Warn("Failed to save completion to cache")
		return err
	}
	return nil
}

// PurgeCache removes one signature's entry. Administrative action.
func (e *Engine) PurgeCache(ctx context.Context, provider, model string, messages []types.ChatMessage) error {
	return e.gateway.Purge(ctx, provider, model, messages)
}

// CacheStats sums hit/miss/savings counters over the window.
func (e *Engine) CacheStats(ctx context.Context, windowDays int) (types.CacheStats, error) {
	return e.gateway.Stats(ctx, windowDays)
}

// DecideRouting consults the tenant's breaker flag and then the classifier.
// A disabled flag, or any failure to read it, yields the safe default: keep
// the requested model.
func (e *Engine) DecideRouting(ctx context.Context, tenantID, requestedModel string, messages []types.ChatMessage, taskType string) *types.RoutingDecision {
	status, err := e.breaker.RoutingStatus(ctx, tenantID)
	if err != nil {
		e.logger.WithError(err).WithField("tenant", tenantID).Warn("Routing flag unavailable, not routing")
		return &types.RoutingDecision{
			RequestedModel: requestedModel,
			TargetModel:    requestedModel,
			ShouldRoute:    false,
			Confidence:     1,
			Reasoning:      []string{"Routing flag unavailable, keeping requested model"},
		}
	}
	if !status.Enabled {
		return &types.RoutingDecision{
			RequestedModel: requestedModel,
			TargetModel:    requestedModel,
			ShouldRoute:    false,
			Confidence:     1,
			Reasoning:      []string{"Routing disabled for tenant: " + status.Reason},
		}
	}

	return e.classifier.Decide(requestedModel, messages, taskType)
}

// RecordRun appends the durable record of a completed request. An id is
// generated when the host does not supply one.
func (e *Engine) RecordRun(ctx context.Context, run types.Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if err := e.runs.RecordRun(ctx, run); err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	return run.ID, nil
}

// SubmitQualityFeedback appends a rating and lets the breaker re-evaluate
// the tenant's trip condition.
func (e *Engine) SubmitQualityFeedback(ctx context.Context, tenantID, runID string, rating int, comment, submitter string) (*types.QualityFeedback, error) {
	return e.breaker.SubmitFeedback(ctx, tenantID, runID, rating, comment, submitter)
}

// QualityMetrics reports the routed/non-routed quality partition.
func (e *Engine) QualityMetrics(ctx context.Context, tenantID string, windowDays int) (*types.QualityMetrics, error) {
	return e.breaker.Metrics(ctx, tenantID, windowDays)
}

// RoutingStatus reads the tenant's breaker flag.
func (e *Engine) RoutingStatus(ctx context.Context, tenantID string) (types.RoutingStatus, error) {
	return e.breaker.RoutingStatus(ctx, tenantID)
}

// EnableRouting resets a tripped breaker. Administrative action.
func (e *Engine) EnableRouting(ctx context.Context, tenantID string) error {
	return e.breaker.EnableRouting(ctx, tenantID)
}

// SavingsSummary builds the savings report for a window.
func (e *Engine) SavingsSummary(ctx context.Context, tenantID string, start, end time.Time) (*types.SavingsBreakdown, error) {
	return e.calculator.Savings(ctx, tenantID, start, end)
}
