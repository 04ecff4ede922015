package savings

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/costwise-ai/costwise/internal/pricing"
	"github.com/costwise-ai/costwise/internal/types"
)

// RunSource provides completed run records for a window.
type RunSource interface {
	RunsBetween(ctx context.Context, tenantID string, start, end time.Time) ([]types.Run, error)
}

// CacheStatsSource provides the cache gateway's saved-cost counters. The
// calculator reuses those figures rather than recomputing them.
type CacheStatsSource interface {
	Stats(ctx context.Context, windowDays int) (types.CacheStats, error)
}

// Calculator reconciles actual spend against the baseline of what the
// originally requested models would have cost. Read-only and derived; the
// run records and cache counters remain the system of record.
type Calculator struct {
	runs    RunSource
	cache   CacheStatsSource
	catalog *pricing.Catalog
	logger  *logrus.Logger
}

// New creates a calculator.
func New(runs RunSource, cache CacheStatsSource, catalog *pricing.Catalog, logger *logrus.Logger) *Calculator {
	return &Calculator{
		runs:    runs,
		cache:   cache,
		catalog: catalog,
		logger:  logger,
	}
}

// Savings builds the savings report for a tenant over [start, end]. A
// failure to read one data source degrades that term to zero rather than
// aborting the report.
func (c *Calculator) Savings(ctx context.Context, tenantID string, start, end time.Time) (*types.SavingsBreakdown, error) {
	breakdown := &types.SavingsBreakdown{}

	runs, err := c.runs.RunsBetween(ctx, tenantID, start, end)
	if err != nil {
		c.logger.WithError(err).WithField("tenant", tenantID).Warn("Failed to load runs, routing savings degraded to zero")
		runs = nil
	}

	for _, run := range runs {
		// Baseline: what the originally requested model would have cost.
		// Unknown models price via the catalog fallback, so this never
		// fails on missing pricing data.
		baseline := c.catalog.Cost(run.RequestedModel, run.InputTokens, run.OutputTokens)
		breakdown.BaselineCost += baseline
		breakdown.ActualCost += run.Cost

		if run.Routed() {
			// Clipped at zero: a routing decision that happened to cost
			// more must not cancel out other gains.
			breakdown.RoutingSavings += math.Max(0, baseline-run.Cost)
		}
	}

	windowDays := int(math.Ceil(end.Sub(start).Hours()/24)) + 1
	if stats, err := c.cache.Stats(ctx, windowDays); err != nil {
		c.logger.WithError(err).Warn("Cache stats unavailable, cache savings degraded to zero")
	} else {
		breakdown.CacheSavings = stats.SavedCost
	}

	// Prompt-optimization savings stay zero until the optimizer subsystem
	// contributes a figure.
	breakdown.OptimizationSavings = 0

	breakdown.TotalSaved = breakdown.RoutingSavings + breakdown.CacheSavings + breakdown.OptimizationSavings
	if breakdown.BaselineCost > 0 {
		breakdown.SavingsRate = breakdown.TotalSaved / breakdown.BaselineCost
	}

	return breakdown, nil
}

// ROI returns the return on the subscription as a percentage. Zero when
// there is no subscription cost (free tier has no ROI concept).
func ROI(totalSaved, subscriptionCost float64) float64 {
	if subscriptionCost == 0 {
		return 0
	}
	return (totalSaved - subscriptionCost) / subscriptionCost * 100
}
