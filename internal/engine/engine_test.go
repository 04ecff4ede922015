package engine

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costwise-ai/costwise/internal/breaker"
	"github.com/costwise-ai/costwise/internal/cache"
	"github.com/costwise-ai/costwise/internal/classifier"
	"github.com/costwise-ai/costwise/internal/kvstore"
	"github.com/costwise-ai/costwise/internal/pricing"
	"github.com/costwise-ai/costwise/internal/savings"
	"github.com/costwise-ai/costwise/internal/store"
	"github.com/costwise-ai/costwise/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testEngine(t *testing.T) *Engine {
	t.Helper()

	catalog, err := pricing.NewCatalog([]pricing.Entry{
		{Model: "gpt-4", Provider: "openai", InputCostPer1K: 0.03, OutputCostPer1K: 0.06, Tier: pricing.TierPremium},
		{Model: "gpt-4o-mini", Provider: "openai", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006, Tier: pricing.TierFree},
		{Model: "gpt-3.5-turbo", Provider: "openai", InputCostPer1K: 0.0015, OutputCostPer1K: 0.002, Tier: pricing.TierFree},
	}, "gpt-3.5-turbo", "gpt-4o-mini")
	require.NoError(t, err)

	logger := testLogger()
	db := store.NewMemory()
	gateway := cache.NewGateway(kvstore.NewMemory(), time.Hour, logger)
	cls := classifier.New(classifier.DefaultHeuristics(), classifier.DefaultThresholds(),
		map[string]string{"gpt-4": "gpt-4o-mini"}, "gpt-4o-mini", logger)
	brk := breaker.New(db, breaker.DefaultConfig(), logger)
	calc := savings.New(db, gateway, catalog, logger)

	return New(gateway, cls, brk, calc, catalog, db, logger)
}

func userMessage(content string) []types.ChatMessage {
	return []types.ChatMessage{{Role: "user", Content: content}}
}

func TestEngine_CacheMissThenHit(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t)
	messages := userMessage("What is the capital of France?")

	_, hit := e.CheckCache(ctx, "openai", "gpt-4", messages)
	assert.False(t, hit)

	require.NoError(t, e.SaveToCache(ctx, "openai", "gpt-4", messages, "Paris.", 20, 5, 0.001, 0))

	entry, hit := e.CheckCache(ctx, "openai", "gpt-4", messages)
	require.True(t, hit)
	assert.Equal(t, "Paris.", entry.Response)
	assert.Equal(t, 0.001, entry.Cost)

	// The hit's cost shows up as cache savings
	stats, err := e.CacheStats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.001, stats.SavedCost, 1e-9)
}

func TestEngine_PurgeCache(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t)
	messages := userMessage("What is the capital of France?")

	require.NoError(t, e.SaveToCache(ctx, "openai", "gpt-4", messages, "Paris.", 20, 5, 0.001, 0))
	require.NoError(t, e.PurgeCache(ctx, "openai", "gpt-4", messages))

	_, hit := e.CheckCache(ctx, "openai", "gpt-4", messages)
	assert.False(t, hit)
}

func TestEngine_DecideRouting(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t)

	decision := e.DecideRouting(ctx, "t1", "gpt-4", userMessage("Hi"), "")
	assert.True(t, decision.ShouldRoute)
	assert.Equal(t, "gpt-4o-mini", decision.TargetModel)
}

func TestEngine_DecideRouting_DisabledTenant(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t)

	// Trip the breaker with ten bad routed ratings
	for i := 0; i < 10; i++ {
		runID, err := e.RecordRun(ctx, types.Run{
			TenantID: "t1", RequestedModel: "gpt-4", ServedModel: "gpt-4o-mini",
		})
		require.NoError(t, err)
		_, err = e.SubmitQualityFeedback(ctx, "t1", runID, 1, "", "tester")
		require.NoError(t, err)
	}

	status, err := e.RoutingStatus(ctx, "t1")
	require.NoError(t, err)
	require.False(t, status.Enabled)

	decision := e.DecideRouting(ctx, "t1", "gpt-4", userMessage("Hi"), "")
	assert.False(t, decision.ShouldRoute)
	assert.Equal(t, "gpt-4", decision.TargetModel)

	// Other tenants keep routing
	decision = e.DecideRouting(ctx, "t2", "gpt-4", userMessage("Hi"), "")
	assert.True(t, decision.ShouldRoute)

	// Until an administrator resets the flag
	require.NoError(t, e.EnableRouting(ctx, "t1"))
	decision = e.DecideRouting(ctx, "t1", "gpt-4", userMessage("Hi"), "")
	assert.True(t, decision.ShouldRoute)
}

func TestEngine_RecordRunDefaults(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t)

	runID, err := e.RecordRun(ctx, types.Run{
		TenantID: "t1", RequestedModel: "gpt-4", ServedModel: "gpt-4",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	// A supplied id is kept
	runID, err = e.RecordRun(ctx, types.Run{
		ID: "my-id", TenantID: "t1", RequestedModel: "gpt-4", ServedModel: "gpt-4",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "my-id", runID)
}

func TestEngine_QualityMetrics(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t)

	runID, err := e.RecordRun(ctx, types.Run{
		TenantID: "t1", RequestedModel: "gpt-4", ServedModel: "gpt-4o-mini",
	})
	require.NoError(t, err)

	_, err = e.SubmitQualityFeedback(ctx, "t1", runID, 4, "good", "tester")
	require.NoError(t, err)

	metrics, err := e.QualityMetrics(ctx, "t1", 30)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.TotalFeedback)
	assert.Equal(t, 1, metrics.RoutedFeedback)
	assert.InDelta(t, 4.0, metrics.RoutedAvgRating, 1e-9)
	assert.False(t, metrics.ShouldDisableRouting)
}

func TestEngine_SavingsSummary(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t)
	catalog := e.Catalog()

	actual := catalog.Cost("gpt-4o-mini", 1000, 1000)
	_, err := e.RecordRun(ctx, types.Run{
		TenantID: "t1", RequestedModel: "gpt-4", ServedModel: "gpt-4o-mini",
		InputTokens: 1000, OutputTokens: 1000, Cost: actual,
	})
	require.NoError(t, err)

	start := time.Now().AddDate(0, 0, -1)
	end := time.Now().AddDate(0, 0, 1)
	breakdown, err := e.SavingsSummary(ctx, "t1", start, end)
	require.NoError(t, err)

	baseline := catalog.Cost("gpt-4", 1000, 1000)
	assert.InDelta(t, baseline-actual, breakdown.RoutingSavings, 1e-9)
	assert.GreaterOrEqual(t, breakdown.TotalSaved, 0.0)
}
