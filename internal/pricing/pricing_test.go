package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntries() []Entry {
	return []Entry{
		{Model: "gpt-4", Provider: "openai", InputCostPer1K: 0.03, OutputCostPer1K: 0.06, Tier: TierPremium},
		{Model: "gpt-4o-mini", Provider: "openai", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006, Tier: TierFree},
		{Model: "gpt-3.5-turbo", Provider: "openai", InputCostPer1K: 0.0015, OutputCostPer1K: 0.002, Tier: TierFree},
	}
}

func TestNewCatalog(t *testing.T) {
	catalog, err := NewCatalog(testEntries(), "gpt-3.5-turbo", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", catalog.CheapestModel())
	assert.Equal(t, "gpt-3.5-turbo", catalog.FallbackModel())
	assert.Len(t, catalog.Models(), 3)
}

func TestNewCatalog_Validation(t *testing.T) {
	tests := []struct {
		name     string
		entries  []Entry
		fallback string
		cheapest string
	}{
		{
			name:     "empty catalog",
			entries:  nil,
			fallback: "gpt-4",
			cheapest: "gpt-4",
		},
		{
			name: "negative price",
			entries: []Entry{
				{Model: "m", Provider: "openai", InputCostPer1K: -1, OutputCostPer1K: 1, Tier: TierFree},
			},
			fallback: "m",
			cheapest: "m",
		},
		{
			name: "output below input",
			entries: []Entry{
				{Model: "m", Provider: "openai", InputCostPer1K: 0.02, OutputCostPer1K: 0.01, Tier: TierFree},
			},
			fallback: "m",
			cheapest: "m",
		},
		{
			name: "unknown tier",
			entries: []Entry{
				{Model: "m", Provider: "openai", InputCostPer1K: 0.01, OutputCostPer1K: 0.02, Tier: "platinum"},
			},
			fallback: "m",
			cheapest: "m",
		},
		{
			name:     "fallback not in catalog",
			entries:  testEntries(),
			fallback: "missing",
			cheapest: "gpt-4o-mini",
		},
		{
			name:     "cheapest not in catalog",
			entries:  testEntries(),
			fallback: "gpt-3.5-turbo",
			cheapest: "missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.entries, tt.fallback, tt.cheapest)
			assert.Error(t, err)
		})
	}
}

func TestCatalog_Cost(t *testing.T) {
	catalog, err := NewCatalog(testEntries(), "gpt-3.5-turbo", "gpt-4o-mini")
	require.NoError(t, err)

	// 1000 input at 0.03/1K plus 500 output at 0.06/1K
	cost := catalog.Cost("gpt-4", 1000, 500)
	assert.InDelta(t, 0.06, cost, 1e-9)

	assert.Zero(t, catalog.Cost("gpt-4", 0, 0))
}

func TestCatalog_Lookup_UnknownFallsBack(t *testing.T) {
	catalog, err := NewCatalog(testEntries(), "gpt-3.5-turbo", "gpt-4o-mini")
	require.NoError(t, err)

	entry, known := catalog.Lookup("some-future-model")
	assert.False(t, known)
	assert.Equal(t, "gpt-3.5-turbo", entry.Model)

	// Unknown models price via the fallback entry
	assert.Equal(t,
		catalog.Cost("gpt-3.5-turbo", 1000, 1000),
		catalog.Cost("some-future-model", 1000, 1000))
}

func TestCatalog_TierAllows(t *testing.T) {
	catalog, err := NewCatalog(testEntries(), "gpt-3.5-turbo", "gpt-4o-mini")
	require.NoError(t, err)

	assert.True(t, catalog.TierAllows(TierPremium, "gpt-4"))
	assert.False(t, catalog.TierAllows(TierFree, "gpt-4"))
	assert.True(t, catalog.TierAllows(TierFree, "gpt-4o-mini"))
	assert.True(t, catalog.TierAllows(TierStandard, "gpt-3.5-turbo"))

	// Unknown models are priced, not access-gated
	assert.True(t, catalog.TierAllows(TierFree, "some-future-model"))
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("Premium")
	require.NoError(t, err)
	assert.Equal(t, TierPremium, tier)

	_, err = ParseTier("platinum")
	assert.Error(t, err)
}
