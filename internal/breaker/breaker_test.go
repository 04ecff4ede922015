package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costwise-ai/costwise/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// memStore is a minimal in-package Store. Runs are registered up front so
// RatedRuns can resolve whether a rated run was routed.
type memStore struct {
	feedback []types.QualityFeedback
	routed   map[string]bool
	flags    map[string]struct {
		enabled bool
		reason  string
	}

	appendErr error
	flagErr   error
}

func newMemStore() *memStore {
	return &memStore{
		routed: make(map[string]bool),
		flags: make(map[string]struct {
			enabled bool
			reason  string
		}),
	}
}

func (m *memStore) AppendFeedback(ctx context.Context, fb types.QualityFeedback) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.feedback = append(m.feedback, fb)
	return nil
}

func (m *memStore) RatedRuns(ctx context.Context, tenantID string, since time.Time) ([]RatedRun, error) {
	var rated []RatedRun
	for _, fb := range m.feedback {
		if fb.TenantID != tenantID || fb.CreatedAt.Before(since) {
			continue
		}
		rated = append(rated, RatedRun{Feedback: fb, Routed: m.routed[fb.RunID]})
	}
	return rated, nil
}

func (m *memStore) RoutingFlag(ctx context.Context, tenantID string) (bool, string, error) {
	if m.flagErr != nil {
		return false, "", m.flagErr
	}
	f, ok := m.flags[tenantID]
	if !ok {
		return true, "", nil
	}
	return f.enabled, f.reason, nil
}

func (m *memStore) SetRoutingFlag(ctx context.Context, tenantID string, enabled bool, reason string) error {
	m.flags[tenantID] = struct {
		enabled bool
		reason  string
	}{enabled, reason}
	return nil
}

func submitRatings(t *testing.T, b *Breaker, store *memStore, tenant string, routed bool, ratings ...int) {
	t.Helper()
	for i, rating := range ratings {
		runID := tenant + "-run-"
		if routed {
			runID += "routed-"
		}
		runID += string(rune('a' + i))
		store.routed[runID] = routed
		_, err := b.SubmitFeedback(context.Background(), tenant, runID, rating, "", "tester")
		require.NoError(t, err)
	}
}

func TestSubmitFeedback_Validation(t *testing.T) {
	b := New(newMemStore(), DefaultConfig(), testLogger())
	ctx := context.Background()

	_, err := b.SubmitFeedback(ctx, "t1", "r1", 0, "", "")
	assert.Error(t, err)

	_, err = b.SubmitFeedback(ctx, "t1", "r1", 6, "", "")
	assert.Error(t, err)

	_, err = b.SubmitFeedback(ctx, "", "r1", 3, "", "")
	assert.Error(t, err)

	_, err = b.SubmitFeedback(ctx, "t1", "", 3, "", "")
	assert.Error(t, err)

	fb, err := b.SubmitFeedback(ctx, "t1", "r1", 3, "fine", "tester")
	require.NoError(t, err)
	assert.NotEmpty(t, fb.ID)
	assert.Equal(t, 3, fb.Rating)
}

func TestSubmitFeedback_AppendFailure(t *testing.T) {
	store := newMemStore()
	store.appendErr = errors.New("disk full")
	b := New(store, DefaultConfig(), testLogger())

	_, err := b.SubmitFeedback(context.Background(), "t1", "r1", 4, "", "")
	assert.Error(t, err)
}

func TestBreaker_SampleGuard(t *testing.T) {
	store := newMemStore()
	b := New(store, DefaultConfig(), testLogger())

	// Nine terrible routed ratings: one short of the minimum sample size
	submitRatings(t, b, store, "t1", true, 1, 1, 1, 1, 1, 1, 1, 1, 1)

	status, err := b.RoutingStatus(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, status.Enabled)

	metrics, err := b.Metrics(context.Background(), "t1", 30)
	require.NoError(t, err)
	assert.Equal(t, 9, metrics.RoutedFeedback)
	assert.False(t, metrics.ShouldDisableRouting)
}

func TestBreaker_TripsOnLowRoutedQuality(t *testing.T) {
	store := newMemStore()
	b := New(store, DefaultConfig(), testLogger())
	ctx := context.Background()

	// Ten routed ratings averaging 3.0 against non-routed averaging 4.5
	submitRatings(t, b, store, "t1", true, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3)
	submitRatings(t, b, store, "t1", false, 4, 5, 4, 5)

	metrics, err := b.Metrics(ctx, "t1", 30)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, metrics.RoutedAvgRating, 1e-9)
	assert.InDelta(t, 4.5, metrics.NonRoutedAvgRating, 1e-9)
	assert.InDelta(t, 1.5, metrics.QualityDrop, 1e-9)
	assert.True(t, metrics.ShouldDisableRouting)

	status, err := b.RoutingStatus(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.Contains(t, status.Reason, "routing disabled")
}

func TestBreaker_TripsOnAbsoluteRating(t *testing.T) {
	store := newMemStore()
	b := New(store, DefaultConfig(), testLogger())

	// Routed average 3.0 trips the absolute floor even with no non-routed
	// feedback to compare against
	submitRatings(t, b, store, "t1", true, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3)

	status, err := b.RoutingStatus(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, status.Enabled)
}

func TestBreaker_HealthyRoutingStaysEnabled(t *testing.T) {
	store := newMemStore()
	b := New(store, DefaultConfig(), testLogger())

	submitRatings(t, b, store, "t1", true, 4, 5, 4, 5, 4, 5, 4, 5, 4, 5)
	submitRatings(t, b, store, "t1", false, 4, 5, 4, 5)

	status, err := b.RoutingStatus(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
}

func TestBreaker_NoAutoRecovery(t *testing.T) {
	store := newMemStore()
	b := New(store, DefaultConfig(), testLogger())
	ctx := context.Background()

	submitRatings(t, b, store, "t1", true, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1)

	status, err := b.RoutingStatus(ctx, "t1")
	require.NoError(t, err)
	require.False(t, status.Enabled)

	// A flood of perfect routed ratings must not re-enable routing
	submitRatings(t, b, store, "t1", true, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5,
		5, 5, 5, 5, 5, 5, 5, 5, 5, 5)

	status, err = b.RoutingStatus(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, status.Enabled)
}

func TestBreaker_EnableRouting(t *testing.T) {
	store := newMemStore()
	b := New(store, DefaultConfig(), testLogger())
	ctx := context.Background()

	submitRatings(t, b, store, "t1", true, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1)

	status, err := b.RoutingStatus(ctx, "t1")
	require.NoError(t, err)
	require.False(t, status.Enabled)

	require.NoError(t, b.EnableRouting(ctx, "t1"))

	status, err = b.RoutingStatus(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.Empty(t, status.Reason)
}

func TestBreaker_TenantsAreIndependent(t *testing.T) {
	store := newMemStore()
	b := New(store, DefaultConfig(), testLogger())
	ctx := context.Background()

	submitRatings(t, b, store, "t1", true, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1)

	status, err := b.RoutingStatus(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, status.Enabled)

	status, err = b.RoutingStatus(ctx, "t2")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
}

func TestRoutingStatus_StoreError(t *testing.T) {
	store := newMemStore()
	store.flagErr = errors.New("db gone")
	b := New(store, DefaultConfig(), testLogger())

	_, err := b.RoutingStatus(context.Background(), "t1")
	assert.Error(t, err)
}

func TestMetrics_WindowCutoff(t *testing.T) {
	store := newMemStore()
	b := New(store, DefaultConfig(), testLogger())
	ctx := context.Background()

	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })

	store.routed["old"] = true
	store.feedback = append(store.feedback, types.QualityFeedback{
		ID: "f-old", TenantID: "t1", RunID: "old", Rating: 1,
		CreatedAt: now.AddDate(0, 0, -60),
	})

	metrics, err := b.Metrics(ctx, "t1", 30)
	require.NoError(t, err)
	assert.Zero(t, metrics.TotalFeedback)

	metrics, err = b.Metrics(ctx, "t1", 90)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.TotalFeedback)
}
