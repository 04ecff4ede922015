package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.SetWithTTL(ctx, "k", "v", 0))

	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestMemory_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.SetWithTTL(ctx, "k", "v", time.Minute))

	remaining, err := m.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, remaining)

	// Advance past expiry
	now = now.Add(2 * time.Minute)

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.TTL(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_NoTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.SetWithTTL(ctx, "k", "v", 0))

	now = now.AddDate(1, 0, 0)

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	remaining, err := m.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestMemory_Incr(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	n, err := m.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = m.IncrBy(ctx, "counter", 41)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	v, ok, err := m.Get(ctx, "counter")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "42", v)
}

func TestMemory_IncrMalformedResetsToZero(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.SetWithTTL(ctx, "counter", "not-a-number", 0))

	n, err := m.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.SetWithTTL(ctx, "k", "v", 0))
	require.NoError(t, m.Delete(ctx, "k"))

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing key is not an error
	assert.NoError(t, m.Delete(ctx, "k"))
}

func TestParseCounter(t *testing.T) {
	assert.Equal(t, int64(0), parseCounter(""))
	assert.Equal(t, int64(0), parseCounter("garbage"))
	assert.Equal(t, int64(-7), parseCounter("-7"))
	assert.Equal(t, int64(123), parseCounter(formatCounter(123)))
}
