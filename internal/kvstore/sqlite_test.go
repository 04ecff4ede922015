package kvstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "kv.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_SetGet(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetWithTTL(ctx, "k", "v", 0))

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	// Overwrite
	require.NoError(t, s.SetWithTTL(ctx, "k", "v2", 0))
	v, _, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestSQLite_Expiry(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	// Already-expired entry reads as missing
	require.NoError(t, s.SetWithTTL(ctx, "gone", "v", -time.Second))

	_, ok, err := s.Get(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetWithTTL(ctx, "alive", "v", time.Hour))
	remaining, err := s.TTL(ctx, "alive")
	require.NoError(t, err)
	assert.Greater(t, remaining, 50*time.Minute)
}

func TestSQLite_TTLNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	_, err := s.TTL(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_Incr(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	n, err := s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.IncrBy(ctx, "counter", 9)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func TestSQLite_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.SetWithTTL(ctx, "k", "v", 0))
	require.NoError(t, s.Delete(ctx, "k"))

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.Delete(ctx, "k"))
}
