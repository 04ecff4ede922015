package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/costwise-ai/costwise/internal/kvstore"
	"github.com/costwise-ai/costwise/internal/types"
)

// Key namespaces. Prefixing keeps engine keys from colliding with unrelated
// users of the shared store.
const (
	entryPrefix = "costwise:cache:"
	statsPrefix = "costwise:cachestats:"
)

// DefaultTTL is the cache entry lifetime when none is given.
const DefaultTTL = time.Hour

// Savings counters accumulate in hundredths of a cent to avoid compounding
// float rounding across many small increments.
const costUnit = 10000

// Gateway derives cache keys from request signatures and serves cached
// completions. Store failures degrade to cache misses; caching is an
// optimization and must never block the primary call path.
type Gateway struct {
	store  kvstore.Store
	logger *logrus.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewGateway creates a gateway over the given store. ttl <= 0 selects
// DefaultTTL.
func NewGateway(store kvstore.Store, ttl time.Duration, logger *logrus.Logger) *Gateway {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gateway{
		store:  store,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
}

// SetClock overrides the gateway clock. Test hook for day bucketing.
func (g *Gateway) SetClock(now func() time.Time) {
	g.now = now
}

// signature is the canonical serialized form of a request identity. Field
// order is fixed by the struct, so byte-identical input yields a
// byte-identical serialization.
type signature struct {
	Provider string              `json:"provider"`
	Model    string              `json:"model"`
	Messages []types.ChatMessage `json:"messages"`
}

// Key computes the namespaced cache key for a request signature.
func Key(provider, model string, messages []types.ChatMessage) string {
	data, _ := json.Marshal(signature{
		Provider: provider,
		Model:    model,
		Messages: messages,
	})
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s%x", entryPrefix, sum)
}

// Lookup returns the cached entry for the signature, or (nil, false) on
// miss. Store errors are logged and treated as misses.
func (g *Gateway) Lookup(ctx context.Context, provider, model string, messages []types.ChatMessage) (*types.CacheEntry, bool) {
	key := Key(provider, model, messages)

	raw, ok, err := g.store.Get(ctx, key)
	if err != nil {
		g.logger.WithError(err).Warn("Cache lookup failed, treating as miss")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var entry types.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		g.logger.WithError(err).Warn("Corrupt cache entry, treating as miss")
		return nil, false
	}

	return &entry, true
}

// Store writes a completion under the signature's key. Replaying an
// identical store is a no-op in effect (same key, same value). ttl <= 0
// selects the gateway default.
func (g *Gateway) Store(ctx context.Context, provider, model string, messages []types.ChatMessage, entry *types.CacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = g.ttl
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = g.now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	key := Key(provider, model, messages)
	if err := g.store.SetWithTTL(ctx, key, string(data), ttl); err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"model":       model,
		"ttl_seconds": int(ttl.Seconds()),
	}).Debug("Cached completion")
	return nil
}

// Purge removes the entry for one signature. Administrative use only;
// normal expiry is the store's TTL.
func (g *Gateway) Purge(ctx context.Context, provider, model string, messages []types.ChatMessage) error {
	return g.store.Delete(ctx, Key(provider, model, messages))
}

// TrackHit increments the per-day hit or miss counter and, on hit,
// accumulates the saved cost. Counter failures are logged and dropped; stats
// are best-effort.
func (g *Gateway) TrackHit(ctx context.Context, wasHit bool, savedCost float64) {
	day := g.now().UTC().Format("2006-01-02")

	var counterKey string
	if wasHit {
		counterKey = statsPrefix + "hits:" + day
	} else {
		counterKey = statsPrefix + "misses:" + day
	}

	if _, err := g.store.Incr(ctx, counterKey); err != nil {
		g.logger.WithError(err).Warn("Failed to track cache hit counter")
		return
	}

	if wasHit && savedCost > 0 {
		units := int64(math.Round(savedCost * costUnit))
		savingsKey := statsPrefix + "saved:" + day
		if _, err := g.store.IncrBy(ctx, savingsKey, units); err != nil {
			g.logger.WithError(err).Warn("Failed to track cache savings counter")
		}
	}
}

// Stats sums the daily counters over the past windowDays (today inclusive).
// Missing days contribute zero; hitRate is a percentage and 0 when no
// traffic was counted.
func (g *Gateway) Stats(ctx context.Context, windowDays int) (types.CacheStats, error) {
	if windowDays <= 0 {
		windowDays = 1
	}

	var stats types.CacheStats
	var savedUnits int64
	today := g.now().UTC()

	for i := 0; i < windowDays; i++ {
		day := today.AddDate(0, 0, -i).Format("2006-01-02")

		stats.Hits += g.readCounter(ctx, statsPrefix+"hits:"+day)
		stats.Misses += g.readCounter(ctx, statsPrefix+"misses:"+day)
		savedUnits += g.readCounter(ctx, statsPrefix+"saved:"+day)
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	stats.SavedCost = float64(savedUnits) / costUnit

	return stats, nil
}

// readCounter reads one daily counter, degrading errors to zero.
func (g *Gateway) readCounter(ctx context.Context, key string) int64 {
	raw, ok, err := g.store.Get(ctx, key)
	if err != nil {
		g.logger.WithError(err).WithField("key", key).Warn("Failed to read stats counter")
		return 0
	}
	if !ok {
		return 0
	}
	var n int64
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return 0
	}
	return n
}
