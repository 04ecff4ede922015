package kvstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by TTL when the key does not exist.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the low-latency key/value collaborator the engine depends on.
// Implementations must provide atomic increments; the engine layers no
// locking of its own on top.
type Store interface {
	// Get returns the value for key. The bool reports presence; expired or
	// missing keys return ("", false, nil).
	Get(ctx context.Context, key string) (string, bool, error)

	// SetWithTTL stores value under key. A zero ttl means no expiry.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments the integer counter at key by one,
	// creating it at zero first if absent, and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// IncrBy atomically adds n to the counter at key and returns the new
	// value.
	IncrBy(ctx context.Context, key string, n int64) (int64, error)

	// TTL returns the remaining lifetime of key, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process Store used in tests and single-node setups.
type Memory struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values:  make(map[string]string),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Test hook for TTL behavior.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) expired(key string) bool {
	exp, ok := m.expires[key]
	return ok && m.now().After(exp)
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expired(key) {
		delete(m.values, key)
		delete(m.expires, key)
		return "", false, nil
	}

	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	if ttl > 0 {
		m.expires[key] = m.now().Add(ttl)
	} else {
		delete(m.expires, key)
	}
	return nil
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrBy(ctx, key, 1)
}

func (m *Memory) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expired(key) {
		delete(m.values, key)
		delete(m.expires, key)
	}

	current := parseCounter(m.values[key])
	current += n
	m.values[key] = formatCounter(current)
	return current, nil
}

func (m *Memory) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.values[key]; !ok || m.expired(key) {
		return 0, ErrNotFound
	}

	exp, ok := m.expires[key]
	if !ok {
		return 0, nil // no expiry
	}
	return exp.Sub(m.now()), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	delete(m.expires, key)
	return nil
}
