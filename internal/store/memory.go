package store

import (
	"context"
	"sync"
	"time"

	"github.com/costwise-ai/costwise/internal/breaker"
	"github.com/costwise-ai/costwise/internal/types"
)

// Memory is an in-process store with the same surface as SQLite. Used in
// tests and for running the engine without a database file.
type Memory struct {
	mu       sync.Mutex
	runs     []types.Run
	feedback []types.QualityFeedback
	flags    map[string]flag
}

type flag struct {
	enabled bool
	reason  string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{flags: make(map[string]flag)}
}

func (m *Memory) RecordRun(ctx context.Context, run types.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) RunsBetween(ctx context.Context, tenantID string, start, end time.Time) ([]types.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Run
	for _, run := range m.runs {
		if run.TenantID != tenantID {
			continue
		}
		if run.CreatedAt.Before(start) || run.CreatedAt.After(end) {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

func (m *Memory) AppendFeedback(ctx context.Context, fb types.QualityFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, fb)
	return nil
}

func (m *Memory) RatedRuns(ctx context.Context, tenantID string, since time.Time) ([]breaker.RatedRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runByID := make(map[string]types.Run, len(m.runs))
	for _, run := range m.runs {
		runByID[run.ID] = run
	}

	var rated []breaker.RatedRun
	for _, fb := range m.feedback {
		if fb.TenantID != tenantID || fb.CreatedAt.Before(since) {
			continue
		}
		run, ok := runByID[fb.RunID]
		rated = append(rated, breaker.RatedRun{
			Feedback: fb,
			Routed:   ok && run.Routed(),
		})
	}
	return rated, nil
}

func (m *Memory) RoutingFlag(ctx context.Context, tenantID string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.flags[tenantID]
	if !ok {
		return true, "", nil
	}
	return f.enabled, f.reason, nil
}

func (m *Memory) SetRoutingFlag(ctx context.Context, tenantID string, enabled bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[tenantID] = flag{enabled: enabled, reason: reason}
	return nil
}
