package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/costwise-ai/costwise/internal/breaker"
	"github.com/costwise-ai/costwise/internal/types"
)

// SQLite persists run records, quality feedback and routing flags. Runs and
// feedback are append-only; only the routing flag is mutable, and its
// update is a single conditional statement.
type SQLite struct {
	db *sql.DB
}

const migrate = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	requested_model TEXT NOT NULL,
	served_model    TEXT NOT NULL,
	input_tokens    INTEGER NOT NULL,
	output_tokens   INTEGER NOT NULL,
	cost            REAL NOT NULL,
	cache_hit       INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_tenant_created ON runs(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS quality_feedback (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	rating     INTEGER NOT NULL,
	comment    TEXT NOT NULL DEFAULT '',
	submitter  TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_tenant_created ON quality_feedback(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS routing_flags (
	tenant_id  TEXT PRIMARY KEY,
	enabled    INTEGER NOT NULL DEFAULT 1,
	reason     TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL
);
`

// New opens (and migrates) the store at path.
func New(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}

	if _, err := db.Exec(migrate); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}

	return &SQLite{db: db}, nil
}

// RecordRun appends a completed run.
func (s *SQLite) RecordRun(ctx context.Context, run types.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, tenant_id, requested_model, served_model, input_tokens, output_tokens, cost, cache_hit, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TenantID, run.RequestedModel, run.ServedModel,
		run.InputTokens, run.OutputTokens, run.Cost, boolInt(run.CacheHit),
		run.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RunsBetween returns a tenant's runs in [start, end].
func (s *SQLite) RunsBetween(ctx context.Context, tenantID string, start, end time.Time) ([]types.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, requested_model, served_model, input_tokens, output_tokens, cost, cache_hit, created_at
		 FROM runs WHERE tenant_id = ? AND created_at >= ? AND created_at <= ?
		 ORDER BY created_at`,
		tenantID, start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []types.Run
	for rows.Next() {
		var run types.Run
		var cacheHit int
		if err := rows.Scan(&run.ID, &run.TenantID, &run.RequestedModel, &run.ServedModel,
			&run.InputTokens, &run.OutputTokens, &run.Cost, &cacheHit, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.CacheHit = cacheHit != 0
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AppendFeedback appends a quality rating. Feedback rows are never updated
// or deleted.
func (s *SQLite) AppendFeedback(ctx context.Context, fb types.QualityFeedback) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quality_feedback (id, tenant_id, run_id, rating, comment, submitter, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fb.ID, fb.TenantID, fb.RunID, fb.Rating, fb.Comment, fb.Submitter, fb.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

// RatedRuns joins feedback since the cutoff with whether the rated run was
// routed. Feedback for runs that no longer resolve counts as non-routed.
func (s *SQLite) RatedRuns(ctx context.Context, tenantID string, since time.Time) ([]breaker.RatedRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.tenant_id, f.run_id, f.rating, f.comment, f.submitter, f.created_at,
		        COALESCE(r.requested_model, ''), COALESCE(r.served_model, '')
		 FROM quality_feedback f
		 LEFT JOIN runs r ON r.id = f.run_id
		 WHERE f.tenant_id = ? AND f.created_at >= ?`,
		tenantID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query rated runs: %w", err)
	}
	defer rows.Close()

	var rated []breaker.RatedRun
	for rows.Next() {
		var r breaker.RatedRun
		var requested, served string
		if err := rows.Scan(&r.Feedback.ID, &r.Feedback.TenantID, &r.Feedback.RunID,
			&r.Feedback.Rating, &r.Feedback.Comment, &r.Feedback.Submitter, &r.Feedback.CreatedAt,
			&requested, &served); err != nil {
			return nil, fmt.Errorf("scan rated run: %w", err)
		}
		r.Routed = served != "" && served != requested
		rated = append(rated, r)
	}
	return rated, rows.Err()
}

// RoutingFlag reads a tenant's flag. Tenants without a row are enabled.
func (s *SQLite) RoutingFlag(ctx context.Context, tenantID string) (bool, string, error) {
	var enabled int
	var reason string
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled, reason FROM routing_flags WHERE tenant_id = ?`, tenantID,
	).Scan(&enabled, &reason)
	if err == sql.ErrNoRows {
		return true, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("read routing flag: %w", err)
	}
	return enabled != 0, reason, nil
}

// SetRoutingFlag upserts a tenant's flag in one atomic statement.
func (s *SQLite) SetRoutingFlag(ctx context.Context, tenantID string, enabled bool, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routing_flags (tenant_id, enabled, reason, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(tenant_id) DO UPDATE SET enabled = excluded.enabled, reason = excluded.reason, updated_at = excluded.updated_at`,
		tenantID, boolInt(enabled), reason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set routing flag: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
