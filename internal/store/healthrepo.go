package store

import (
	"context"
	"fmt"
	"time"

	"github.com/systmms/credops/internal/health"
)

// Compile-time interface satisfaction check.
var _ health.HistoryStore = (*HealthRepo)(nil)

// HealthRepo is the SQLite implementation of the health history store.
type HealthRepo struct {
	db *DB
}

// NewHealthRepo creates a health history repository.
func NewHealthRepo(db *DB) *HealthRepo {
	return &HealthRepo{db: db}
}

// SaveResult appends a result.
func (r *HealthRepo) SaveResult(ctx context.Context, result *health.Result) error {
	const query = `INSERT INTO health_checks (id, credential_id, status, latency_ms, error, checked_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		result.ID, result.CredentialID, string(result.Status),
		result.Latency.Milliseconds(), result.Error, formatTime(result.CheckedAt),
	)
	if err != nil {
		return fmt.Errorf("save health result: %w", err)
	}
	return nil
}

// ListRecent returns up to limit results for a credential, newest first.
func (r *HealthRepo) ListRecent(ctx context.Context, credentialID string, limit int) ([]health.Result, error) {
	const query = `SELECT id, credential_id, status, latency_ms, error, checked_at
		FROM health_checks WHERE credential_id = ? ORDER BY checked_at DESC LIMIT ?`
	return r.list(ctx, query, credentialID, limit)
}

// ListSince returns results at or after since, oldest first.
func (r *HealthRepo) ListSince(ctx context.Context, credentialID string, since time.Time) ([]health.Result, error) {
	const query = `SELECT id, credential_id, status, latency_ms, error, checked_at
		FROM health_checks WHERE credential_id = ? AND checked_at >= ? ORDER BY checked_at ASC`
	return r.list(ctx, query, credentialID, formatTime(since))
}

func (r *HealthRepo) list(ctx context.Context, query string, args ...any) ([]health.Result, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list health results: %w", err)
	}
	defer rows.Close()

	var results []health.Result
	for rows.Next() {
		var (
			result    health.Result
			status    string
			latencyMS int64
			checkedAt string
		)
		if err := rows.Scan(&result.ID, &result.CredentialID, &status, &latencyMS, &result.Error, &checkedAt); err != nil {
			return nil, fmt.Errorf("scan health result: %w", err)
		}
		result.Status = health.Status(status)
		result.Latency = time.Duration(latencyMS) * time.Millisecond
		if result.CheckedAt, err = parseTime(checkedAt); err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate health results: %w", err)
	}
	return results, nil
}

// DeleteOlderThan purges results older than the cutoff.
func (r *HealthRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM health_checks WHERE checked_at < ?`
	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge health history: %w", err)
	}
	return result.RowsAffected()
}
