package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/systmms/credops/internal/audit"
)

// Compile-time interface satisfaction check.
var _ audit.Store = (*AuditRepo)(nil)

// AuditRepo is the SQLite implementation of the audit store.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates an audit repository.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Append writes one entry.
func (r *AuditRepo) Append(ctx context.Context, entry *audit.Entry) error {
	metadata := "{}"
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = string(encoded)
	}

	const query = `INSERT INTO audit_log (id, credential_id, action, principal, success, error, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		entry.ID, entry.CredentialID, string(entry.Action), entry.Principal,
		boolToInt(entry.Success), entry.Error, metadata, formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Query returns entries matching the filter, newest first.
func (r *AuditRepo) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var (
		conds []string
		args  []any
	)
	if filter.CredentialID != "" {
		conds = append(conds, "credential_id = ?")
		args = append(args, filter.CredentialID)
	}
	if filter.Principal != "" {
		conds = append(conds, "principal = ?")
		args = append(args, filter.Principal)
	}
	if filter.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, boolToInt(*filter.Success))
	}
	if !filter.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(filter.To))
	}

	query := `SELECT id, credential_id, action, principal, success, error, metadata, created_at FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			entry     audit.Entry
			action    string
			success   int
			metadata  string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.CredentialID, &action, &entry.Principal,
			&success, &entry.Error, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Action = audit.Action(action)
		entry.Success = success != 0
		if err := json.Unmarshal([]byte(metadata), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("decode audit metadata: %w", err)
		}
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return entries, nil
}

// DeleteOlderThan purges entries older than the cutoff.
func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM audit_log WHERE created_at < ?`
	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge audit log: %w", err)
	}
	return result.RowsAffected()
}
