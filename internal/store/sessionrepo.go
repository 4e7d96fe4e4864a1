package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/rotation"
)

// Compile-time interface satisfaction check.
var _ rotation.SessionStore = (*SessionRepo)(nil)

// SessionRepo is the SQLite implementation of the rotation session store.
// The one-active-session invariant is enforced by a partial unique index
// on (credential_id) over non-terminal statuses.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a rotation session repository.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `id, credential_id, status, initiated_by, grace_period_ms,
	grace_entered_at, old_secret_preview, new_secret_preview, error,
	started_at, completed_at, transitions`

// Claim atomically creates the session. A concurrent claim for the same
// credential trips the partial unique index and surfaces as a state
// conflict.
func (r *SessionRepo) Claim(ctx context.Context, session *rotation.Session) error {
	transitions, err := json.Marshal(session.Transitions)
	if err != nil {
		return fmt.Errorf("encode session transitions: %w", err)
	}

	const query = `INSERT INTO rotation_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Writer.ExecContext(ctx, query,
		session.ID, session.CredentialID, session.Status.String(), session.InitiatedBy,
		session.GracePeriod.Milliseconds(), formatTimePtr(session.GraceEnteredAt),
		session.OldSecretPreview, session.NewSecretPreview, session.Error,
		formatTime(session.StartedAt), formatTimePtr(session.CompletedAt), string(transitions),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.StateConflictError{
				Operation: "start rotation",
				Current:   "another session is active",
				Expected:  "no active session",
			}
		}
		return fmt.Errorf("claim rotation session: %w", err)
	}
	return nil
}

// Get returns the session with the given ID.
func (r *SessionRepo) Get(ctx context.Context, id string) (*rotation.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM rotation_sessions WHERE id = ?`
	session, err := scanSession(r.db.Reader.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError{Kind: "rotation session", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get rotation session %q: %w", id, err)
	}
	return session, nil
}

// GetActive returns the non-terminal session for a credential.
func (r *SessionRepo) GetActive(ctx context.Context, credentialID string) (*rotation.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM rotation_sessions
		WHERE credential_id = ? AND status IN ('in_progress', 'grace_period')`
	session, err := scanSession(r.db.Reader.QueryRowContext(ctx, query, credentialID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError{Kind: "active rotation session", ID: credentialID}
	}
	if err != nil {
		return nil, fmt.Errorf("get active rotation session for %q: %w", credentialID, err)
	}
	return session, nil
}

// Update persists the session's current state.
func (r *SessionRepo) Update(ctx context.Context, session *rotation.Session) error {
	transitions, err := json.Marshal(session.Transitions)
	if err != nil {
		return fmt.Errorf("encode session transitions: %w", err)
	}

	const query = `UPDATE rotation_sessions SET
		status = ?, grace_entered_at = ?, old_secret_preview = ?,
		new_secret_preview = ?, error = ?, completed_at = ?, transitions = ?
		WHERE id = ?`
	result, err := r.db.Writer.ExecContext(ctx, query,
		session.Status.String(), formatTimePtr(session.GraceEnteredAt),
		session.OldSecretPreview, session.NewSecretPreview, session.Error,
		formatTimePtr(session.CompletedAt), string(transitions), session.ID,
	)
	if err != nil {
		return fmt.Errorf("update rotation session %q: %w", session.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NotFoundError{Kind: "rotation session", ID: session.ID}
	}
	return nil
}

// ListInGrace returns grace-period sessions whose deadline has passed.
// The deadline check happens in Go since it derives from two columns.
func (r *SessionRepo) ListInGrace(ctx context.Context, now time.Time) ([]*rotation.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM rotation_sessions
		WHERE status = 'grace_period' ORDER BY started_at ASC`
	sessions, err := r.list(ctx, query)
	if err != nil {
		return nil, err
	}

	var due []*rotation.Session
	for _, session := range sessions {
		if !now.Before(session.GraceDeadline()) {
			due = append(due, session)
		}
	}
	return due, nil
}

// ListByCredential returns all sessions for a credential, newest first.
func (r *SessionRepo) ListByCredential(ctx context.Context, credentialID string) ([]*rotation.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM rotation_sessions
		WHERE credential_id = ? ORDER BY started_at DESC`
	return r.list(ctx, query, credentialID)
}

func (r *SessionRepo) list(ctx context.Context, query string, args ...any) ([]*rotation.Session, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rotation sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*rotation.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rotation session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rotation sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(row scanner) (*rotation.Session, error) {
	var (
		session        rotation.Session
		status         string
		gracePeriodMS  int64
		graceEnteredAt sql.NullString
		startedAt      string
		completedAt    sql.NullString
		transitions    string
	)
	err := row.Scan(
		&session.ID, &session.CredentialID, &status, &session.InitiatedBy,
		&gracePeriodMS, &graceEnteredAt, &session.OldSecretPreview,
		&session.NewSecretPreview, &session.Error, &startedAt, &completedAt,
		&transitions,
	)
	if err != nil {
		return nil, err
	}

	session.Status = rotation.Status(status)
	session.GracePeriod = time.Duration(gracePeriodMS) * time.Millisecond
	if session.GraceEnteredAt, err = parseTimePtr(graceEnteredAt); err != nil {
		return nil, err
	}
	if session.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if session.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(transitions), &session.Transitions); err != nil {
		return nil, fmt.Errorf("decode session transitions: %w", err)
	}
	return &session, nil
}
