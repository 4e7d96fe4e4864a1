// Package rotation implements zero-downtime credential rotation: a new
// secret is installed and verified while the old one stays valid through a
// grace period, with rollback available until the session reaches a
// terminal state.
package rotation

import (
	"context"
	"fmt"
	"time"
)

// Status represents the current state of a rotation session.
type Status string

const (
	// StatusIdle indicates no rotation is in progress.
	StatusIdle Status = "idle"

	// StatusInProgress indicates the new secret is being installed and verified.
	StatusInProgress Status = "in_progress"

	// StatusGracePeriod indicates both secrets are valid while consumers migrate.
	StatusGracePeriod Status = "grace_period"

	// StatusCompleted indicates the rotation finished and the old secret is retired.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the rotation failed without restoring the old secret.
	StatusFailed Status = "failed"

	// StatusRolledBack indicates the old secret was restored.
	StatusRolledBack Status = "rolled_back"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if the session can no longer change state,
// except that a failed session may still be rolled back.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRolledBack
}

// ValidTransitions defines allowed status transitions.
var ValidTransitions = map[Status][]Status{
	StatusIdle:        {StatusInProgress},
	StatusInProgress:  {StatusGracePeriod, StatusFailed, StatusRolledBack},
	StatusGracePeriod: {StatusCompleted, StatusFailed, StatusRolledBack},
	StatusFailed:      {StatusRolledBack}, // Manual recovery after a failed rollback.
	StatusCompleted:   {},
	StatusRolledBack:  {},
}

// CanTransitionTo checks if a transition from the current status is valid.
func (s Status) CanTransitionTo(next Status) bool {
	for _, valid := range ValidTransitions[s] {
		if valid == next {
			return true
		}
	}
	return false
}

// Transition records one status change with its cause.
type Transition struct {
	FromStatus Status
	ToStatus   Status
	Reason     string
	Error      string
	Timestamp  time.Time
}

// Session is one rotation attempt for one credential.
type Session struct {
	ID           string
	CredentialID string
	Status       Status
	InitiatedBy  string

	// GracePeriod is how long both secrets stay valid after verification.
	GracePeriod time.Duration

	// GraceEnteredAt is set when the session reaches grace_period; the
	// finalize sweep completes the session once GracePeriod has elapsed.
	GraceEnteredAt *time.Time

	// Previews for operator display. Full secret values never appear here.
	OldSecretPreview string
	NewSecretPreview string

	// Error holds the failure cause for failed sessions, or the deactivation
	// error captured during an otherwise successful completion.
	Error string

	StartedAt   time.Time
	CompletedAt *time.Time

	Transitions []Transition
}

// TransitionTo moves the session to a new status, recording the transition.
// Returns an error if the transition is not allowed.
func (s *Session) TransitionTo(next Status, reason string, cause error) error {
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid rotation transition from %s to %s", s.Status, next)
	}

	t := Transition{
		FromStatus: s.Status,
		ToStatus:   next,
		Reason:     reason,
		Timestamp:  time.Now(),
	}
	if cause != nil {
		t.Error = cause.Error()
	}
	s.Transitions = append(s.Transitions, t)
	s.Status = next

	if next == StatusGracePeriod {
		now := t.Timestamp
		s.GraceEnteredAt = &now
	}
	if next.IsTerminal() {
		now := t.Timestamp
		s.CompletedAt = &now
		if cause != nil && s.Error == "" {
			s.Error = cause.Error()
		}
	}
	return nil
}

// GraceDeadline returns when the grace period ends. Zero if the session has
// not entered grace.
func (s *Session) GraceDeadline() time.Time {
	if s.GraceEnteredAt == nil {
		return time.Time{}
	}
	return s.GraceEnteredAt.Add(s.GracePeriod)
}

// SessionStore is the port to the rotation session repository.
type SessionStore interface {
	// Claim atomically creates a session for the credential. It fails with a
	// state conflict if the credential already has a non-terminal session.
	Claim(ctx context.Context, session *Session) error

	// Get returns the session with the given ID.
	Get(ctx context.Context, id string) (*Session, error)

	// GetActive returns the non-terminal session for a credential, or a
	// not-found error if none exists.
	GetActive(ctx context.Context, credentialID string) (*Session, error)

	// Update persists the session's current state.
	Update(ctx context.Context, session *Session) error

	// ListInGrace returns sessions in grace_period whose deadline has passed.
	ListInGrace(ctx context.Context, now time.Time) ([]*Session, error)

	// ListByCredential returns all sessions for a credential, newest first.
	ListByCredential(ctx context.Context, credentialID string) ([]*Session, error)
}
