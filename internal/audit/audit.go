// Package audit maintains the append-only record of every sensitive
// action. Audit write failures always propagate: losing the trail is
// itself a finding, so the caller decides how fatal it is.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of sensitive action being recorded.
type Action string

const (
	ActionView    Action = "view"
	ActionDecrypt Action = "decrypt"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionRotate  Action = "rotate"
	ActionTest    Action = "test"
	ActionExport  Action = "export"

	// Lifecycle actions the engine emits on its own behalf.
	ActionEmergencyGrant  Action = "emergency_grant"
	ActionEmergencyRevoke Action = "emergency_revoke"
	ActionEmergencyExpire Action = "emergency_expire"
	ActionExpiryWarning   Action = "expiry_warning"
)

// Entry is one audit record. Append-only; never mutated or deleted except
// by the retention sweep.
type Entry struct {
	ID           string
	CredentialID string // empty for system-wide events
	Action       Action
	Principal    string // empty for system actions
	Success      bool
	Error        string
	Metadata     map[string]string
	CreatedAt    time.Time
}

// Filter narrows audit queries. Zero values mean "any".
type Filter struct {
	CredentialID string
	Principal    string
	Action       Action
	Success      *bool
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

// Store is the port to the audit repository.
type Store interface {
	// Append writes one entry. Failures propagate to the caller.
	Append(ctx context.Context, entry *Entry) error

	// Query returns entries matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Entry, error)

	// DeleteOlderThan purges entries older than the cutoff, returning the
	// number removed. Used only by the retention sweep.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder writes audit entries.
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder over the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Log appends one entry, filling in ID and timestamp. It never swallows
// store failures.
func (r *Recorder) Log(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return r.store.Append(ctx, &entry)
}

// Query returns entries matching the filter, newest first.
func (r *Recorder) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	return r.store.Query(ctx, filter)
}
