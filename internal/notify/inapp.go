package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InAppMessage is a stored notification for in-app display.
type InAppMessage struct {
	ID           string
	Type         EventType
	Severity     Severity
	Title        string
	Message      string
	CredentialID string
	Recipient    string
	Read         bool
	CreatedAt    time.Time
}

// InAppStore is the port to the stored-notification repository.
type InAppStore interface {
	SaveMessage(ctx context.Context, msg *InAppMessage) error
}

// InAppProvider persists events for later in-app display.
type InAppProvider struct {
	store InAppStore
}

// NewInAppProvider creates a store-backed notification provider.
func NewInAppProvider(store InAppStore) *InAppProvider {
	return &InAppProvider{store: store}
}

// Name returns the provider name.
func (p *InAppProvider) Name() string { return "inapp" }

// SupportsEvent returns true for all event types.
func (p *InAppProvider) SupportsEvent(eventType EventType) bool { return true }

// Send stores the event.
func (p *InAppProvider) Send(ctx context.Context, event Event) error {
	return p.store.SaveMessage(ctx, &InAppMessage{
		ID:           uuid.NewString(),
		Type:         event.Type,
		Severity:     event.Severity,
		Title:        event.Title,
		Message:      event.Message,
		CredentialID: event.CredentialID,
		Recipient:    event.Recipient,
		CreatedAt:    event.Timestamp,
	})
}
