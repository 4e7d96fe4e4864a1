// Package notify provides notification infrastructure for credential
// lifecycle events.
package notify

import (
	"context"
)

// Provider defines the interface for delivering lifecycle notifications.
type Provider interface {
	// Name returns the provider name (e.g., "slack", "webhook", "inapp").
	Name() string

	// Send delivers a notification for the given event.
	Send(ctx context.Context, event Event) error

	// SupportsEvent returns true if this provider handles the given event type.
	SupportsEvent(eventType EventType) bool
}
