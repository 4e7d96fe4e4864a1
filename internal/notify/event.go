package notify

import (
	"time"
)

// EventType represents the kind of lifecycle event being announced.
type EventType string

const (
	// EventRotationStarted indicates a rotation has started.
	EventRotationStarted EventType = "rotation_started"

	// EventRotationCompleted indicates a rotation has completed successfully.
	EventRotationCompleted EventType = "rotation_completed"

	// EventRotationFailed indicates a rotation has failed.
	EventRotationFailed EventType = "rotation_failed"

	// EventRotationRolledBack indicates a rotation was rolled back.
	EventRotationRolledBack EventType = "rotation_rolled_back"

	// EventEmergencyGranted indicates break-glass access was granted.
	EventEmergencyGranted EventType = "emergency_granted"

	// EventEmergencyRevoked indicates break-glass access was revoked.
	EventEmergencyRevoked EventType = "emergency_revoked"

	// EventCredentialExpiring warns that a credential approaches expiry.
	EventCredentialExpiring EventType = "credential_expiring"

	// EventHealthDegraded reports a credential going degraded or unhealthy.
	EventHealthDegraded EventType = "health_degraded"
)

// Severity ranks events for routing and display.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one lifecycle notification.
type Event struct {
	// Type is the kind of event.
	Type EventType

	// Severity ranks the event.
	Severity Severity

	// Title is a short human-readable headline.
	Title string

	// Message is the full description.
	Message string

	// CredentialID references the affected credential, if any.
	CredentialID string

	// Recipient optionally targets one principal. Empty means broadcast.
	Recipient string

	// Metadata carries additional context.
	Metadata map[string]string

	// Timestamp is when the event occurred.
	Timestamp time.Time
}
