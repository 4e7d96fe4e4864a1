// Package credential defines the credential model and the store port the
// lifecycle engine reads and updates. Secret material itself never lives
// here; it is held by the vault behind its own port.
package credential

import (
	"context"
	"time"
)

// Credential is the metadata record for one third-party API credential.
type Credential struct {
	ID          string
	Name        string
	ServiceType string
	Active      bool
	ExpiresAt   *time.Time

	// Access control allowlists. Empty means allow-all for that dimension.
	AllowedIPs     []string
	AllowedDomains []string

	// Admission limits. Zero means unlimited for that dimension.
	RateLimitPerMinute int
	MaxConcurrent      int

	// ProbeURL is the service base URL (or DSN for database types) that
	// health probes target.
	ProbeURL string

	// Rotation metadata.
	LastRotatedAt *time.Time
	SecretPreview string

	// Emergency holds the break-glass grant, if one has ever been made.
	Emergency *EmergencyGrant

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EmergencyGrant is the embedded break-glass record. At most one active
// grant exists per credential.
type EmergencyGrant struct {
	Active         bool
	GrantedBy      string
	Reason         string
	GrantedAt      time.Time
	ExpiresAt      time.Time
	Token          string
	RevokedBy      string
	RevokedAt      *time.Time
	RevokeReason   string
	AdminsNotified bool
}

// Update carries the fields an engine component may change on a credential.
// Nil pointers leave the field untouched.
type Update struct {
	Active        *bool
	LastRotatedAt *time.Time
	SecretPreview *string
	Emergency     **EmergencyGrant
}

// Apply copies the set fields of the update onto the credential.
func (u Update) Apply(c *Credential) {
	if u.Active != nil {
		c.Active = *u.Active
	}
	if u.LastRotatedAt != nil {
		c.LastRotatedAt = u.LastRotatedAt
	}
	if u.SecretPreview != nil {
		c.SecretPreview = *u.SecretPreview
	}
	if u.Emergency != nil {
		c.Emergency = *u.Emergency
	}
	c.UpdatedAt = time.Now()
}

// Store is the port to the credential repository. Encrypted-value handling
// is entirely the vault's responsibility; this store carries metadata only.
type Store interface {
	// Get returns the credential with the given ID.
	Get(ctx context.Context, id string) (*Credential, error)

	// Update applies the given field changes to a credential.
	Update(ctx context.Context, id string, upd Update) error

	// Create inserts a new credential record.
	Create(ctx context.Context, cred *Credential) error

	// ListActive returns all credentials with the active flag set.
	ListActive(ctx context.Context) ([]*Credential, error)

	// ListEmergencyEnabled returns credentials whose emergency grant flag
	// is set, whether or not the grant has lapsed.
	ListEmergencyEnabled(ctx context.Context) ([]*Credential, error)
}
