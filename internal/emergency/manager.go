// Package emergency implements break-glass access: a security admin can
// temporarily re-enable a disabled credential under a short-lived,
// token-guarded grant. Every grant, revocation, and expiry is audited.
package emergency

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/systmms/credops/internal/audit"
	"github.com/systmms/credops/internal/authz"
	"github.com/systmms/credops/internal/credential"
	"github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/logging"
	"github.com/systmms/credops/internal/notify"
)

const (
	// MinReasonLength is the minimum justification length for a grant.
	MinReasonLength = 10

	// MinDuration and MaxDuration bound the grant window, inclusive.
	MinDuration = 1 * time.Hour
	MaxDuration = 24 * time.Hour

	// tokenBytes is the entropy of the access token (hex-encoded on output).
	tokenBytes = 32
)

// Status describes the current break-glass state of a credential.
type Status struct {
	Active         bool
	GrantedBy      string
	Reason         string
	GrantedAt      time.Time
	ExpiresAt      time.Time
	HoursRemaining float64
}

// Manager grants, checks, and revokes break-glass access.
type Manager struct {
	store    credential.Store
	authz    authz.Authorizer
	recorder *audit.Recorder
	notifier *notify.Manager
	logger   *logging.Logger
	now      func() time.Time
}

// NewManager creates an emergency access manager. The notifier may be nil,
// in which case admin fan-out is skipped.
func NewManager(store credential.Store, az authz.Authorizer, recorder *audit.Recorder, notifier *notify.Manager, logger *logging.Logger) *Manager {
	return &Manager{
		store:    store,
		authz:    az,
		recorder: recorder,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source for testing.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Grant creates a break-glass grant on a credential. Only security admins
// may grant; the reason must be substantive and the duration between one
// and twenty-four hours inclusive. The returned token is shown exactly
// once; only its value on the stored grant can verify it later.
func (m *Manager) Grant(ctx context.Context, credentialID, grantedBy, reason string, duration time.Duration) (string, error) {
	ok, err := m.authz.HasRole(ctx, grantedBy, authz.RoleSecurityAdmin)
	if err != nil {
		return "", fmt.Errorf("role check failed: %w", err)
	}
	if !ok {
		m.logAttempt(ctx, credentialID, grantedBy, audit.ActionEmergencyGrant, false, "principal lacks security_admin role", nil)
		return "", errors.ValidationError{
			Field:   "granted_by",
			Value:   grantedBy,
			Message: "only security admins may grant emergency access",
		}
	}

	if len(strings.TrimSpace(reason)) < MinReasonLength {
		return "", errors.ValidationError{
			Field:   "reason",
			Message: fmt.Sprintf("justification must be at least %d characters", MinReasonLength),
		}
	}
	if duration < MinDuration || duration > MaxDuration {
		return "", errors.ValidationError{
			Field:   "duration",
			Value:   duration.String(),
			Message: "grant duration must be between 1 and 24 hours",
		}
	}

	cred, err := m.store.Get(ctx, credentialID)
	if err != nil {
		return "", err
	}

	now := m.now()
	if cred.Emergency != nil && cred.Emergency.Active {
		if now.Before(cred.Emergency.ExpiresAt) {
			return "", errors.StateConflictError{
				Operation: "grant emergency access",
				Current:   "grant already active",
				Expected:  "no active grant",
			}
		}
		// Lapsed but not yet swept; expire it in passing.
		if err := m.expire(ctx, cred); err != nil {
			return "", err
		}
	}

	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}

	grant := &credential.EmergencyGrant{
		Active:    true,
		GrantedBy: grantedBy,
		Reason:    reason,
		GrantedAt: now,
		ExpiresAt: now.Add(duration),
		Token:     token,
	}

	if err := m.store.Update(ctx, credentialID, credential.Update{Emergency: &grant}); err != nil {
		return "", err
	}

	if err := m.recorder.Log(ctx, audit.Entry{
		CredentialID: credentialID,
		Action:       audit.ActionEmergencyGrant,
		Principal:    grantedBy,
		Success:      true,
		Metadata: map[string]string{
			"reason":     reason,
			"expires_at": grant.ExpiresAt.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		return "", err
	}

	// Fan out only once the grant is durable; a failed write must not
	// announce access that was never granted. The flag is advisory, so a
	// failure to persist it does not fail the grant.
	if m.notifyAdmins(ctx, cred, grant) {
		grant.AdminsNotified = true
		if err := m.store.Update(ctx, credentialID, credential.Update{Emergency: &grant}); err != nil {
			m.logger.Warn("could not record admin notification on %s: %v", cred.Name, err)
		}
	}

	m.logger.Warn("emergency access granted on %s by %s until %s", cred.Name, grantedBy, grant.ExpiresAt.Format(time.RFC3339))
	return token, nil
}

// Check reports the break-glass state of a credential, lazily expiring a
// lapsed grant before answering.
func (m *Manager) Check(ctx context.Context, credentialID string) (*Status, error) {
	cred, err := m.store.Get(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	grant := cred.Emergency
	if grant == nil || !grant.Active {
		return &Status{Active: false}, nil
	}

	now := m.now()
	if !now.Before(grant.ExpiresAt) {
		if err := m.expire(ctx, cred); err != nil {
			return nil, err
		}
		return &Status{Active: false}, nil
	}

	return &Status{
		Active:         true,
		GrantedBy:      grant.GrantedBy,
		Reason:         grant.Reason,
		GrantedAt:      grant.GrantedAt,
		ExpiresAt:      grant.ExpiresAt,
		HoursRemaining: grant.ExpiresAt.Sub(now).Hours(),
	}, nil
}

// VerifyToken reports whether the presented token matches the active grant
// on the credential. The comparison is constant-time. A lapsed grant is
// expired in passing and never verifies.
func (m *Manager) VerifyToken(ctx context.Context, credentialID, token string) (bool, error) {
	cred, err := m.store.Get(ctx, credentialID)
	if err != nil {
		return false, err
	}

	grant := cred.Emergency
	if grant == nil || !grant.Active {
		return false, nil
	}
	if !m.now().Before(grant.ExpiresAt) {
		if err := m.expire(ctx, cred); err != nil {
			return false, err
		}
		return false, nil
	}

	return subtle.ConstantTimeCompare([]byte(grant.Token), []byte(token)) == 1, nil
}

// Revoke ends an active grant before its natural expiry. Only security
// admins may revoke, and revocation is audited distinctly from expiry.
func (m *Manager) Revoke(ctx context.Context, credentialID, revokedBy, reason string) error {
	ok, err := m.authz.HasRole(ctx, revokedBy, authz.RoleSecurityAdmin)
	if err != nil {
		return fmt.Errorf("role check failed: %w", err)
	}
	if !ok {
		m.logAttempt(ctx, credentialID, revokedBy, audit.ActionEmergencyRevoke, false, "principal lacks security_admin role", nil)
		return errors.ValidationError{
			Field:   "revoked_by",
			Value:   revokedBy,
			Message: "only security admins may revoke emergency access",
		}
	}

	cred, err := m.store.Get(ctx, credentialID)
	if err != nil {
		return err
	}

	grant := cred.Emergency
	if grant == nil || !grant.Active {
		return errors.StateConflictError{
			Operation: "revoke emergency access",
			Current:   "no active grant",
			Expected:  "active grant",
		}
	}

	now := m.now()
	updated := *grant
	updated.Active = false
	updated.RevokedBy = revokedBy
	updated.RevokedAt = &now
	updated.RevokeReason = reason
	grantPtr := &updated
	if err := m.store.Update(ctx, credentialID, credential.Update{Emergency: &grantPtr}); err != nil {
		return err
	}

	if err := m.recorder.Log(ctx, audit.Entry{
		CredentialID: credentialID,
		Action:       audit.ActionEmergencyRevoke,
		Principal:    revokedBy,
		Success:      true,
		Metadata:     map[string]string{"reason": reason},
	}); err != nil {
		return err
	}

	if m.notifier != nil {
		m.notifier.Publish(notify.Event{
			Type:         notify.EventEmergencyRevoked,
			Severity:     notify.SeverityWarning,
			Title:        "Emergency access revoked",
			Message:      fmt.Sprintf("Break-glass access on %s was revoked by %s: %s", cred.Name, revokedBy, reason),
			CredentialID: credentialID,
		})
	}

	m.logger.Info("emergency access on %s revoked by %s", cred.Name, revokedBy)
	return nil
}

// ExpireSweep expires every lapsed grant across credentials that have ever
// had one. Returns the number of grants expired.
func (m *Manager) ExpireSweep(ctx context.Context) (int, error) {
	creds, err := m.store.ListEmergencyEnabled(ctx)
	if err != nil {
		return 0, err
	}

	now := m.now()
	expired := 0
	for _, cred := range creds {
		grant := cred.Emergency
		if grant == nil || !grant.Active || now.Before(grant.ExpiresAt) {
			continue
		}
		if err := m.expire(ctx, cred); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// expire deactivates a lapsed grant and records the expiry as a system
// action with no principal.
func (m *Manager) expire(ctx context.Context, cred *credential.Credential) error {
	updated := *cred.Emergency
	updated.Active = false
	grantPtr := &updated
	if err := m.store.Update(ctx, cred.ID, credential.Update{Emergency: &grantPtr}); err != nil {
		return err
	}

	if err := m.recorder.Log(ctx, audit.Entry{
		CredentialID: cred.ID,
		Action:       audit.ActionEmergencyExpire,
		Success:      true,
		Metadata:     map[string]string{"granted_by": updated.GrantedBy},
	}); err != nil {
		return err
	}

	m.logger.Info("emergency access on %s expired", cred.Name)
	return nil
}

// notifyAdmins fans the grant event out to every security admin. Delivery
// is best-effort: a failed lookup or publish never blocks the grant.
func (m *Manager) notifyAdmins(ctx context.Context, cred *credential.Credential, grant *credential.EmergencyGrant) bool {
	if m.notifier == nil {
		return false
	}

	admins, err := m.authz.RoleHolders(ctx, authz.RoleSecurityAdmin)
	if err != nil {
		m.logger.Warn("could not enumerate security admins for notification: %v", err)
		return false
	}

	message := fmt.Sprintf("Break-glass access on %s granted by %s until %s. Reason: %s",
		cred.Name, grant.GrantedBy, grant.ExpiresAt.UTC().Format(time.RFC3339), grant.Reason)
	for _, admin := range admins {
		m.notifier.Publish(notify.Event{
			Type:         notify.EventEmergencyGranted,
			Severity:     notify.SeverityCritical,
			Title:        "Emergency access granted",
			Message:      message,
			CredentialID: cred.ID,
			Recipient:    admin,
		})
	}
	return len(admins) > 0
}

// logAttempt records a denied operation. Audit failures here are logged
// rather than returned so the denial error reaches the caller intact.
func (m *Manager) logAttempt(ctx context.Context, credentialID, principal string, action audit.Action, success bool, errMsg string, metadata map[string]string) {
	if err := m.recorder.Log(ctx, audit.Entry{
		CredentialID: credentialID,
		Action:       action,
		Principal:    principal,
		Success:      success,
		Error:        errMsg,
		Metadata:     metadata,
	}); err != nil {
		m.logger.Error("failed to audit denied %s: %v", action, err)
	}
}

// newToken returns a cryptographically random hex token.
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
