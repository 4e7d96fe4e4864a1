package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/systmms/credops/internal/audit"
	"github.com/systmms/credops/internal/credential"
	"github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/logging"
	"github.com/systmms/credops/internal/notify"
	"github.com/systmms/credops/internal/secure"
	"github.com/systmms/credops/internal/servicedef"
	"github.com/systmms/credops/internal/vault"
)

const (
	// DefaultGracePeriod is how long both secrets stay valid after the new
	// one verifies.
	DefaultGracePeriod = 5 * time.Minute

	// DefaultVerifyChecks is how many consecutive health checks the new
	// secret must pass before the session enters grace.
	DefaultVerifyChecks = 3

	// DefaultVerifyInterval is the pause between verification checks.
	DefaultVerifyInterval = 2 * time.Second
)

// Verifier checks that a credential works with its freshly installed
// secret. The health monitor satisfies this through an adapter.
type Verifier interface {
	Verify(ctx context.Context, cred *credential.Credential, def servicedef.Definition) error
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, cred *credential.Credential, def servicedef.Definition) error

// Verify calls the function.
func (f VerifierFunc) Verify(ctx context.Context, cred *credential.Credential, def servicedef.Definition) error {
	return f(ctx, cred, def)
}

// Options tunes one rotation.
type Options struct {
	// GracePeriod overrides DefaultGracePeriod when positive.
	GracePeriod time.Duration

	// VerifyChecks overrides DefaultVerifyChecks when positive.
	VerifyChecks int

	// VerifyInterval overrides DefaultVerifyInterval when positive.
	VerifyInterval time.Duration

	// NoAutoRollback leaves the new secret installed on verification
	// failure and marks the session failed, so the operator can inspect
	// the installed secret before deciding.
	NoAutoRollback bool
}

// Orchestrator drives rotation sessions through their state machine.
type Orchestrator struct {
	credentials credential.Store
	sessions    SessionStore
	strategies  *StrategyRegistry
	vault       vault.Vault
	verifier    Verifier
	recorder    *audit.Recorder
	notifier    *notify.Manager
	logger      *logging.Logger
	now         func() time.Time
}

// NewOrchestrator wires a rotation orchestrator. The notifier may be nil.
func NewOrchestrator(
	credentials credential.Store,
	sessions SessionStore,
	strategies *StrategyRegistry,
	v vault.Vault,
	verifier Verifier,
	recorder *audit.Recorder,
	notifier *notify.Manager,
	logger *logging.Logger,
) *Orchestrator {
	return &Orchestrator{
		credentials: credentials,
		sessions:    sessions,
		strategies:  strategies,
		vault:       v,
		verifier:    verifier,
		recorder:    recorder,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock overrides the time source for testing.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Initiate starts a rotation for the credential. It claims the session
// slot, backs up the outgoing secret, installs and verifies a replacement,
// and leaves the session in grace_period. Verification failure triggers an
// automatic rollback; if the rollback itself fails the session ends failed
// with the new secret left installed, since the old one could not be
// restored.
func (o *Orchestrator) Initiate(ctx context.Context, credentialID, initiatedBy string, opts Options) (*Session, error) {
	cred, err := o.credentials.Get(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	strategy, def, err := o.strategies.For(cred.ServiceType)
	if err != nil {
		return nil, err
	}

	grace := opts.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if opts.VerifyChecks <= 0 {
		opts.VerifyChecks = DefaultVerifyChecks
	}
	if opts.VerifyInterval <= 0 {
		opts.VerifyInterval = DefaultVerifyInterval
	}

	session := &Session{
		ID:           uuid.NewString(),
		CredentialID: credentialID,
		Status:       StatusIdle,
		InitiatedBy:  initiatedBy,
		GracePeriod:  grace,
		StartedAt:    o.now(),
	}
	if err := session.TransitionTo(StatusInProgress, "rotation initiated", nil); err != nil {
		return nil, err
	}

	// Claim enforces the one-active-session invariant atomically in the
	// store; a concurrent Initiate loses here, not later.
	if err := o.sessions.Claim(ctx, session); err != nil {
		return nil, err
	}

	o.publish(notify.EventRotationStarted, notify.SeverityInfo, "Rotation started",
		fmt.Sprintf("Rotation of %s started by %s", cred.Name, initiatedBy), credentialID)

	session, err = o.execute(ctx, session, cred, strategy, def, opts)
	o.audit(ctx, credentialID, initiatedBy, session, err)
	return session, err
}

// execute runs install and verification for a freshly claimed session.
func (o *Orchestrator) execute(ctx context.Context, session *Session, cred *credential.Credential, strategy Strategy, def servicedef.Definition, opts Options) (*Session, error) {
	oldSecret, err := o.vault.Retrieve(ctx, vault.CredentialKey(cred.ID))
	if err != nil {
		return o.fail(ctx, session, fmt.Errorf("failed to read current secret: %w", err))
	}
	session.OldSecretPreview = logging.Preview(oldSecret)

	// The backup lives in two places for the life of the session: a
	// memguard enclave for this process, and the vault for sweeps that run
	// after a restart.
	backup := secure.NewBufferFromString(oldSecret)
	defer backup.Destroy()
	if err := o.vault.Store(ctx, vault.BackupKey(cred.ID, session.ID), oldSecret); err != nil {
		return o.fail(ctx, session, fmt.Errorf("failed to back up current secret: %w", err))
	}
	oldSecret = ""

	newSecret, err := GenerateSecret(def)
	if err != nil {
		return o.fail(ctx, session, err)
	}
	session.NewSecretPreview = logging.Preview(newSecret)

	if err := strategy.Install(ctx, cred, newSecret); err != nil {
		return o.rollbackAfterFailure(ctx, session, cred, backup, fmt.Errorf("provider install failed: %w", err))
	}
	if err := o.vault.Store(ctx, vault.CredentialKey(cred.ID), newSecret); err != nil {
		return o.rollbackAfterFailure(ctx, session, cred, backup, fmt.Errorf("failed to store new secret: %w", err))
	}

	if err := o.verify(ctx, cred, def, opts); err != nil {
		cause := fmt.Errorf("verification failed: %w", err)
		if opts.NoAutoRollback {
			// The new secret stays installed for inspection; the durable
			// backup remains for a later manual Rollback.
			o.publish(notify.EventRotationFailed, notify.SeverityCritical, "Rotation failed",
				fmt.Sprintf("Rotation of %s failed verification; new secret left installed: %v", cred.Name, err), cred.ID)
			return o.fail(ctx, session, cause)
		}
		return o.rollbackAfterFailure(ctx, session, cred, backup, cause)
	}

	now := o.now()
	preview := session.NewSecretPreview
	if err := o.credentials.Update(ctx, cred.ID, credential.Update{
		LastRotatedAt: &now,
		SecretPreview: &preview,
	}); err != nil {
		return o.rollbackAfterFailure(ctx, session, cred, backup, fmt.Errorf("failed to record rotation: %w", err))
	}

	if err := session.TransitionTo(StatusGracePeriod, "new secret verified", nil); err != nil {
		return session, err
	}
	if err := o.sessions.Update(ctx, session); err != nil {
		return session, err
	}

	o.logger.Info("rotation of %s entered grace period until %s", cred.Name, session.GraceDeadline().Format(time.RFC3339))
	recordOutcome("grace_period")
	return session, nil
}

// verify runs the required number of consecutive successful checks, pausing
// between them. Any failure aborts immediately.
func (o *Orchestrator) verify(ctx context.Context, cred *credential.Credential, def servicedef.Definition, opts Options) error {
	if o.verifier == nil {
		return nil
	}
	for i := 0; i < opts.VerifyChecks; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.VerifyInterval):
			}
		}
		if err := o.verifier.Verify(ctx, cred, def); err != nil {
			return fmt.Errorf("check %d/%d: %w", i+1, opts.VerifyChecks, err)
		}
	}
	return nil
}

// Complete finishes a session after its grace period: the old secret is
// retired at the provider and the backup destroyed. Only valid from
// grace_period. A retire failure marks the session failed with the error
// captured; the backup stays so a manual Rollback is still possible.
func (o *Orchestrator) Complete(ctx context.Context, sessionID string) (*Session, error) {
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusGracePeriod {
		return nil, errors.StateConflictError{
			Operation: "complete rotation",
			Current:   session.Status.String(),
			Expected:  StatusGracePeriod.String(),
		}
	}

	cred, err := o.credentials.Get(ctx, session.CredentialID)
	if err != nil {
		return nil, err
	}
	strategy, _, err := o.strategies.For(cred.ServiceType)
	if err != nil {
		return nil, err
	}

	backupKey := vault.BackupKey(session.CredentialID, session.ID)
	oldSecret, err := o.vault.Retrieve(ctx, backupKey)
	if err != nil {
		return o.fail(ctx, session, fmt.Errorf("backup unavailable at completion: %w", err))
	}
	if retireErr := strategy.Retire(ctx, cred, oldSecret); retireErr != nil {
		o.publish(notify.EventRotationFailed, notify.SeverityCritical, "Rotation completion failed",
			fmt.Sprintf("Old secret of %s could not be retired: %v", cred.Name, retireErr), cred.ID)
		return o.fail(ctx, session, fmt.Errorf("old secret retirement failed: %w", retireErr))
	}

	if err := o.vault.Delete(ctx, backupKey); err != nil {
		o.logger.Warn("failed to delete rotation backup for %s: %v", session.ID, err)
	}

	if err := session.TransitionTo(StatusCompleted, "grace period ended", nil); err != nil {
		return session, err
	}
	if err := o.sessions.Update(ctx, session); err != nil {
		return session, err
	}

	o.publish(notify.EventRotationCompleted, notify.SeverityInfo, "Rotation completed",
		fmt.Sprintf("Rotation of %s completed; old secret retired", cred.Name), cred.ID)
	o.logger.Info("rotation of %s completed", cred.Name)
	recordOutcome("completed")
	return session, nil
}

// Rollback restores the outgoing secret. Valid from in_progress,
// grace_period, and failed.
func (o *Orchestrator) Rollback(ctx context.Context, sessionID, reason string) (*Session, error) {
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Status.CanTransitionTo(StatusRolledBack) {
		return nil, errors.StateConflictError{
			Operation: "roll back rotation",
			Current:   session.Status.String(),
		}
	}

	cred, err := o.credentials.Get(ctx, session.CredentialID)
	if err != nil {
		return nil, err
	}

	backupKey := vault.BackupKey(session.CredentialID, session.ID)
	oldSecret, err := o.vault.Retrieve(ctx, backupKey)
	if err != nil {
		return nil, fmt.Errorf("cannot roll back: backup unavailable: %w", err)
	}
	if err := o.vault.Store(ctx, vault.CredentialKey(session.CredentialID), oldSecret); err != nil {
		return nil, fmt.Errorf("failed to restore old secret: %w", err)
	}

	preview := logging.Preview(oldSecret)
	if err := o.credentials.Update(ctx, session.CredentialID, credential.Update{SecretPreview: &preview}); err != nil {
		return nil, err
	}
	if err := o.vault.Delete(ctx, backupKey); err != nil {
		o.logger.Warn("failed to delete rotation backup for %s: %v", session.ID, err)
	}

	if err := session.TransitionTo(StatusRolledBack, reason, nil); err != nil {
		return session, err
	}
	if err := o.sessions.Update(ctx, session); err != nil {
		return session, err
	}

	o.publish(notify.EventRotationRolledBack, notify.SeverityWarning, "Rotation rolled back",
		fmt.Sprintf("Rotation of %s rolled back: %s", cred.Name, reason), cred.ID)
	o.logger.Warn("rotation of %s rolled back: %s", cred.Name, reason)
	recordOutcome("rolled_back")
	return session, nil
}

// Cancel rolls back a session during its grace period. It is the operator
// way out when consumers report breakage after verification passed.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID, reason string) (*Session, error) {
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusGracePeriod {
		return nil, errors.StateConflictError{
			Operation: "cancel rotation",
			Current:   session.Status.String(),
			Expected:  StatusGracePeriod.String(),
		}
	}
	if reason == "" {
		reason = "cancelled by operator"
	}
	return o.Rollback(ctx, sessionID, reason)
}

// FinalizeSweep completes every session whose grace deadline has passed.
// Returns the number of sessions completed.
func (o *Orchestrator) FinalizeSweep(ctx context.Context) (int, error) {
	due, err := o.sessions.ListInGrace(ctx, o.now())
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, session := range due {
		if _, err := o.Complete(ctx, session.ID); err != nil {
			o.logger.Error("failed to finalize rotation %s: %v", session.ID, err)
			continue
		}
		completed++
	}
	return completed, nil
}

// ActiveSession returns the non-terminal session for a credential, or nil
// if rotation is idle.
func (o *Orchestrator) ActiveSession(ctx context.Context, credentialID string) (*Session, error) {
	session, err := o.sessions.GetActive(ctx, credentialID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// rollbackAfterFailure attempts the automatic rollback after a mid-flight
// failure. If the old secret cannot be restored the session ends failed
// with the new secret left in place.
func (o *Orchestrator) rollbackAfterFailure(ctx context.Context, session *Session, cred *credential.Credential, backup *secure.Buffer, cause error) (*Session, error) {
	o.logger.Error("rotation of %s failed, rolling back: %v", cred.Name, cause)

	restoreErr := o.restoreFromEnclave(ctx, session, backup)
	if restoreErr != nil {
		if terr := session.TransitionTo(StatusFailed, "automatic rollback failed", fmt.Errorf("%v (restore: %v)", cause, restoreErr)); terr != nil {
			return session, terr
		}
		if err := o.sessions.Update(ctx, session); err != nil {
			return session, err
		}
		o.publish(notify.EventRotationFailed, notify.SeverityCritical, "Rotation failed",
			fmt.Sprintf("Rotation of %s failed and the old secret could not be restored: %v", cred.Name, cause), cred.ID)
		recordOutcome("failed")
		return session, cause
	}

	if err := session.TransitionTo(StatusRolledBack, "automatic rollback", cause); err != nil {
		return session, err
	}
	if err := o.sessions.Update(ctx, session); err != nil {
		return session, err
	}

	o.publish(notify.EventRotationRolledBack, notify.SeverityWarning, "Rotation rolled back",
		fmt.Sprintf("Rotation of %s failed and was rolled back: %v", cred.Name, cause), cred.ID)
	recordOutcome("rolled_back")
	return session, cause
}

// restoreFromEnclave puts the backed-up secret back as the live one and
// cleans up the durable backup.
func (o *Orchestrator) restoreFromEnclave(ctx context.Context, session *Session, backup *secure.Buffer) error {
	oldSecret, err := backup.String()
	if err != nil {
		return fmt.Errorf("failed to open secret backup: %w", err)
	}
	if err := o.vault.Store(ctx, vault.CredentialKey(session.CredentialID), oldSecret); err != nil {
		return err
	}
	if err := o.vault.Delete(ctx, vault.BackupKey(session.CredentialID, session.ID)); err != nil {
		o.logger.Warn("failed to delete rotation backup for %s: %v", session.ID, err)
	}
	return nil
}

// fail marks the session failed before any secret material moved.
func (o *Orchestrator) fail(ctx context.Context, session *Session, cause error) (*Session, error) {
	if err := session.TransitionTo(StatusFailed, "rotation aborted", cause); err != nil {
		return session, err
	}
	if err := o.sessions.Update(ctx, session); err != nil {
		return session, err
	}
	recordOutcome("failed")
	return session, cause
}

func (o *Orchestrator) publish(eventType notify.EventType, severity notify.Severity, title, message, credentialID string) {
	if o.notifier == nil {
		return
	}
	o.notifier.Publish(notify.Event{
		Type:         eventType,
		Severity:     severity,
		Title:        title,
		Message:      message,
		CredentialID: credentialID,
	})
}

func (o *Orchestrator) audit(ctx context.Context, credentialID, principal string, session *Session, cause error) {
	entry := audit.Entry{
		CredentialID: credentialID,
		Action:       audit.ActionRotate,
		Principal:    principal,
		Success:      cause == nil,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if session != nil {
		entry.Metadata = map[string]string{
			"session_id": session.ID,
			"status":     session.Status.String(),
		}
	}
	if err := o.recorder.Log(ctx, entry); err != nil {
		o.logger.Error("failed to audit rotation of %s: %v", credentialID, err)
	}
}
