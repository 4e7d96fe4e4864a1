package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/systmms/credops/internal/audit"
	"github.com/systmms/credops/internal/credential"
	"github.com/systmms/credops/internal/emergency"
	"github.com/systmms/credops/internal/health"
	"github.com/systmms/credops/internal/notify"
	"github.com/systmms/credops/internal/ratelimit"
	"github.com/systmms/credops/internal/rotation"
)

// Standard job names.
const (
	JobHealthSweep     = "health_sweep"
	JobEmergencyExpiry = "emergency_expiry"
	JobRotationFinal   = "rotation_finalize"
	JobExpiryWarnings  = "expiry_warnings"
	JobAuditRetention  = "audit_retention"
	JobHealthRetention = "health_retention"
	JobRateLimitSweep  = "ratelimit_sweep"
)

// Standard job intervals.
const (
	HealthSweepInterval     = 15 * time.Minute
	EmergencyExpiryInterval = 5 * time.Minute
	RotationFinalInterval   = 60 * time.Minute
	ExpiryWarningsInterval  = 6 * time.Hour
	RetentionInterval       = 24 * time.Hour
	RateLimitSweepInterval  = 5 * time.Minute
)

// RetentionDays is how long audit entries and health history are kept.
const RetentionDays = 90

// warningThresholdsDays are the days-to-expiry marks at which expiry
// warnings fire, most imminent last.
var warningThresholdsDays = []int{30, 14, 7, 1}

// warningDedupWindow suppresses repeat warnings for the same credential
// and threshold.
const warningDedupWindow = 24 * time.Hour

// Deps carries everything the standard job set operates on.
type Deps struct {
	Monitor      *health.Monitor
	Emergency    *emergency.Manager
	Orchestrator *rotation.Orchestrator
	Limiter      *ratelimit.Limiter
	Credentials  credential.Store
	Recorder     *audit.Recorder
	AuditStore   audit.Store
	History      health.HistoryStore
	Notifier     *notify.Manager
}

// RegisterStandardJobs registers the engine's maintenance jobs.
func RegisterStandardJobs(s *Scheduler, deps Deps) error {
	jobs := []Job{
		{Name: JobHealthSweep, Interval: HealthSweepInterval, Run: healthSweepJob(deps)},
		{Name: JobEmergencyExpiry, Interval: EmergencyExpiryInterval, Run: emergencyExpiryJob(deps)},
		{Name: JobRotationFinal, Interval: RotationFinalInterval, Run: rotationFinalizeJob(deps)},
		{Name: JobExpiryWarnings, Interval: ExpiryWarningsInterval, Run: expiryWarningsJob(deps)},
		{Name: JobAuditRetention, Interval: RetentionInterval, Run: auditRetentionJob(deps)},
		{Name: JobHealthRetention, Interval: RetentionInterval, Run: healthRetentionJob(deps)},
		{Name: JobRateLimitSweep, Interval: RateLimitSweepInterval, Run: rateLimitSweepJob(deps)},
	}
	for _, job := range jobs {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	return nil
}

// healthSweepJob probes every active credential.
func healthSweepJob(deps Deps) JobFunc {
	return func(ctx context.Context) (JobResult, error) {
		sweep, err := deps.Monitor.CheckAll(ctx)
		if err != nil {
			return JobResult{}, err
		}
		return JobResult{
			Processed: sweep.Checked,
			Succeeded: sweep.Checked - len(sweep.Errors),
			Failed:    len(sweep.Errors),
			Errors:    sweep.Errors,
		}, nil
	}
}

// emergencyExpiryJob expires lapsed break-glass grants.
func emergencyExpiryJob(deps Deps) JobFunc {
	return func(ctx context.Context) (JobResult, error) {
		expired, err := deps.Emergency.ExpireSweep(ctx)
		if err != nil {
			return JobResult{Processed: expired, Succeeded: expired, Failed: 1, Errors: []string{err.Error()}}, err
		}
		return JobResult{Processed: expired, Succeeded: expired}, nil
	}
}

// rotationFinalizeJob completes rotation sessions whose grace period has
// elapsed.
func rotationFinalizeJob(deps Deps) JobFunc {
	return func(ctx context.Context) (JobResult, error) {
		completed, err := deps.Orchestrator.FinalizeSweep(ctx)
		if err != nil {
			return JobResult{Processed: completed, Succeeded: completed, Failed: 1, Errors: []string{err.Error()}}, err
		}
		return JobResult{Processed: completed, Succeeded: completed}, nil
	}
}

// expiryWarningsJob warns about credentials approaching expiry at the
// standard thresholds, at most once per threshold per day.
func expiryWarningsJob(deps Deps) JobFunc {
	return func(ctx context.Context) (JobResult, error) {
		creds, err := deps.Credentials.ListActive(ctx)
		if err != nil {
			return JobResult{}, err
		}

		now := time.Now()
		result := JobResult{}
		for _, cred := range creds {
			if cred.ExpiresAt == nil || !cred.ExpiresAt.After(now) {
				continue
			}
			threshold, hit := matchThreshold(cred.ExpiresAt.Sub(now))
			if !hit {
				continue
			}
			result.Processed++

			warned, err := alreadyWarned(ctx, deps.Recorder, cred.ID, threshold, now)
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", cred.ID, err))
				continue
			}
			if warned {
				result.Succeeded++
				continue
			}

			if err := warn(ctx, deps, cred, threshold, now); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", cred.ID, err))
				continue
			}
			result.Succeeded++
		}
		return result, nil
	}
}

// matchThreshold returns the most imminent warning threshold the remaining
// lifetime has crossed.
func matchThreshold(remaining time.Duration) (int, bool) {
	matched := 0
	for _, days := range warningThresholdsDays {
		if remaining <= time.Duration(days)*24*time.Hour {
			matched = days
		}
	}
	return matched, matched > 0
}

// alreadyWarned checks the audit trail for a warning at the same threshold
// within the dedup window. The trail doubles as the dedup store so the
// suppression survives restarts.
func alreadyWarned(ctx context.Context, recorder *audit.Recorder, credentialID string, threshold int, now time.Time) (bool, error) {
	entries, err := recorder.Query(ctx, audit.Filter{
		CredentialID: credentialID,
		Action:       audit.ActionExpiryWarning,
		From:         now.Add(-warningDedupWindow),
	})
	if err != nil {
		return false, err
	}
	want := strconv.Itoa(threshold)
	for _, entry := range entries {
		if entry.Metadata["threshold_days"] == want {
			return true, nil
		}
	}
	return false, nil
}

// warn emits the notification and records the warning.
func warn(ctx context.Context, deps Deps, cred *credential.Credential, threshold int, now time.Time) error {
	severity := notify.SeverityWarning
	if threshold <= 1 {
		severity = notify.SeverityCritical
	}
	if deps.Notifier != nil {
		deps.Notifier.Publish(notify.Event{
			Type:         notify.EventCredentialExpiring,
			Severity:     severity,
			Title:        "Credential expiring",
			Message:      fmt.Sprintf("%s expires %s (within %d days)", cred.Name, cred.ExpiresAt.UTC().Format(time.RFC3339), threshold),
			CredentialID: cred.ID,
		})
	}
	return deps.Recorder.Log(ctx, audit.Entry{
		CredentialID: cred.ID,
		Action:       audit.ActionExpiryWarning,
		Success:      true,
		Metadata: map[string]string{
			"threshold_days": strconv.Itoa(threshold),
			"expires_at":     cred.ExpiresAt.UTC().Format(time.RFC3339),
		},
		CreatedAt: now,
	})
}

// auditRetentionJob purges audit entries past the retention window.
func auditRetentionJob(deps Deps) JobFunc {
	return func(ctx context.Context) (JobResult, error) {
		cutoff := time.Now().AddDate(0, 0, -RetentionDays)
		removed, err := deps.AuditStore.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return JobResult{Failed: 1, Errors: []string{err.Error()}}, fmt.Errorf("audit retention: %w", err)
		}
		return JobResult{Processed: int(removed), Succeeded: int(removed)}, nil
	}
}

// healthRetentionJob purges health history past the retention window.
func healthRetentionJob(deps Deps) JobFunc {
	return func(ctx context.Context) (JobResult, error) {
		cutoff := time.Now().AddDate(0, 0, -RetentionDays)
		removed, err := deps.History.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return JobResult{Failed: 1, Errors: []string{err.Error()}}, fmt.Errorf("health retention: %w", err)
		}
		return JobResult{Processed: int(removed), Succeeded: int(removed)}, nil
	}
}

// rateLimitSweepJob evicts idle rate limiter state.
func rateLimitSweepJob(deps Deps) JobFunc {
	return func(ctx context.Context) (JobResult, error) {
		removed := deps.Limiter.Sweep()
		return JobResult{Processed: removed, Succeeded: removed}, nil
	}
}
