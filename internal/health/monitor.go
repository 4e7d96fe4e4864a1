package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/systmms/credops/internal/credential"
	credErrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/logging"
	"github.com/systmms/credops/internal/servicedef"
)

const (
	// DefaultProbeTimeout bounds each outbound probe.
	DefaultProbeTimeout = 10 * time.Second

	// DefaultDegradedThreshold is the latency above which a successful
	// probe is classified degraded.
	DefaultDegradedThreshold = 5000 * time.Millisecond

	// DefaultBatchSize bounds concurrency against external services
	// during a full sweep.
	DefaultBatchSize = 5

	// statusScanDepth is how many recent results the consecutive-failure
	// scan inspects.
	statusScanDepth = 50
)

// HistoryStore is the port to persisted health check results.
type HistoryStore interface {
	// SaveResult appends a result. Results are immutable once written.
	SaveResult(ctx context.Context, result *Result) error

	// ListRecent returns up to limit results for a credential, newest first.
	ListRecent(ctx context.Context, credentialID string, limit int) ([]Result, error)

	// ListSince returns results for a credential at or after since, oldest first.
	ListSince(ctx context.Context, credentialID string, since time.Time) ([]Result, error)

	// DeleteOlderThan purges results older than the cutoff, returning the
	// number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MonitorConfig holds tunables for the monitor.
type MonitorConfig struct {
	ProbeTimeout      time.Duration
	DegradedThreshold time.Duration
	BatchSize         int
}

// DefaultMonitorConfig returns the default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		ProbeTimeout:      DefaultProbeTimeout,
		DegradedThreshold: DefaultDegradedThreshold,
		BatchSize:         DefaultBatchSize,
	}
}

// Monitor executes probes and maintains health history.
type Monitor struct {
	config  MonitorConfig
	store   credential.Store
	history HistoryStore
	defs    *servicedef.Registry
	logger  *logging.Logger

	mu      sync.RWMutex
	probers map[servicedef.ProbeKind]Prober
}

// NewMonitor creates a health monitor with the standard probe set.
func NewMonitor(config MonitorConfig, store credential.Store, history HistoryStore, defs *servicedef.Registry, logger *logging.Logger) *Monitor {
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}
	if config.DegradedThreshold == 0 {
		config.DegradedThreshold = DefaultDegradedThreshold
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultBatchSize
	}

	m := &Monitor{
		config:  config,
		store:   store,
		history: history,
		defs:    defs,
		logger:  logger,
		probers: make(map[servicedef.ProbeKind]Prober),
	}
	m.probers[servicedef.ProbeHTTPHead] = NewHeadProber(config.ProbeTimeout)
	m.probers[servicedef.ProbeBalance] = NewBalanceProber(config.ProbeTimeout)
	m.probers[servicedef.ProbeOAuthIntrospect] = NewIntrospectProber(config.ProbeTimeout)
	m.probers[servicedef.ProbeSQLPing] = NewSQLProber(config.ProbeTimeout)
	return m
}

// RegisterProber replaces the prober for a probe kind. Test hook and
// extension point for new service types.
func (m *Monitor) RegisterProber(kind servicedef.ProbeKind, prober Prober) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probers[kind] = prober
}

// proberFor selects the probe strategy for a credential's service type,
// falling back to the generic connectivity probe.
func (m *Monitor) proberFor(serviceType string) Prober {
	kind := servicedef.ProbeHTTPHead
	if def, ok := m.defs.Get(serviceType); ok {
		kind = def.Probe.Kind
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.probers[kind]; ok {
		return p
	}
	return m.probers[servicedef.ProbeHTTPHead]
}

// Check probes one credential and persists the classified result. Every
// check is recorded, including probe failures, so the history never has
// silent gaps.
func (m *Monitor) Check(ctx context.Context, credentialID string) (*Result, error) {
	cred, err := m.store.Get(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	def, _ := m.defs.Get(cred.ServiceType)
	prober := m.proberFor(cred.ServiceType)

	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	start := time.Now()
	probeErr := m.runProbe(probeCtx, prober, cred, def)
	latency := time.Since(start)
	cancel()

	result := &Result{
		ID:           uuid.NewString(),
		CredentialID: credentialID,
		Latency:      latency,
		CheckedAt:    start,
	}

	switch {
	case probeErr != nil:
		result.Status = StatusUnhealthy
		result.Error = probeErr.Error()
	case latency > m.config.DegradedThreshold:
		result.Status = StatusDegraded
		result.Error = fmt.Sprintf("latency %v exceeds threshold %v", latency, m.config.DegradedThreshold)
	default:
		result.Status = StatusHealthy
	}

	recordHealthCheck(cred.ServiceType, result.Status, latency.Seconds())

	if err := m.history.SaveResult(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to record health check: %w", err)
	}
	return result, nil
}

// runProbe executes the prober, converting a panic into an error so the
// check is still recorded as unhealthy instead of killing the sweep.
func (m *Monitor) runProbe(ctx context.Context, prober Prober, cred *credential.Credential, def servicedef.Definition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe %s panicked: %v", prober.Name(), r)
		}
	}()
	return prober.Probe(ctx, cred, def)
}

// StatusReport is the latest health picture for one credential.
type StatusReport struct {
	CredentialID        string
	Status              Status
	LastChecked         *time.Time
	Latency             time.Duration
	Error               string
	ConsecutiveFailures int
}

// Status returns the latest recorded status plus the consecutive-failure
// count, scanning the most recent results front-to-back and stopping at
// the first non-unhealthy entry.
func (m *Monitor) Status(ctx context.Context, credentialID string) (*StatusReport, error) {
	results, err := m.history.ListRecent(ctx, credentialID, statusScanDepth)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{CredentialID: credentialID, Status: StatusUnknown}
	if len(results) == 0 {
		return report, nil
	}

	latest := results[0]
	report.Status = latest.Status
	report.LastChecked = &latest.CheckedAt
	report.Latency = latest.Latency
	report.Error = latest.Error

	for _, r := range results {
		if r.Status != StatusUnhealthy {
			break
		}
		report.ConsecutiveFailures++
	}
	return report, nil
}

// Incident is a contiguous run of unhealthy results collapsed into one
// record. An ongoing incident has no end time.
type Incident struct {
	Start    time.Time
	End      *time.Time
	Duration time.Duration
	Ongoing  bool
}

// UptimeReport summarizes availability over a window.
type UptimeReport struct {
	CredentialID  string
	Days          int
	TotalChecks   int
	UpChecks      int
	UptimePercent float64
	Incidents     []Incident
}

// Uptime derives the uptime percentage over the trailing window and
// reconstructs incidents from the unhealthy runs.
func (m *Monitor) Uptime(ctx context.Context, credentialID string, days int) (*UptimeReport, error) {
	if days <= 0 {
		return nil, credErrors.ValidationError{Field: "days", Value: days, Message: "must be positive"}
	}

	since := time.Now().AddDate(0, 0, -days)
	results, err := m.history.ListSince(ctx, credentialID, since)
	if err != nil {
		return nil, err
	}

	report := &UptimeReport{CredentialID: credentialID, Days: days, TotalChecks: len(results)}
	if len(results) == 0 {
		report.UptimePercent = 100
		return report, nil
	}

	var current *Incident
	for _, r := range results {
		if r.Status.Up() {
			report.UpChecks++
		}

		if r.Status == StatusUnhealthy {
			if current == nil {
				current = &Incident{Start: r.CheckedAt}
			}
			end := r.CheckedAt
			current.End = &end
			current.Duration = end.Sub(current.Start)
		} else if current != nil {
			report.Incidents = append(report.Incidents, *current)
			current = nil
		}
	}
	if current != nil {
		// Run never recovered within the window.
		current.Ongoing = true
		current.End = nil
		report.Incidents = append(report.Incidents, *current)
	}

	report.UptimePercent = float64(report.UpChecks) / float64(report.TotalChecks) * 100
	return report, nil
}

// SweepResult summarizes a full health check pass.
type SweepResult struct {
	Checked   int
	Healthy   int
	Degraded  int
	Unhealthy int
	Errors    []string
}

// CheckAll probes every active credential in small batches to bound
// concurrency against external services.
func (m *Monitor) CheckAll(ctx context.Context) (*SweepResult, error) {
	creds, err := m.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	sweep := &SweepResult{}
	var mu sync.Mutex

	for start := 0; start < len(creds); start += m.config.BatchSize {
		end := start + m.config.BatchSize
		if end > len(creds) {
			end = len(creds)
		}

		var wg sync.WaitGroup
		for _, cred := range creds[start:end] {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				result, err := m.Check(ctx, id)

				mu.Lock()
				defer mu.Unlock()
				sweep.Checked++
				if err != nil {
					sweep.Errors = append(sweep.Errors, fmt.Sprintf("%s: %v", id, err))
					return
				}
				switch result.Status {
				case StatusHealthy:
					sweep.Healthy++
				case StatusDegraded:
					sweep.Degraded++
				case StatusUnhealthy:
					sweep.Unhealthy++
				}
			}(cred.ID)
		}
		wg.Wait()
	}

	m.logger.Debug("health sweep: %d checked, %d healthy, %d degraded, %d unhealthy",
		sweep.Checked, sweep.Healthy, sweep.Degraded, sweep.Unhealthy)
	return sweep, nil
}
