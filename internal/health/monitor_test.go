package health

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credops/internal/credential"
	"github.com/systmms/credops/internal/logging"
	"github.com/systmms/credops/internal/servicedef"
)

// stubProber returns a canned error, optionally after a sleep. Safe for
// the concurrent sweeps.
type stubProber struct {
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (p *stubProber) Name() string { return "stub" }

func (p *stubProber) Probe(ctx context.Context, cred *credential.Credential, def servicedef.Definition) error {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.err
}

func newTestMonitor(t *testing.T, config MonitorConfig, creds ...*credential.Credential) (*Monitor, *MemoryHistory) {
	t.Helper()
	store := credential.NewMemoryStore()
	for _, c := range creds {
		require.NoError(t, store.Create(context.Background(), c))
	}
	history := NewMemoryHistory()
	m := NewMonitor(config, store, history, servicedef.NewRegistry(), logging.New(false, true))
	return m, history
}

func TestMonitor_CheckClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prober  *stubProber
		config  MonitorConfig
		want    Status
		wantErr string
	}{
		{
			name:   "fast success is healthy",
			prober: &stubProber{},
			want:   StatusHealthy,
		},
		{
			name:    "slow success is degraded",
			prober:  &stubProber{delay: 30 * time.Millisecond},
			config:  MonitorConfig{DegradedThreshold: 10 * time.Millisecond},
			want:    StatusDegraded,
			wantErr: "exceeds threshold",
		},
		{
			name:    "probe failure is unhealthy",
			prober:  &stubProber{err: errors.New("connection refused")},
			want:    StatusUnhealthy,
			wantErr: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cred := &credential.Credential{ID: "cred-1", ServiceType: "generic", Active: true, ProbeURL: "https://api.example.com"}
			m, history := newTestMonitor(t, tt.config, cred)
			m.RegisterProber(servicedef.ProbeHTTPHead, tt.prober)

			result, err := m.Check(context.Background(), "cred-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Status)
			if tt.wantErr != "" {
				assert.Contains(t, result.Error, tt.wantErr)
			}
			assert.Equal(t, int32(1), tt.prober.calls.Load())

			// Every check lands in the history, failures included.
			recent, err := history.ListRecent(context.Background(), "cred-1", 10)
			require.NoError(t, err)
			require.Len(t, recent, 1)
			assert.Equal(t, tt.want, recent[0].Status)
		})
	}
}

func TestMonitor_CheckUnknownCredential(t *testing.T) {
	t.Parallel()

	m, _ := newTestMonitor(t, MonitorConfig{})
	_, err := m.Check(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestMonitor_ProbePanicRecorded(t *testing.T) {
	t.Parallel()

	cred := &credential.Credential{ID: "cred-1", ServiceType: "generic", Active: true, ProbeURL: "https://api.example.com"}
	m, _ := newTestMonitor(t, MonitorConfig{}, cred)
	m.RegisterProber(servicedef.ProbeHTTPHead, panicProber{})

	result, err := m.Check(context.Background(), "cred-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Contains(t, result.Error, "panicked")
}

type panicProber struct{}

func (panicProber) Name() string { return "panic" }
func (panicProber) Probe(ctx context.Context, cred *credential.Credential, def servicedef.Definition) error {
	panic("boom")
}

func TestMonitor_StatusConsecutiveFailures(t *testing.T) {
	t.Parallel()

	m, history := newTestMonitor(t, MonitorConfig{})
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	statuses := []Status{StatusHealthy, StatusUnhealthy, StatusUnhealthy, StatusUnhealthy}
	for i, s := range statuses {
		require.NoError(t, history.SaveResult(context.Background(), &Result{
			ID:           fmt.Sprintf("r%d", i),
			CredentialID: "cred-1",
			Status:       s,
			CheckedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	report, err := m.Status(context.Background(), "cred-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, 3, report.ConsecutiveFailures)
}

func TestMonitor_StatusNeverChecked(t *testing.T) {
	t.Parallel()

	m, _ := newTestMonitor(t, MonitorConfig{})
	report, err := m.Status(context.Background(), "cred-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, report.Status)
	assert.Nil(t, report.LastChecked)
}

func TestMonitor_Uptime(t *testing.T) {
	t.Parallel()

	m, history := newTestMonitor(t, MonitorConfig{})

	// healthy, unhealthy, unhealthy, healthy: 50% uptime, one incident.
	now := time.Now()
	statuses := []Status{StatusHealthy, StatusUnhealthy, StatusUnhealthy, StatusHealthy}
	for i, s := range statuses {
		require.NoError(t, history.SaveResult(context.Background(), &Result{
			ID:           fmt.Sprintf("r%d", i),
			CredentialID: "cred-1",
			Status:       s,
			CheckedAt:    now.Add(time.Duration(i-10) * time.Hour),
		}))
	}

	report, err := m.Uptime(context.Background(), "cred-1", 7)
	require.NoError(t, err)
	assert.Equal(t, 4, report.TotalChecks)
	assert.Equal(t, 2, report.UpChecks)
	assert.InDelta(t, 50.0, report.UptimePercent, 0.01)
	require.Len(t, report.Incidents, 1)
	assert.False(t, report.Incidents[0].Ongoing)
	assert.Equal(t, time.Hour, report.Incidents[0].Duration)
}

func TestMonitor_UptimeOngoingIncident(t *testing.T) {
	t.Parallel()

	m, history := newTestMonitor(t, MonitorConfig{})
	now := time.Now()
	statuses := []Status{StatusHealthy, StatusUnhealthy, StatusUnhealthy}
	for i, s := range statuses {
		require.NoError(t, history.SaveResult(context.Background(), &Result{
			ID:           fmt.Sprintf("r%d", i),
			CredentialID: "cred-1",
			Status:       s,
			CheckedAt:    now.Add(time.Duration(i-5) * time.Hour),
		}))
	}

	report, err := m.Uptime(context.Background(), "cred-1", 7)
	require.NoError(t, err)
	require.Len(t, report.Incidents, 1)
	assert.True(t, report.Incidents[0].Ongoing)
	assert.Nil(t, report.Incidents[0].End)
}

func TestMonitor_UptimeDegradedCountsAsUp(t *testing.T) {
	t.Parallel()

	m, history := newTestMonitor(t, MonitorConfig{})
	require.NoError(t, history.SaveResult(context.Background(), &Result{
		ID: "r0", CredentialID: "cred-1", Status: StatusDegraded, CheckedAt: time.Now().Add(-time.Hour),
	}))

	report, err := m.Uptime(context.Background(), "cred-1", 1)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, report.UptimePercent, 0.01)
	assert.Empty(t, report.Incidents)
}

func TestMonitor_UptimeNoData(t *testing.T) {
	t.Parallel()

	m, _ := newTestMonitor(t, MonitorConfig{})
	report, err := m.Uptime(context.Background(), "cred-1", 30)
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalChecks)
	assert.InDelta(t, 100.0, report.UptimePercent, 0.01)
}

func TestMonitor_UptimeRejectsBadWindow(t *testing.T) {
	t.Parallel()

	m, _ := newTestMonitor(t, MonitorConfig{})
	_, err := m.Uptime(context.Background(), "cred-1", 0)
	assert.Error(t, err)
}

func TestMonitor_CheckAll(t *testing.T) {
	t.Parallel()

	creds := []*credential.Credential{
		{ID: "a", ServiceType: "generic", Active: true, ProbeURL: "https://a.example.com"},
		{ID: "b", ServiceType: "generic", Active: true, ProbeURL: "https://b.example.com"},
		{ID: "c", ServiceType: "generic", Active: true, ProbeURL: "https://c.example.com"},
	}
	m, history := newTestMonitor(t, MonitorConfig{BatchSize: 2}, creds...)
	m.RegisterProber(servicedef.ProbeHTTPHead, &stubProber{})

	sweep, err := m.CheckAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sweep.Checked)
	assert.Equal(t, 3, sweep.Healthy)
	assert.Empty(t, sweep.Errors)

	for _, cred := range creds {
		recent, err := history.ListRecent(context.Background(), cred.ID, 1)
		require.NoError(t, err)
		assert.Len(t, recent, 1)
	}
}

func TestMonitor_CheckAllSkipsInactive(t *testing.T) {
	t.Parallel()

	m, _ := newTestMonitor(t, MonitorConfig{},
		&credential.Credential{ID: "on", ServiceType: "generic", Active: true, ProbeURL: "https://a.example.com"},
		&credential.Credential{ID: "off", ServiceType: "generic", Active: false, ProbeURL: "https://b.example.com"},
	)
	prober := &stubProber{}
	m.RegisterProber(servicedef.ProbeHTTPHead, prober)

	sweep, err := m.CheckAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Checked)
	assert.Equal(t, int32(1), prober.calls.Load())
}
