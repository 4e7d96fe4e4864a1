// Package health executes service-specific probes against credentials and
// classifies the outcome into a persisted health history.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/systmms/credops/internal/credential"
	credErrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/servicedef"
)

// Status classifies one health check outcome.
type Status string

const (
	// StatusHealthy indicates the probe succeeded within the latency threshold.
	StatusHealthy Status = "healthy"

	// StatusDegraded indicates the probe succeeded but was slow.
	StatusDegraded Status = "degraded"

	// StatusUnhealthy indicates the probe failed.
	StatusUnhealthy Status = "unhealthy"

	// StatusUnknown indicates no check has been recorded yet.
	StatusUnknown Status = "unknown"
)

// Up reports whether a status counts as "up" for uptime calculations.
func (s Status) Up() bool {
	return s == StatusHealthy || s == StatusDegraded
}

// Result is one recorded health check. Immutable once written.
type Result struct {
	ID           string
	CredentialID string
	Status       Status
	Latency      time.Duration
	Error        string
	CheckedAt    time.Time
}

// Prober performs one service-specific connectivity check. A returned
// error means the credential's service is unreachable or rejecting it.
type Prober interface {
	Name() string
	Probe(ctx context.Context, cred *credential.Credential, def servicedef.Definition) error
}

// HTTPClient is the interface for making HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// probeURL joins the credential's probe base URL with the definition's
// endpoint path.
func probeURL(cred *credential.Credential, def servicedef.Definition) (string, error) {
	if cred.ProbeURL == "" {
		return "", fmt.Errorf("no probe URL configured for credential %s", cred.ID)
	}
	return cred.ProbeURL + def.Probe.Endpoint, nil
}

// HeadProber is the generic connectivity probe: a HEAD request where a
// 401/403 response still counts as reachable, since the service answered.
type HeadProber struct {
	client HTTPClient
}

// NewHeadProber creates the generic HEAD probe with the given timeout.
func NewHeadProber(timeout time.Duration) *HeadProber {
	return &HeadProber{client: &http.Client{Timeout: timeout}}
}

// SetClient sets a custom HTTP client for testing.
func (p *HeadProber) SetClient(client HTTPClient) { p.client = client }

// Name returns the prober name.
func (p *HeadProber) Name() string { return "http-head" }

// Probe performs the connectivity check.
func (p *HeadProber) Probe(ctx context.Context, cred *credential.Credential, def servicedef.Definition) error {
	url, err := probeURL(cred, def)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return credErrors.ExternalError{System: "probe", Op: "HEAD " + url, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	// Auth rejections still prove the service is reachable.
	if resp.StatusCode < 500 {
		return nil
	}
	return fmt.Errorf("unexpected status code %d", resp.StatusCode)
}

// BalanceProber probes a payment provider's balance endpoint, which
// exercises both connectivity and the credential itself.
type BalanceProber struct {
	client HTTPClient
}

// NewBalanceProber creates the balance-endpoint probe.
func NewBalanceProber(timeout time.Duration) *BalanceProber {
	return &BalanceProber{client: &http.Client{Timeout: timeout}}
}

// SetClient sets a custom HTTP client for testing.
func (p *BalanceProber) SetClient(client HTTPClient) { p.client = client }

// Name returns the prober name.
func (p *BalanceProber) Name() string { return "balance" }

// Probe performs the balance check.
func (p *BalanceProber) Probe(ctx context.Context, cred *credential.Credential, def servicedef.Definition) error {
	url, err := probeURL(cred, def)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return credErrors.ExternalError{System: "probe", Op: "GET " + url, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("balance endpoint returned status %d", resp.StatusCode)
}

// IntrospectProber probes an OAuth token introspection endpoint.
type IntrospectProber struct {
	client HTTPClient
}

// NewIntrospectProber creates the token introspection probe.
func NewIntrospectProber(timeout time.Duration) *IntrospectProber {
	return &IntrospectProber{client: &http.Client{Timeout: timeout}}
}

// SetClient sets a custom HTTP client for testing.
func (p *IntrospectProber) SetClient(client HTTPClient) { p.client = client }

// Name returns the prober name.
func (p *IntrospectProber) Name() string { return "oauth-introspect" }

// Probe performs the introspection check.
func (p *IntrospectProber) Probe(ctx context.Context, cred *credential.Credential, def servicedef.Definition) error {
	url, err := probeURL(cred, def)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return credErrors.ExternalError{System: "probe", Op: "POST " + url, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("introspection endpoint returned status %d", resp.StatusCode)
}
