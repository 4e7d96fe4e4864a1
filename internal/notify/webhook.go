package notify

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	credErrors "github.com/systmms/credops/internal/errors"
)

// RetryConfig holds retry configuration for webhooks.
type RetryConfig struct {
	// MaxAttempts is the maximum number of delivery attempts (default: 3).
	MaxAttempts int

	// Backoff strategy: linear, exponential (default: exponential).
	Backoff string

	// InitialWait is the initial wait time between retries.
	InitialWait time.Duration
}

// WebhookConfig holds configuration for webhook notifications.
type WebhookConfig struct {
	// Name is a human-readable name for this webhook.
	Name string

	// URL is the webhook endpoint URL.
	URL string

	// Headers are additional HTTP headers to include.
	Headers map[string]string

	// Events specifies which event types trigger delivery.
	// If empty, all events are sent.
	Events []string

	// Retry configuration.
	Retry *RetryConfig

	// Timeout for the HTTP request.
	Timeout time.Duration
}

// WebhookProvider delivers lifecycle events via HTTP webhooks.
type WebhookProvider struct {
	config WebhookConfig
	client HTTPClient
}

// HTTPClient is the interface for making HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewWebhookProvider creates a new webhook notification provider.
func NewWebhookProvider(config WebhookConfig) *WebhookProvider {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Retry == nil {
		config.Retry = &RetryConfig{}
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = 3
	}
	if config.Retry.Backoff == "" {
		config.Retry.Backoff = "exponential"
	}
	if config.Retry.InitialWait == 0 {
		config.Retry.InitialWait = 1 * time.Second
	}

	return &WebhookProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// SetClient sets a custom HTTP client for testing.
func (p *WebhookProvider) SetClient(client HTTPClient) {
	p.client = client
}

// Name returns the provider name.
func (p *WebhookProvider) Name() string {
	if p.config.Name != "" {
		return "webhook:" + p.config.Name
	}
	return "webhook"
}

// SupportsEvent returns true if this provider handles the given event type.
func (p *WebhookProvider) SupportsEvent(eventType EventType) bool {
	if len(p.config.Events) == 0 {
		return true
	}
	eventStr := string(eventType)
	for _, e := range p.config.Events {
		if strings.EqualFold(e, eventStr) {
			return true
		}
	}
	return false
}

// webhookPayload is the JSON body posted to the endpoint.
type webhookPayload struct {
	Type         string            `json:"type"`
	Severity     string            `json:"severity"`
	Title        string            `json:"title"`
	Message      string            `json:"message"`
	CredentialID string            `json:"credential_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Timestamp    string            `json:"timestamp"`
}

// Send delivers the event, retrying with backoff on failure.
func (p *WebhookProvider) Send(ctx context.Context, event Event) error {
	payload := webhookPayload{
		Type:         string(event.Type),
		Severity:     string(event.Severity),
		Title:        event.Title,
		Message:      event.Message,
		CredentialID: event.CredentialID,
		Metadata:     event.Metadata,
		Timestamp:    event.Timestamp.UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var lastErr error
	wait := p.config.Retry.InitialWait
	for attempt := 1; attempt <= p.config.Retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			if p.config.Retry.Backoff == "exponential" {
				wait *= 2
			} else {
				wait += p.config.Retry.InitialWait
			}
		}

		lastErr = p.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		if !retryableDelivery(lastErr) {
			return fmt.Errorf("webhook delivery failed: %w", lastErr)
		}
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", p.config.Retry.MaxAttempts, lastErr)
}

// statusError is a non-2xx response from the endpoint.
type statusError struct {
	code int
}

func (e statusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.code)
}

// retryableDelivery reports whether a failed attempt is worth another.
// Transport failures and throttling or server-side statuses are; other
// client statuses are permanent.
func retryableDelivery(err error) bool {
	var se statusError
	if stderrors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var ee credErrors.ExternalError
	if stderrors.As(err, &ee) {
		return true
	}
	return credErrors.IsRetryable(err)
}

func (p *WebhookProvider) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range p.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return credErrors.ExternalError{System: "webhook", Op: "POST " + p.config.URL, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError{code: resp.StatusCode}
	}
	return nil
}
