package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SlackConfig holds configuration for Slack notifications.
type SlackConfig struct {
	// WebhookURL is the Slack incoming webhook URL.
	WebhookURL string

	// Channel optionally overrides the webhook's default channel.
	Channel string

	// Events specifies which event types trigger delivery.
	// If empty, all events are sent.
	Events []string

	// Timeout for the HTTP request.
	Timeout time.Duration
}

// SlackProvider delivers lifecycle events to a Slack incoming webhook.
type SlackProvider struct {
	config SlackConfig
	client HTTPClient
}

// NewSlackProvider creates a new Slack notification provider.
func NewSlackProvider(config SlackConfig) *SlackProvider {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &SlackProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// SetClient sets a custom HTTP client for testing.
func (p *SlackProvider) SetClient(client HTTPClient) {
	p.client = client
}

// Name returns the provider name.
func (p *SlackProvider) Name() string { return "slack" }

// SupportsEvent returns true if this provider handles the given event type.
func (p *SlackProvider) SupportsEvent(eventType EventType) bool {
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

// severityEmoji maps event severity to a message prefix.
func severityEmoji(severity Severity) string {
	switch severity {
	case SeverityCritical:
		return ":rotating_light:"
	case SeverityWarning:
		return ":warning:"
	default:
		return ":information_source:"
	}
}

// slackMessage is the incoming-webhook payload.
type slackMessage struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// Send posts the event to the Slack webhook.
func (p *SlackProvider) Send(ctx context.Context, event Event) error {
	var text strings.Builder
	fmt.Fprintf(&text, "%s *%s*\n%s", severityEmoji(event.Severity), event.Title, event.Message)
	if event.CredentialID != "" {
		fmt.Fprintf(&text, "\nCredential: `%s`", event.CredentialID)
	}

	body, err := json.Marshal(slackMessage{Channel: p.config.Channel, Text: text.String()})
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
