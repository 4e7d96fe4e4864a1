// Package config loads the credops.yaml runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	credErrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/logging"
)

// DefaultPath is where the engine looks for its configuration.
const DefaultPath = "credops.yaml"

// Config holds the runtime configuration.
type Config struct {
	Path   string
	Logger *logging.Logger

	Definition *Definition
}

// Definition represents the credops.yaml structure.
type Definition struct {
	Version int `yaml:"version"`

	// Database is the SQLite file path.
	Database string `yaml:"database"`

	// Vault selects and configures the secret storage backend.
	Vault VaultConfig `yaml:"vault"`

	// ServiceDefsDir optionally holds extra service definition YAML files.
	ServiceDefsDir string `yaml:"serviceDefsDir,omitempty"`

	// Notifications configures delivery channels.
	Notifications NotificationsConfig `yaml:"notifications,omitempty"`

	// Rotation holds rotation tunables.
	Rotation RotationConfig `yaml:"rotation,omitempty"`

	// Health holds health monitor tunables.
	Health HealthConfig `yaml:"health,omitempty"`

	// Metrics enables the Prometheus registry.
	Metrics bool `yaml:"metrics,omitempty"`

	// SecurityAdmins lists principals holding the security_admin role.
	SecurityAdmins []string `yaml:"securityAdmins,omitempty"`
}

// VaultConfig selects the secret storage backend.
type VaultConfig struct {
	// Type is "local" or "aws-secretsmanager".
	Type string `yaml:"type"`

	// KeyEnv names the environment variable carrying the base64 32-byte
	// master key for the local backend.
	KeyEnv string `yaml:"keyEnv,omitempty"`

	// AWS backend settings.
	Region          string `yaml:"region,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"accessKeyId,omitempty"`
	SecretAccessKey string `yaml:"secretAccessKey,omitempty"`
}

// NotificationsConfig configures delivery channels.
type NotificationsConfig struct {
	QueueSize int             `yaml:"queueSize,omitempty"`
	Webhooks  []WebhookConfig `yaml:"webhooks,omitempty"`
	Slack     *SlackConfig    `yaml:"slack,omitempty"`
	InApp     bool            `yaml:"inApp,omitempty"`
}

// WebhookConfig configures one outbound webhook.
type WebhookConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Events  []string          `yaml:"events,omitempty"`
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	WebhookURL string   `yaml:"webhookUrl"`
	Channel    string   `yaml:"channel,omitempty"`
	Events     []string `yaml:"events,omitempty"`
}

// RotationConfig holds rotation tunables.
type RotationConfig struct {
	GracePeriod    time.Duration `yaml:"gracePeriod,omitempty"`
	VerifyChecks   int           `yaml:"verifyChecks,omitempty"`
	VerifyInterval time.Duration `yaml:"verifyInterval,omitempty"`

	// NoAutoRollback keeps the new secret installed when verification
	// fails, marking the session failed for manual intervention.
	NoAutoRollback bool `yaml:"noAutoRollback,omitempty"`
}

// HealthConfig holds health monitor tunables.
type HealthConfig struct {
	ProbeTimeout      time.Duration `yaml:"probeTimeout,omitempty"`
	DegradedThreshold time.Duration `yaml:"degradedThreshold,omitempty"`
	BatchSize         int           `yaml:"batchSize,omitempty"`
}

// Load reads and parses the credops.yaml file.
func (c *Config) Load() error {
	if c.Path == "" {
		c.Path = DefaultPath
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return credErrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create a credops.yaml or pass --config",
			}
		}
		return credErrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return credErrors.ConfigError{
			Field:      "yaml",
			Message:    fmt.Sprintf("invalid YAML: %v", err),
			Suggestion: "Check the configuration syntax",
		}
	}

	c.Definition = &def
	return c.Validate()
}

// Validate checks the parsed definition for consistency.
func (c *Config) Validate() error {
	def := c.Definition
	if def == nil {
		return credErrors.ConfigError{Message: "configuration not loaded"}
	}
	if def.Version != 1 {
		return credErrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set version: 1",
		}
	}
	if def.Database == "" {
		def.Database = "credops.db"
	}

	switch def.Vault.Type {
	case "", "local":
		def.Vault.Type = "local"
		if def.Vault.KeyEnv == "" {
			def.Vault.KeyEnv = "CREDOPS_VAULT_KEY"
		}
	case "aws-secretsmanager":
	default:
		return credErrors.ConfigError{
			Field:      "vault.type",
			Value:      def.Vault.Type,
			Message:    "unknown vault backend",
			Suggestion: "Use 'local' or 'aws-secretsmanager'",
		}
	}

	for i, wh := range def.Notifications.Webhooks {
		if wh.URL == "" {
			return credErrors.ConfigError{
				Field:   fmt.Sprintf("notifications.webhooks[%d].url", i),
				Message: "webhook URL is required",
			}
		}
	}
	if def.Notifications.Slack != nil && def.Notifications.Slack.WebhookURL == "" {
		return credErrors.ConfigError{
			Field:   "notifications.slack.webhookUrl",
			Message: "Slack webhook URL is required",
		}
	}
	return nil
}
