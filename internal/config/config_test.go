package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	credErrors "github.com/systmms/credops/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfig_Load(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: writeConfig(t, `
version: 1
database: /var/lib/credops/credops.db
vault:
  type: aws-secretsmanager
  region: eu-west-1
  prefix: credops
rotation:
  gracePeriod: 10m
  verifyChecks: 5
  verifyInterval: 2s
health:
  probeTimeout: 3s
  degradedThreshold: 2s
  batchSize: 10
notifications:
  queueSize: 200
  webhooks:
    - name: ops
      url: https://hooks.example.com/credops
      events: [rotation_failed]
  slack:
    webhookUrl: https://hooks.slack.com/services/T/B/X
    channel: "#security"
metrics: true
securityAdmins: [alice, carol]
`)}
	require.NoError(t, cfg.Load())

	def := cfg.Definition
	assert.Equal(t, "/var/lib/credops/credops.db", def.Database)
	assert.Equal(t, "aws-secretsmanager", def.Vault.Type)
	assert.Equal(t, "eu-west-1", def.Vault.Region)
	assert.Equal(t, 10*time.Minute, def.Rotation.GracePeriod)
	assert.Equal(t, 5, def.Rotation.VerifyChecks)
	assert.Equal(t, 3*time.Second, def.Health.ProbeTimeout)
	assert.Equal(t, 200, def.Notifications.QueueSize)
	require.Len(t, def.Notifications.Webhooks, 1)
	assert.Equal(t, "https://hooks.example.com/credops", def.Notifications.Webhooks[0].URL)
	require.NotNil(t, def.Notifications.Slack)
	assert.Equal(t, "#security", def.Notifications.Slack.Channel)
	assert.True(t, def.Metrics)
	assert.Equal(t, []string{"alice", "carol"}, def.SecurityAdmins)
}

func TestConfig_LoadDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: writeConfig(t, "version: 1\n")}
	require.NoError(t, cfg.Load())

	assert.Equal(t, "credops.db", cfg.Definition.Database)
	assert.Equal(t, "local", cfg.Definition.Vault.Type)
	assert.Equal(t, "CREDOPS_VAULT_KEY", cfg.Definition.Vault.KeyEnv)
}

func TestConfig_LoadMissingFile(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: filepath.Join(t.TempDir(), "nope.yaml")}
	err := cfg.Load()
	var cfgErr credErrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "path", cfgErr.Field)
}

func TestConfig_LoadBadYAML(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: writeConfig(t, "version: [not closed")}
	err := cfg.Load()
	var cfgErr credErrors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"wrong version", "version: 2\n", "version"},
		{"unknown vault backend", "version: 1\nvault:\n  type: hsm\n", "vault.type"},
		{"webhook without url", "version: 1\nnotifications:\n  webhooks:\n    - name: ops\n", "notifications.webhooks[0].url"},
		{"slack without url", "version: 1\nnotifications:\n  slack:\n    channel: \"#security\"\n", "notifications.slack.webhookUrl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Path: writeConfig(t, tt.yaml)}
			err := cfg.Load()
			var cfgErr credErrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
