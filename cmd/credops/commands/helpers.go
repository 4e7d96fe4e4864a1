package commands

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/systmms/credops/internal/accessctl"
	"github.com/systmms/credops/internal/audit"
	"github.com/systmms/credops/internal/authz"
	"github.com/systmms/credops/internal/config"
	"github.com/systmms/credops/internal/credential"
	"github.com/systmms/credops/internal/emergency"
	credErrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/health"
	"github.com/systmms/credops/internal/notify"
	"github.com/systmms/credops/internal/ratelimit"
	"github.com/systmms/credops/internal/rotation"
	"github.com/systmms/credops/internal/servicedef"
	"github.com/systmms/credops/internal/store"
	"github.com/systmms/credops/internal/vault"
)

// engine bundles every wired component a command may need. Commands build
// it after config load and must Close it before returning.
type engine struct {
	cfg *config.Config
	db  *store.DB

	credentials   credential.Store
	sessions      rotation.SessionStore
	recorder      *audit.Recorder
	auditStore    audit.Store
	history       health.HistoryStore
	notifications *store.NotificationRepo

	defs         *servicedef.Registry
	gate         *accessctl.Gate
	limiter      *ratelimit.Limiter
	monitor      *health.Monitor
	authorizer   *authz.StaticAuthorizer
	notifier     *notify.Manager
	emergency    *emergency.Manager
	orchestrator *rotation.Orchestrator
	vault        vault.Vault
}

// newEngine loads config and wires the full component graph.
func newEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	def := cfg.Definition

	db, err := store.Open(def.Database)
	if err != nil {
		return nil, err
	}

	e := &engine{
		cfg:           cfg,
		db:            db,
		credentials:   store.NewCredentialRepo(db),
		sessions:      store.NewSessionRepo(db),
		auditStore:    store.NewAuditRepo(db),
		history:       store.NewHealthRepo(db),
		notifications: store.NewNotificationRepo(db),
		defs:          servicedef.NewRegistry(),
		limiter:       ratelimit.NewLimiter(),
		authorizer:    authz.NewStaticAuthorizer(),
	}
	e.recorder = audit.NewRecorder(e.auditStore)
	e.gate = accessctl.NewGate(e.credentials, cfg.Logger)

	if def.ServiceDefsDir != "" {
		loaded, err := e.defs.LoadDir(def.ServiceDefsDir)
		if err != nil {
			db.Close()
			return nil, err
		}
		cfg.Logger.Debug("loaded %d service definitions from %s", loaded, def.ServiceDefsDir)
	}

	for _, admin := range def.SecurityAdmins {
		e.authorizer.Assign(admin, authz.RoleSecurityAdmin)
	}

	e.vault, err = buildVault(ctx, e, def)
	if err != nil {
		db.Close()
		return nil, err
	}

	e.notifier = buildNotifier(e, def)

	e.monitor = health.NewMonitor(health.MonitorConfig{
		ProbeTimeout:      def.Health.ProbeTimeout,
		DegradedThreshold: def.Health.DegradedThreshold,
		BatchSize:         def.Health.BatchSize,
	}, e.credentials, e.history, e.defs, cfg.Logger)

	e.emergency = emergency.NewManager(e.credentials, e.authorizer, e.recorder, e.notifier, cfg.Logger)

	verifier := rotation.VerifierFunc(func(ctx context.Context, cred *credential.Credential, _ servicedef.Definition) error {
		result, err := e.monitor.Check(ctx, cred.ID)
		if err != nil {
			return err
		}
		if result.Status == health.StatusUnhealthy {
			return fmt.Errorf("credential unhealthy: %s", result.Error)
		}
		return nil
	})
	e.orchestrator = rotation.NewOrchestrator(
		e.credentials, e.sessions, rotation.NewStrategyRegistry(e.defs),
		e.vault, verifier, e.recorder, e.notifier, cfg.Logger,
	)

	return e, nil
}

// Close releases the engine's resources.
func (e *engine) Close() {
	if e.notifier != nil {
		e.notifier.Stop()
	}
	if e.db != nil {
		e.db.Close()
	}
}

// buildVault selects and constructs the secret storage backend.
func buildVault(ctx context.Context, e *engine, def *config.Definition) (vault.Vault, error) {
	switch def.Vault.Type {
	case "aws-secretsmanager":
		return vault.NewAWSVault(ctx, vault.AWSVaultConfig{
			Region:          def.Vault.Region,
			Prefix:          def.Vault.Prefix,
			Endpoint:        def.Vault.Endpoint,
			AccessKeyID:     def.Vault.AccessKeyID,
			SecretAccessKey: def.Vault.SecretAccessKey,
		})
	default:
		encoded := os.Getenv(def.Vault.KeyEnv)
		if encoded == "" {
			return nil, credErrors.ConfigError{
				Field:      "vault.keyEnv",
				Value:      def.Vault.KeyEnv,
				Message:    "vault master key environment variable is empty",
				Suggestion: fmt.Sprintf("Export %s with a base64-encoded 32-byte key", def.Vault.KeyEnv),
			}
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, credErrors.ConfigError{
				Field:      "vault.keyEnv",
				Message:    "vault master key is not valid base64",
				Suggestion: "Generate one with: head -c32 /dev/urandom | base64",
			}
		}
		return vault.NewLocalVault(store.NewVaultRepo(e.db), key)
	}
}

// buildNotifier wires the configured notification providers and starts the
// delivery worker.
func buildNotifier(e *engine, def *config.Definition) *notify.Manager {
	manager := notify.NewManager(def.Notifications.QueueSize, e.cfg.Logger)
	for _, wh := range def.Notifications.Webhooks {
		manager.RegisterProvider(notify.NewWebhookProvider(notify.WebhookConfig{
			Name:    wh.Name,
			URL:     wh.URL,
			Headers: wh.Headers,
			Events:  wh.Events,
		}))
	}
	if slack := def.Notifications.Slack; slack != nil {
		manager.RegisterProvider(notify.NewSlackProvider(notify.SlackConfig{
			WebhookURL: slack.WebhookURL,
			Channel:    slack.Channel,
			Events:     slack.Events,
		}))
	}
	if def.Notifications.InApp {
		manager.RegisterProvider(notify.NewInAppProvider(e.notifications))
	}
	manager.Start(context.Background())
	return manager
}
