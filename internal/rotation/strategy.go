package rotation

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/systmms/credops/internal/credential"
	"github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/servicedef"
)

// DefaultSecretLength is used when a service definition does not specify one.
const DefaultSecretLength = 32

// secretCharset is the alphabet for generated secrets.
const secretCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateSecret mints a random secret matching the service definition's
// prefix and length requirements.
func GenerateSecret(def servicedef.Definition) (string, error) {
	length := def.Rotation.SecretLength
	if length <= 0 {
		length = DefaultSecretLength
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	for i, b := range buf {
		buf[i] = secretCharset[int(b)%len(secretCharset)]
	}
	return def.Rotation.SecretPrefix + string(buf), nil
}

// Strategy performs the provider-side steps of a rotation for one service
// type. The engine mints the replacement secret; the strategy installs it
// at the provider and later retires the old one.
type Strategy interface {
	// Name identifies the strategy in logs and session history.
	Name() string

	// Install registers the new secret with the provider so it becomes
	// valid alongside the old one.
	Install(ctx context.Context, cred *credential.Credential, newSecret string) error

	// Retire deactivates the old secret at the provider. Called at
	// completion, after the grace period.
	Retire(ctx context.Context, cred *credential.Credential, oldSecret string) error
}

// HookStrategy delegates provider calls to injected hooks. Deployments
// plug in per-provider API clients; absent hooks mean the provider picks
// up the new secret out of band (e.g. a dashboard paste) and the step is
// a no-op.
type HookStrategy struct {
	StrategyName string
	InstallFunc  func(ctx context.Context, cred *credential.Credential, newSecret string) error
	RetireFunc   func(ctx context.Context, cred *credential.Credential, oldSecret string) error
}

// Name returns the strategy name.
func (s *HookStrategy) Name() string {
	if s.StrategyName != "" {
		return s.StrategyName
	}
	return "hook"
}

// Install invokes the install hook if one is set.
func (s *HookStrategy) Install(ctx context.Context, cred *credential.Credential, newSecret string) error {
	if s.InstallFunc == nil {
		return nil
	}
	return s.InstallFunc(ctx, cred, newSecret)
}

// Retire invokes the retire hook if one is set.
func (s *HookStrategy) Retire(ctx context.Context, cred *credential.Credential, oldSecret string) error {
	if s.RetireFunc == nil {
		return nil
	}
	return s.RetireFunc(ctx, cred, oldSecret)
}

// StrategyRegistry maps service types to rotation strategies.
type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	defs       *servicedef.Registry
}

// NewStrategyRegistry creates a registry over the service definitions.
func NewStrategyRegistry(defs *servicedef.Registry) *StrategyRegistry {
	return &StrategyRegistry{
		strategies: make(map[string]Strategy),
		defs:       defs,
	}
}

// Register sets the strategy for a service type.
func (r *StrategyRegistry) Register(serviceType string, strategy Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[serviceType] = strategy
}

// For returns the strategy and definition for a service type. Service
// types whose definition does not support rotation are rejected here,
// before any session is claimed.
func (r *StrategyRegistry) For(serviceType string) (Strategy, servicedef.Definition, error) {
	def, ok := r.defs.Get(serviceType)
	if !ok {
		return nil, servicedef.Definition{}, errors.NotFoundError{Kind: "service type", ID: serviceType}
	}
	if !def.Rotation.Supported {
		return nil, servicedef.Definition{}, errors.ValidationError{
			Field:   "service_type",
			Value:   serviceType,
			Message: "rotation is not supported for this service type",
		}
	}

	r.mu.RLock()
	strategy := r.strategies[serviceType]
	r.mu.RUnlock()
	if strategy == nil {
		// No provider client registered; secrets still rotate through the
		// vault with out-of-band provider installation.
		strategy = &HookStrategy{StrategyName: "out-of-band"}
	}
	return strategy, def, nil
}
