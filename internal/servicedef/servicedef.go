// Package servicedef holds the registry of external service types the
// engine knows how to probe and rotate. Built-in definitions cover the
// common categories; additional definitions can be loaded from YAML files
// validated against a JSON schema.
package servicedef

import (
	"fmt"
	"sort"
	"sync"
)

// ProbeKind selects the health probe strategy for a service type.
type ProbeKind string

const (
	// ProbeHTTPHead is a generic HEAD-request connectivity probe.
	ProbeHTTPHead ProbeKind = "http_head"

	// ProbeOAuthIntrospect probes an OAuth token introspection endpoint.
	ProbeOAuthIntrospect ProbeKind = "oauth_introspect"

	// ProbeBalance probes a payment provider's balance endpoint.
	ProbeBalance ProbeKind = "balance"

	// ProbeSQLPing opens a database connection and pings it.
	ProbeSQLPing ProbeKind = "sql_ping"
)

// ProbeSpec describes how to health-check a service type.
type ProbeSpec struct {
	Kind     ProbeKind `yaml:"kind" json:"kind"`
	Endpoint string    `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// RotationSpec describes whether and how a service type's secrets rotate.
type RotationSpec struct {
	Supported    bool   `yaml:"supported" json:"supported"`
	SecretPrefix string `yaml:"secretPrefix,omitempty" json:"secretPrefix,omitempty"`
	SecretLength int    `yaml:"secretLength,omitempty" json:"secretLength,omitempty"`
}

// LimitSpec holds per-type default admission limits.
type LimitSpec struct {
	RequestsPerMinute int `yaml:"requestsPerMinute,omitempty" json:"requestsPerMinute,omitempty"`
	MaxConcurrent     int `yaml:"maxConcurrent,omitempty" json:"maxConcurrent,omitempty"`
}

// Definition describes one external service type.
type Definition struct {
	Name     string       `yaml:"name" json:"name"`
	Category string       `yaml:"category,omitempty" json:"category,omitempty"`
	Probe    ProbeSpec    `yaml:"probe" json:"probe"`
	Rotation RotationSpec `yaml:"rotation" json:"rotation"`
	Defaults LimitSpec    `yaml:"defaults,omitempty" json:"defaults,omitempty"`
}

// Registry maps service type names to definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates a registry pre-populated with the built-in types.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	for _, def := range builtins() {
		r.defs[def.Name] = def
	}
	return r
}

// builtins returns the service types the engine supports out of the box.
func builtins() []Definition {
	return []Definition{
		{
			Name:     "payments",
			Category: "payment-processor",
			Probe:    ProbeSpec{Kind: ProbeBalance, Endpoint: "/v1/balance"},
			Rotation: RotationSpec{Supported: true, SecretPrefix: "sk_live_", SecretLength: 32},
			Defaults: LimitSpec{RequestsPerMinute: 100, MaxConcurrent: 25},
		},
		{
			Name:     "oauth",
			Category: "identity",
			Probe:    ProbeSpec{Kind: ProbeOAuthIntrospect, Endpoint: "/oauth/introspect"},
			Rotation: RotationSpec{Supported: true, SecretLength: 48},
			Defaults: LimitSpec{RequestsPerMinute: 300, MaxConcurrent: 50},
		},
		{
			Name:     "storage",
			Category: "object-storage",
			Probe:    ProbeSpec{Kind: ProbeHTTPHead},
			Rotation: RotationSpec{Supported: true, SecretLength: 40},
			Defaults: LimitSpec{RequestsPerMinute: 600, MaxConcurrent: 100},
		},
		{
			Name:     "database",
			Category: "datastore",
			Probe:    ProbeSpec{Kind: ProbeSQLPing},
			// Database passwords rotate through DBA tooling, not here.
			Rotation: RotationSpec{Supported: false},
			Defaults: LimitSpec{RequestsPerMinute: 0, MaxConcurrent: 20},
		},
		{
			Name:     "generic",
			Category: "other",
			Probe:    ProbeSpec{Kind: ProbeHTTPHead},
			Rotation: RotationSpec{Supported: false},
		},
	}
}

// Register adds or replaces a definition.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("service definition has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
	return nil
}

// Get returns the definition for a service type.
func (r *Registry) Get(serviceType string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[serviceType]
	return def, ok
}

// IsSupported checks if a service type is known.
func (r *Registry) IsSupported(serviceType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[serviceType]
	return ok
}

// Types returns all known service type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.defs))
	for name := range r.defs {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
