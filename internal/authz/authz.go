// Package authz answers role questions for the engine. The production
// deployment plugs an identity provider in behind Authorizer; the static
// implementation here serves single-process setups and tests.
package authz

import (
	"context"
	"sort"
	"sync"
)

// Role names used by the engine.
const (
	// RoleSecurityAdmin may grant and revoke break-glass access.
	RoleSecurityAdmin = "security_admin"
)

// Authorizer is the port consulted for privilege checks.
type Authorizer interface {
	// HasRole reports whether the principal currently holds the role.
	HasRole(ctx context.Context, principalID, role string) (bool, error)

	// RoleHolders returns the principals currently holding the role.
	// Used to fan notifications out to every active admin.
	RoleHolders(ctx context.Context, role string) ([]string, error)
}

// StaticAuthorizer is an in-process role map.
type StaticAuthorizer struct {
	mu    sync.RWMutex
	roles map[string]map[string]bool // role -> principal -> held
}

// NewStaticAuthorizer creates an empty static authorizer.
func NewStaticAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{roles: make(map[string]map[string]bool)}
}

// Assign grants a role to a principal.
func (a *StaticAuthorizer) Assign(principalID, role string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.roles[role] == nil {
		a.roles[role] = make(map[string]bool)
	}
	a.roles[role][principalID] = true
}

// HasRole reports whether the principal holds the role.
func (a *StaticAuthorizer) HasRole(ctx context.Context, principalID, role string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.roles[role][principalID], nil
}

// RoleHolders returns the principals holding the role, sorted.
func (a *StaticAuthorizer) RoleHolders(ctx context.Context, role string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var holders []string
	for principal, held := range a.roles[role] {
		if held {
			holders = append(holders, principal)
		}
	}
	sort.Strings(holders)
	return holders, nil
}
