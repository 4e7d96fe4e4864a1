// Package accessctl validates caller IP addresses and domains against a
// credential's allowlists.
package accessctl

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/systmms/credops/internal/credential"
	credErrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/logging"
)

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Gate checks callers against credential allowlists.
type Gate struct {
	store  credential.Store
	logger *logging.Logger
}

// NewGate creates a new access control gate.
func NewGate(store credential.Store, logger *logging.Logger) *Gate {
	return &Gate{store: store, logger: logger}
}

// CheckAccess validates the caller's IP and optional domain against the
// credential's allowlists. An empty allowlist allows all for that dimension.
func (g *Gate) CheckAccess(ctx context.Context, credentialID, clientIP, domain string) (Decision, error) {
	cred, err := g.store.Get(ctx, credentialID)
	if err != nil {
		if credErrors.IsNotFound(err) {
			return Decision{Allowed: false, Reason: fmt.Sprintf("credential '%s' does not exist", credentialID)}, nil
		}
		return Decision{}, err
	}

	if !cred.Active {
		return Decision{Allowed: false, Reason: fmt.Sprintf("credential '%s' is inactive", credentialID)}, nil
	}

	if len(cred.AllowedIPs) > 0 {
		ok, err := ipAllowed(clientIP, cred.AllowedIPs)
		if err != nil {
			return Decision{Allowed: false, Reason: fmt.Sprintf("invalid client IP '%s'", clientIP)}, nil
		}
		if !ok {
			g.logger.Debug("IP %s rejected for credential %s", clientIP, credentialID)
			return Decision{Allowed: false, Reason: fmt.Sprintf("IP address %s is not in the allowlist", clientIP)}, nil
		}
	}

	if len(cred.AllowedDomains) > 0 && domain != "" {
		if !domainAllowed(domain, cred.AllowedDomains) {
			g.logger.Debug("domain %s rejected for credential %s", domain, credentialID)
			return Decision{Allowed: false, Reason: fmt.Sprintf("domain %s is not in the allowlist", domain)}, nil
		}
	}

	return Decision{Allowed: true}, nil
}

// ipAllowed checks the client IP against exact entries and CIDR ranges.
// Address kinds are matched strictly: an IPv4 address never matches an
// IPv6 range and vice versa.
func ipAllowed(clientIP string, allowlist []string) (bool, error) {
	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		return false, err
	}
	addr = addr.Unmap()

	for _, entry := range allowlist {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				continue // malformed entries never match
			}
			if prefix.Addr().Unmap().Is4() != addr.Is4() {
				continue
			}
			if prefix.Contains(addr) {
				return true, nil
			}
			continue
		}

		entryAddr, err := netip.ParseAddr(entry)
		if err != nil {
			continue
		}
		if entryAddr.Unmap() == addr {
			return true, nil
		}
	}
	return false, nil
}

// domainAllowed checks the domain against exact entries and `*.suffix`
// wildcards. A wildcard also matches the bare suffix itself.
func domainAllowed(domain string, allowlist []string) bool {
	domain = strings.ToLower(domain)

	for _, entry := range allowlist {
		entry = strings.ToLower(entry)

		if after, ok := strings.CutPrefix(entry, "*."); ok {
			if domain == after || strings.HasSuffix(domain, "."+after) {
				return true
			}
			continue
		}

		if domain == entry {
			return true
		}
	}
	return false
}
