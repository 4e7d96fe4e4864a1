package accessctl

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	credErrors "github.com/systmms/credops/internal/errors"
)

// ValidateIPEntry rejects malformed allowlist entries (bad addresses and
// CIDR bit lengths) before an administrator can save them.
func ValidateIPEntry(entry string) error {
	if entry == "" {
		return credErrors.ValidationError{Field: "ip", Message: "entry is empty"}
	}

	if strings.Contains(entry, "/") {
		parts := strings.SplitN(entry, "/", 2)
		addr, err := netip.ParseAddr(parts[0])
		if err != nil {
			return credErrors.ValidationError{Field: "ip", Value: entry, Message: "invalid IP address in CIDR"}
		}
		bits, err := strconv.Atoi(parts[1])
		if err != nil {
			return credErrors.ValidationError{Field: "ip", Value: entry, Message: "CIDR prefix length is not a number"}
		}
		maxBits := 128
		if addr.Unmap().Is4() {
			maxBits = 32
		}
		if bits < 0 || bits > maxBits {
			return credErrors.ValidationError{
				Field:   "ip",
				Value:   entry,
				Message: fmt.Sprintf("CIDR prefix length must be 0-%d", maxBits),
			}
		}
		return nil
	}

	if _, err := netip.ParseAddr(entry); err != nil {
		return credErrors.ValidationError{Field: "ip", Value: entry, Message: "invalid IP address"}
	}
	return nil
}

// ValidateDomain rejects malformed domain allowlist entries. A leading
// `*.` wildcard label is allowed; the remaining labels must each be 1-63
// characters, start and end alphanumeric, and the TLD must be alphabetic
// with at least 2 characters.
func ValidateDomain(domain string) error {
	if domain == "" {
		return credErrors.ValidationError{Field: "domain", Message: "entry is empty"}
	}

	candidate := strings.TrimPrefix(domain, "*.")
	if candidate == "" || strings.HasPrefix(candidate, "*") {
		return credErrors.ValidationError{Field: "domain", Value: domain, Message: "wildcard must be a leading '*.' label"}
	}

	labels := strings.Split(candidate, ".")
	if len(labels) < 2 {
		return credErrors.ValidationError{Field: "domain", Value: domain, Message: "domain must have at least two labels"}
	}

	for _, label := range labels {
		if err := validateLabel(label); err != nil {
			return credErrors.ValidationError{Field: "domain", Value: domain, Message: err.Error()}
		}
	}

	tld := labels[len(labels)-1]
	if len(tld) < 2 || !isAlpha(tld) {
		return credErrors.ValidationError{Field: "domain", Value: domain, Message: "TLD must be alphabetic and at least 2 characters"}
	}
	return nil
}

func validateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("empty label")
	}
	if len(label) > 63 {
		return fmt.Errorf("label '%s' exceeds 63 characters", label)
	}
	if !isAlnum(rune(label[0])) || !isAlnum(rune(label[len(label)-1])) {
		return fmt.Errorf("label '%s' must start and end with an alphanumeric character", label)
	}
	for _, r := range label {
		if !isAlnum(r) && r != '-' {
			return fmt.Errorf("label '%s' contains invalid character '%c'", label, r)
		}
	}
	return nil
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
	}
	return true
}
