package engine

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

var (
	// ErrInvalidDomain is returned for empty, dotless or whitespace-bearing
	// domains.
	ErrInvalidDomain = errors.New("invalid domain")
	// ErrOutOfScope is returned when no scope entry covers a domain.
	ErrOutOfScope = errors.New("domain not in scope")
	// ErrInvalidScope is returned for malformed scope entries.
	ErrInvalidScope = errors.New("invalid scope entry")
)

// Scope entry kinds.
const (
	ScopeDomain = "domain"
	ScopeCIDR   = "cidr"
)

// DefaultOrg is used when a scope entry is registered without an org.
const DefaultOrg = "default"

// ValidateDomain normalizes a domain and rejects malformed input.
func ValidateDomain(domain string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimSuffix(d, ".")
	if d == "" || strings.ContainsAny(d, " \t\r\n") || !strings.Contains(d, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	return d, nil
}

// NormalizeScope validates a scope entry and returns it with lower-cased
// org, kind and value and a default org.
func NormalizeScope(e ScopeEntry) (ScopeEntry, error) {
	e.Kind = strings.ToLower(strings.TrimSpace(e.Kind))
	e.Org = strings.ToLower(strings.TrimSpace(e.Org))
	if e.Org == "" {
		e.Org = DefaultOrg
	}
	switch e.Kind {
	case ScopeDomain:
		d, err := ValidateDomain(e.Value)
		if err != nil {
			return e, fmt.Errorf("%w: %v", ErrInvalidScope, err)
		}
		e.Value = d
	case ScopeCIDR:
		p, err := netip.ParsePrefix(strings.TrimSpace(e.Value))
		if err != nil {
			return e, fmt.Errorf("%w: %v", ErrInvalidScope, err)
		}
		e.Value = p.Masked().String()
	default:
		return e, fmt.Errorf("%w: kind %q", ErrInvalidScope, e.Kind)
	}
	return e, nil
}

// MatchesScope reports whether domain equals, or is a subdomain of, any
// domain-kind entry.
func MatchesScope(domain string, entries []ScopeEntry) bool {
	d := strings.ToLower(strings.TrimSuffix(domain, "."))
	for _, e := range entries {
		if e.Kind != ScopeDomain {
			continue
		}
		v := strings.ToLower(e.Value)
		if d == v || strings.HasSuffix(d, "."+v) {
			return true
		}
	}
	return false
}
