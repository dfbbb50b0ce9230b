package engine

import (
	"errors"
	"testing"
)

func TestValidateDomain(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"example.com", "example.com", false},
		{"  Example.COM ", "example.com", false},
		{"example.com.", "example.com", false},
		{"", "", true},
		{"localhost", "", true},
		{"exa mple.com", "", true},
	}
	for _, tt := range tests {
		got, err := ValidateDomain(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidDomain) {
				t.Errorf("ValidateDomain(%q) err = %v, want ErrInvalidDomain", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ValidateDomain(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ValidateDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchesScope(t *testing.T) {
	entries := []ScopeEntry{
		{Kind: ScopeDomain, Value: "example.com"},
		{Kind: ScopeCIDR, Value: "10.0.0.0/8"},
	}
	tests := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"x.example.com", true},
		{"a.b.example.com", true},
		{"badexample.com", false},
		{"example.org", false},
		{"10.0.0.0/8", false},
	}
	for _, tt := range tests {
		if got := MatchesScope(tt.domain, entries); got != tt.want {
			t.Errorf("MatchesScope(%q) = %v, want %v", tt.domain, got, tt.want)
		}
	}
}

func TestNormalizeScope(t *testing.T) {
	e, err := NormalizeScope(ScopeEntry{Kind: "Domain", Value: "Example.COM"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Org != DefaultOrg || e.Kind != ScopeDomain || e.Value != "example.com" {
		t.Errorf("got %+v", e)
	}

	e, err = NormalizeScope(ScopeEntry{Org: " ACME ", Kind: "cidr", Value: "192.168.1.7/24"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Value != "192.168.1.0/24" || e.Org != "acme" {
		t.Errorf("got %+v", e)
	}

	for _, bad := range []ScopeEntry{
		{Kind: "asn", Value: "AS13335"},
		{Kind: "cidr", Value: "not-a-cidr"},
		{Kind: "domain", Value: "nodot"},
	} {
		if _, err := NormalizeScope(bad); !errors.Is(err, ErrInvalidScope) {
			t.Errorf("NormalizeScope(%+v) err = %v, want ErrInvalidScope", bad, err)
		}
	}
}
