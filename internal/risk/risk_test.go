package risk

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/vulnverified/surface/internal/engine"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		f    engine.Finding
		want string
	}{
		{"rdp port", engine.Finding{Proto: "tcp", Port: 3389, Title: "Internet-exposed service on 3389"}, TypeRDP},
		{"mysql port", engine.Finding{Proto: "tcp", Port: 3306}, TypeMySQL},
		{"postgres port", engine.Finding{Proto: "tcp", Port: 5432}, TypePostgres},
		{"redis port", engine.Finding{Proto: "tcp", Port: 6379}, TypeRedis},
		{"elasticsearch port", engine.Finding{Proto: "tcp", Port: 9200}, TypeElasticsearch},
		{"mongodb port", engine.Finding{Proto: "tcp", Port: 27017}, TypeMongoDB},
		{"mssql service tag", engine.Finding{Proto: "mssql", Port: 14330}, TypeMSSQL},
		{"smtp port", engine.Finding{Proto: "tcp", Port: 25, Title: "Open TCP 25"}, ""},
		{"plain http", engine.Finding{Proto: "http", Port: 80, Title: "Plain HTTP exposed (No HTTPS available)"}, TypeHTTPNoTLS},
		{"http status", engine.Finding{Proto: "http", Port: 80, Title: "HTTP 200 on port 80"}, ""},
		{"https status", engine.Finding{Proto: "http", Port: 443, Title: "HTTP 200 on port 443"}, ""},
		{"tls expired", engine.Finding{Proto: "tls", Port: 443, Evidence: engine.Evidence{TLS: &engine.TLSInfo{DaysToExpiry: -1}}}, TypeTLSExpired},
		{"tls expiring", engine.Finding{Proto: "tls", Port: 443, Evidence: engine.Evidence{TLS: &engine.TLSInfo{DaysToExpiry: 13}}}, TypeTLSExpiring},
		{"tls healthy", engine.Finding{Proto: "tls", Port: 443, Evidence: engine.Evidence{TLS: &engine.TLSInfo{DaysToExpiry: 90}}}, ""},
		{"tls expired by title", engine.Finding{Proto: "tls", Title: "Expired TLS certificate"}, TypeTLSExpired},
		{"ssh banner", engine.Finding{Proto: "ssh", Port: 22, Evidence: engine.Evidence{SSH: &engine.SSHBanner{Banner: "SSH-2.0-OpenSSH_9.6"}}}, TypeSSHBannerLeak},
		{"ssh no banner", engine.Finding{Proto: "ssh", Port: 22}, ""},
		{"public bucket", engine.Finding{Proto: "aws", Title: "Public S3 bucket"}, TypeCloudPublicBucket},
		{"admin access", engine.Finding{Proto: "aws", Title: "IAM user with AdministratorAccess"}, TypeCloudAdminAccess},
		{"open sg", engine.Finding{Proto: "aws", Title: "Security group open to 0.0.0.0/0"}, TypeCloudOpenSecGroup},
		{"unknown cloud", engine.Finding{Proto: "aws", Title: "Something else"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.f); got != tt.want {
				t.Errorf("Categorize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScore_ExpiredTLS(t *testing.T) {
	m := Default()
	f := engine.Finding{
		Proto:    "tls",
		Port:     443,
		Severity: engine.SeverityHigh,
		Title:    "Expired TLS certificate",
		Evidence: engine.Evidence{TLS: &engine.TLSInfo{DaysToExpiry: -1}},
	}
	score, d, err := m.Score(f, engine.DefaultAssetContext(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != TypeTLSExpired {
		t.Errorf("type = %q, want %q", d.Type, TypeTLSExpired)
	}
	if score < 7.0 {
		t.Errorf("score = %v, want >= 7.0", score)
	}
}

func TestScore_Breakdown(t *testing.T) {
	m := Default()
	f := engine.Finding{Proto: "tcp", Port: 3389, Severity: engine.SeverityLow}
	asset := engine.AssetContext{Criticality: 3, DataClass: "P2", InternetExposed: true}

	score, d, err := m.Score(f, asset, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Mapping default (high) outweighs the declared low severity.
	if d.Base != 7.0 {
		t.Errorf("base = %v, want 7.0", d.Base)
	}
	if d.Exposure != 1.5 || d.Criticality != 1.2 || d.DataClass != 1.2 {
		t.Errorf("multipliers = %v/%v/%v, want 1.5/1.2/1.2", d.Exposure, d.Criticality, d.DataClass)
	}
	if d.Penalty != 0 {
		t.Errorf("penalty = %v, want 0", d.Penalty)
	}
	if score != 10.0 {
		t.Errorf("score = %v, want capped 10.0", score)
	}
	if !slices.Contains(d.Controls.ISO27001, "A.13.1.1") || !slices.Contains(d.Controls.CIS, "9.1") {
		t.Errorf("controls = %+v, want A.13.1.1 and 9.1", d.Controls)
	}
}

func TestScore_Rounding(t *testing.T) {
	m := Default()
	f := engine.Finding{Proto: "tcp", Port: 25, Severity: engine.SeverityMedium}
	asset := engine.AssetContext{Criticality: 2, DataClass: "P0", InternetExposed: false}

	score, _, err := m.Score(f, asset, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 4.0 * 1.0 * 1.0 * 0.9
	if score != 3.6 {
		t.Errorf("score = %v, want 3.6", score)
	}
}

func TestScore_HTTPSiblingPenalty(t *testing.T) {
	m := Default()
	f := engine.Finding{
		Proto:    "http",
		Port:     80,
		Severity: engine.SeverityMedium,
		Title:    "Plain HTTP exposed (No HSTS)",
	}
	asset := engine.DefaultAssetContext()

	without, d, err := m.Score(f, asset, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	with, _, err := m.Score(f, asset, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Penalty != 2.0 {
		t.Errorf("penalty = %v, want 2.0", d.Penalty)
	}
	if without <= with {
		t.Errorf("score without sibling HTTPS (%v) should exceed score with it (%v)", without, with)
	}
}

func TestScore_Monotonic(t *testing.T) {
	m := Default()
	f := engine.Finding{Proto: "tcp", Port: 25}

	score := func(sev engine.Severity, asset engine.AssetContext) float64 {
		t.Helper()
		f := f
		f.Severity = sev
		s, _, err := m.Score(f, asset, false)
		if err != nil {
			t.Fatalf("score: %v", err)
		}
		return s
	}

	base := engine.AssetContext{Criticality: 1, DataClass: "P0", InternetExposed: false}

	prev := -1.0
	for _, sev := range []engine.Severity{engine.SeverityInfo, engine.SeverityLow, engine.SeverityMedium, engine.SeverityHigh, engine.SeverityCritical} {
		s := score(sev, base)
		if s < prev {
			t.Errorf("severity %s: score %v decreased from %v", sev, s, prev)
		}
		prev = s
	}

	prev = -1.0
	for c := 1; c <= 5; c++ {
		a := base
		a.Criticality = c
		s := score(engine.SeverityMedium, a)
		if s < prev {
			t.Errorf("criticality %d: score %v decreased from %v", c, s, prev)
		}
		prev = s
	}

	prev = -1.0
	for _, class := range []string{"P0", "P1", "P2", "P3"} {
		a := base
		a.DataClass = class
		s := score(engine.SeverityMedium, a)
		if s < prev {
			t.Errorf("data class %s: score %v decreased from %v", class, s, prev)
		}
		prev = s
	}

	exposed := base
	exposed.InternetExposed = true
	if score(engine.SeverityMedium, exposed) < score(engine.SeverityMedium, base) {
		t.Error("exposure lowered the score")
	}
}

func TestScore_Cap(t *testing.T) {
	m := Default()
	f := engine.Finding{Proto: "aws", Title: "Public S3 bucket", Severity: engine.SeverityCritical}
	asset := engine.AssetContext{Criticality: 5, DataClass: "P3", InternetExposed: true}
	s, _, err := m.Score(f, asset, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != 10.0 {
		t.Errorf("score = %v, want 10.0", s)
	}
}

func TestScore_UnknownSeverity(t *testing.T) {
	_, _, err := Default().Score(engine.Finding{Severity: "urgent"}, engine.DefaultAssetContext(), false)
	if !errors.Is(err, ErrUnknownSeverity) {
		t.Errorf("err = %v, want ErrUnknownSeverity", err)
	}
}

func TestControls_Unmapped(t *testing.T) {
	c := Default().Controls("")
	if c.ISO27001 == nil || c.CIS == nil {
		t.Fatal("unmapped controls should be empty, not nil")
	}
	if len(c.ISO27001) != 0 || len(c.CIS) != 0 {
		t.Errorf("controls = %+v, want empty", c)
	}
}

func TestMultipliers(t *testing.T) {
	if got := CriticalityMultiplier(0); got != 0.8 {
		t.Errorf("criticality 0 = %v, want clamp to 0.8", got)
	}
	if got := CriticalityMultiplier(9); got != 1.6 {
		t.Errorf("criticality 9 = %v, want clamp to 1.6", got)
	}
	if got := DataClassMultiplier("p3"); got != 1.4 {
		t.Errorf("p3 = %v, want 1.4", got)
	}
	if got := DataClassMultiplier("secret"); got != 1.0 {
		t.Errorf("unknown class = %v, want 1.0", got)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controls.yaml")
	data := []byte("custom_type:\n  severity: low\n  iso27001: [A.5.1.1]\n  cis: [\"1.1\"]\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := m.Controls("custom_type")
	if len(c.ISO27001) != 1 || c.ISO27001[0] != "A.5.1.1" {
		t.Errorf("iso = %v, want [A.5.1.1]", c.ISO27001)
	}
	if len(m.Controls(TypeRDP).CIS) != 0 {
		t.Error("custom file should replace the built-in table")
	}
}

func TestLoad_Empty(t *testing.T) {
	m, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m.Controls(TypeRDP).ISO27001) == 0 {
		t.Error("expected built-in table")
	}
}

func TestParse_BadSeverity(t *testing.T) {
	_, err := Parse([]byte("x:\n  severity: urgent\n"))
	if !errors.Is(err, ErrUnknownSeverity) {
		t.Errorf("err = %v, want ErrUnknownSeverity", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
