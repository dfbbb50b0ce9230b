package engine

import (
	"testing"
)

func titlesOf(cs []candidate) []string {
	var out []string
	for _, c := range cs {
		out = append(out, c.finding.Title)
	}
	return out
}

func containsTitle(cs []candidate, title string) (candidate, bool) {
	for _, c := range cs {
		if c.finding.Title == title {
			return c, true
		}
	}
	return candidate{}, false
}

func newStats() *Stats {
	return &Stats{Score: 100}
}

func TestDeriveFindings_RedirectWithHSTS(t *testing.T) {
	obs := observations{
		open: []Target{web80, web443},
		http: map[Target]HTTPFingerprint{
			web80:  {Status: 301, HSTS: true},
			web443: {Status: 200, HSTS: true},
		},
	}
	stats := newStats()
	got := deriveFindings(obs, stats)

	for _, c := range got {
		if c.finding.Proto == "http" && c.finding.Severity != SeverityLow {
			t.Errorf("unexpected plain HTTP finding %q", c.finding.Title)
		}
	}
	if stats.Score != 100 {
		t.Errorf("score = %d, want 100", stats.Score)
	}
}

func TestDeriveFindings_PlainHTTPWithoutHTTPS(t *testing.T) {
	obs := observations{
		open: []Target{web80},
		http: map[Target]HTTPFingerprint{web80: {Status: 200}},
	}
	stats := newStats()
	got := deriveFindings(obs, stats)

	c, ok := containsTitle(got, "Plain HTTP exposed (No HTTPS available)")
	if !ok {
		t.Fatalf("missing plain HTTP finding in %v", titlesOf(got))
	}
	if c.finding.Severity != SeverityHigh {
		t.Errorf("severity = %s, want high", c.finding.Severity)
	}
	if c.siblingHTTPS {
		t.Error("siblingHTTPS should be false")
	}
	if c.finding.Evidence.HTTP == nil || c.finding.Evidence.HTTP.Status != 200 {
		t.Errorf("evidence = %+v, want HTTP fingerprint", c.finding.Evidence)
	}
	if stats.Score != 95 {
		t.Errorf("score = %d, want 95", stats.Score)
	}
	if len(stats.Penalties) != 1 || stats.Penalties[0] != "HTTP without HTTPS" {
		t.Errorf("penalties = %v", stats.Penalties)
	}
}

func TestDeriveFindings_NoHSTS(t *testing.T) {
	obs := observations{
		open: []Target{web80, web443},
		http: map[Target]HTTPFingerprint{web80: {Status: 200}},
	}
	stats := newStats()
	got := deriveFindings(obs, stats)

	c, ok := containsTitle(got, "Plain HTTP exposed (No HSTS)")
	if !ok {
		t.Fatalf("missing finding in %v", titlesOf(got))
	}
	if c.finding.Severity != SeverityMedium || !c.siblingHTTPS {
		t.Errorf("got severity %s sibling %v, want medium with sibling", c.finding.Severity, c.siblingHTTPS)
	}
	if stats.Score != 100 {
		t.Errorf("score = %d, want 100 (no penalty when HTTPS exists)", stats.Score)
	}
}

func TestDeriveFindings_HTTPErrorMarker(t *testing.T) {
	obs := observations{
		open: []Target{web443},
		http: map[Target]HTTPFingerprint{web443: {Error: "connection reset"}},
	}
	got := deriveFindings(obs, newStats())
	for _, c := range got {
		if c.finding.Proto == "http" {
			t.Errorf("errored fingerprint produced %q", c.finding.Title)
		}
	}
}

func TestDeriveFindings_TLS(t *testing.T) {
	tests := []struct {
		name      string
		info      TLSInfo
		wantTitle string
		wantScore int
	}{
		{"expired", TLSInfo{Protocol: "TLS 1.2", DaysToExpiry: -1}, "Expired TLS certificate", 85},
		{"expiring", TLSInfo{Protocol: "TLS 1.2", DaysToExpiry: 5}, "TLS certificate expiring soon", 100},
		{"healthy 1.3", TLSInfo{Protocol: "TLS 1.3", DaysToExpiry: 200}, "", 102},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := newStats()
			got := deriveFindings(observations{
				open: []Target{web443},
				tls:  map[Target]TLSInfo{web443: tt.info},
			}, stats)

			var tlsFindings []candidate
			for _, c := range got {
				if c.finding.Proto == "tls" {
					tlsFindings = append(tlsFindings, c)
				}
			}
			if tt.wantTitle == "" {
				if len(tlsFindings) != 0 {
					t.Errorf("unexpected TLS findings %v", titlesOf(tlsFindings))
				}
			} else {
				if len(tlsFindings) != 1 || tlsFindings[0].finding.Title != tt.wantTitle {
					t.Fatalf("TLS findings = %v, want %q", titlesOf(tlsFindings), tt.wantTitle)
				}
				if tlsFindings[0].finding.Evidence.TLS == nil {
					t.Error("TLS evidence missing")
				}
			}
			if stats.Score != tt.wantScore {
				t.Errorf("score = %d, want %d", stats.Score, tt.wantScore)
			}
		})
	}
}

func TestDeriveFindings_ExpiringDescription(t *testing.T) {
	got := deriveFindings(observations{
		open: []Target{web443},
		tls:  map[Target]TLSInfo{web443: {DaysToExpiry: 3}},
	}, newStats())
	c, ok := containsTitle(got, "TLS certificate expiring soon")
	if !ok {
		t.Fatal("missing expiring finding")
	}
	if c.finding.Description != "Cert expires in 3 days" {
		t.Errorf("description = %q", c.finding.Description)
	}
}

func TestDeriveFindings_RiskyPorts(t *testing.T) {
	var open []Target
	for _, p := range []int{3389, 5432, 6379, 3306, 9200, 27017} {
		open = append(open, Target{Host: "db.example.com", IP: "10.0.0.1", Port: p})
	}
	stats := newStats()
	got := deriveFindings(observations{open: open}, stats)

	if len(got) != 6 {
		t.Fatalf("findings = %v, want 6", titlesOf(got))
	}
	for _, c := range got {
		if c.finding.Severity != SeverityHigh || c.finding.Proto != "tcp" {
			t.Errorf("%q: severity %s proto %s, want high tcp", c.finding.Title, c.finding.Severity, c.finding.Proto)
		}
	}
	if stats.Score != 40 {
		t.Errorf("score = %d, want 40", stats.Score)
	}
	if stats.Open != 6 {
		t.Errorf("open = %d, want 6", stats.Open)
	}
}

func TestDeriveFindings_SSHBanner(t *testing.T) {
	got := deriveFindings(observations{
		open:    []Target{ssh22},
		banners: map[Target]string{ssh22: "SSH-2.0-OpenSSH_9.6"},
	}, newStats())
	c, ok := containsTitle(got, "SSH service banner")
	if !ok {
		t.Fatalf("missing banner finding in %v", titlesOf(got))
	}
	if c.finding.Severity != SeverityInfo || c.finding.Description != "SSH-2.0-OpenSSH_9.6" {
		t.Errorf("got %+v", c.finding)
	}
	if c.finding.Evidence.SSH == nil || c.finding.Evidence.SSH.Banner != "SSH-2.0-OpenSSH_9.6" {
		t.Errorf("evidence = %+v", c.finding.Evidence)
	}
}

func TestDeriveFindings_Deterministic(t *testing.T) {
	obs := observations{open: []Target{ssh22, rdp3389, web443, web80}}
	a := titlesOf(deriveFindings(obs, newStats()))
	obs.open = []Target{web80, rdp3389, ssh22, web443}
	b := titlesOf(deriveFindings(obs, newStats()))
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("order differs at %d: %v vs %v", i, a, b)
		}
	}
}
