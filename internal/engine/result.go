// Package engine orchestrates one attack-surface scan of a domain.
package engine

import (
	"context"
	"time"

	"github.com/vulnverified/surface/internal/lifecycle"
)

// ScanStatus is the lifecycle state of a scan.
type ScanStatus string

const (
	StatusQueued  ScanStatus = "queued"
	StatusRunning ScanStatus = "running"
	StatusDone    ScanStatus = "done"
	StatusError   ScanStatus = "error"
)

// Terminal reports whether the scan has finished, successfully or not.
func (s ScanStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Severity is the declared severity of a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Scan identifies one run for a domain.
type Scan struct {
	ID         uint       `json:"id"`
	Domain     string     `json:"domain"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     ScanStatus `json:"status"`
	Stats      Stats      `json:"stats"`
}

// Stats is the summary payload written when a scan finishes.
type Stats struct {
	Hosts     int      `json:"hosts"`
	Open      int      `json:"open"`
	Score     int      `json:"score"`
	Penalties []string `json:"penalties"`
	Bonuses   []string `json:"bonuses"`
	Error     string   `json:"error,omitempty"`
}

// Asset is a (host, ip) observation within a scan. IP is empty when the
// host did not resolve.
type Asset struct {
	Host      string    `json:"host"`
	IP        string    `json:"ip,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Target is an open (host, ip, port) triple.
type Target struct {
	Host string `json:"host"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// HTTPFingerprint is the result of a single GET / against a web port.
// Error is set instead of the other fields when the request failed.
type HTTPFingerprint struct {
	Status int    `json:"status,omitempty"`
	Server string `json:"server,omitempty"`
	Title  string `json:"title,omitempty"`
	HSTS   bool   `json:"hsts"`
	Error  string `json:"error,omitempty"`
}

// TLSInfo describes the negotiated session and leaf certificate.
type TLSInfo struct {
	Protocol     string    `json:"protocol"`
	Cipher       string    `json:"cipher"`
	Issuer       string    `json:"issuer"`
	Subject      string    `json:"subject"`
	NotAfter     time.Time `json:"not_after"`
	DaysToExpiry int       `json:"days_to_expiry"`
}

// SSHBanner is the first line sent by an SSH server.
type SSHBanner struct {
	Banner string `json:"banner"`
}

// Evidence is the raw data behind a finding. At most one of HTTP, TLS and
// SSH is set, matching the finding's protocol.
type Evidence struct {
	HTTP  *HTTPFingerprint `json:"http,omitempty"`
	TLS   *TLSInfo         `json:"tls,omitempty"`
	SSH   *SSHBanner       `json:"ssh,omitempty"`
	Owner string           `json:"owner,omitempty"`
}

// Controls lists compliance control identifiers per framework.
type Controls struct {
	ISO27001 []string `json:"iso27001"`
	CIS      []string `json:"cis"`
}

// ScoreDetail is the breakdown of a risk score.
type ScoreDetail struct {
	Type        string   `json:"type"`
	Base        float64  `json:"base"`
	Exposure    float64  `json:"exposure"`
	Criticality float64  `json:"criticality"`
	DataClass   float64  `json:"data_class"`
	Penalty     float64  `json:"penalty"`
	Controls    Controls `json:"controls"`
}

// Finding is one normalized security observation. Empty IP and zero Port
// mean absent.
type Finding struct {
	ID          uint        `json:"id"`
	ScanID      uint        `json:"scan_id"`
	Host        string      `json:"host"`
	IP          string      `json:"ip,omitempty"`
	Port        int         `json:"port,omitempty"`
	Proto       string      `json:"proto"`
	Severity    Severity    `json:"severity"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Evidence    Evidence    `json:"evidence"`
	Score       float64     `json:"risk_score"`
	Detail      ScoreDetail `json:"score_detail"`
	CreatedAt   time.Time   `json:"created_at"`
}

// DedupeKey returns the identity used to track the finding across scans.
func (f Finding) DedupeKey() string {
	return lifecycle.DedupeKey(f.Host, f.IP, f.Port, f.Proto, f.Title)
}

// AssetContext is the business context used to weight risk scores.
type AssetContext struct {
	Criticality     int    `json:"criticality" mapstructure:"criticality"`
	DataClass       string `json:"data_class" mapstructure:"data_class"`
	InternetExposed bool   `json:"internet_exposed" mapstructure:"internet_exposed"`
	Owner           string `json:"owner,omitempty" mapstructure:"owner"`
}

// DefaultAssetContext is used for hosts without configured context.
func DefaultAssetContext() AssetContext {
	return AssetContext{Criticality: 1, DataClass: "P1", InternetExposed: true}
}

// ScopeEntry authorizes scanning of a domain (and its subdomains) or a CIDR.
type ScopeEntry struct {
	ID        uint      `json:"id"`
	Org       string    `json:"org"`
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Result is what a completed orchestrator run hands back to its caller.
type Result struct {
	Scan         Scan                  `json:"scan"`
	Assets       []Asset               `json:"assets"`
	Findings     []Finding             `json:"findings"`
	Transitions  lifecycle.Transitions `json:"transitions"`
	DurationSecs float64               `json:"duration_secs"`
}

// HostResolver maps a domain to its candidate hosts and their addresses.
// Hosts that failed to resolve are present with an empty slice.
type HostResolver interface {
	Resolve(ctx context.Context, domain string) (map[string][]string, error)
}

// ReachabilitySweeper connect-probes every (host, ip, port) combination and
// returns the open ones.
type ReachabilitySweeper interface {
	Sweep(ctx context.Context, hosts map[string][]string, ports []int) []Target
}

// HTTPFingerprinter fetches / from each web target.
type HTTPFingerprinter interface {
	FingerprintHTTP(ctx context.Context, targets []Target) map[Target]HTTPFingerprint
}

// TLSInspector handshakes with each TLS target. Failed handshakes are
// absent from the result.
type TLSInspector interface {
	InspectTLS(ctx context.Context, targets []Target) map[Target]TLSInfo
}

// BannerGrabber reads the SSH banner of each target. Failures map to "".
type BannerGrabber interface {
	GrabSSH(ctx context.Context, targets []Target) map[Target]string
}

// Storage is the persistence collaborator of the orchestrator.
type Storage interface {
	CreateScan(ctx context.Context, domain string) (uint, error)
	FinishScan(ctx context.Context, scanID uint, status ScanStatus, stats Stats) error
	UpsertAsset(ctx context.Context, scanID uint, host, ip string) error
	AddFinding(ctx context.Context, f Finding) (uint, error)
	ListFindings(ctx context.Context, scanID uint) ([]Finding, error)
	ListAssets(ctx context.Context, scanID uint) ([]Asset, error)
	ComputeStateTransitions(ctx context.Context, scanID uint) (lifecycle.Transitions, error)
	DomainInScope(ctx context.Context, domain string) (bool, error)
}

// Scorer annotates a finding with a risk score and its breakdown.
type Scorer interface {
	Score(f Finding, asset AssetContext, siblingHTTPS bool) (float64, ScoreDetail, error)
}

// FixItem is a new or regressed high-impact finding routed to its owner.
type FixItem struct {
	Key      string   `json:"key"`
	Host     string   `json:"host"`
	IP       string   `json:"ip,omitempty"`
	Port     int      `json:"port,omitempty"`
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Score    float64  `json:"risk_score"`
	Owner    string   `json:"owner,omitempty"`
}

// Report is the lifecycle outcome of a finished scan.
type Report struct {
	ScanID      uint                  `json:"scan_id"`
	Domain      string                `json:"domain"`
	Transitions lifecycle.Transitions `json:"transitions"`
	Fixes       []FixItem             `json:"fixes,omitempty"`
}

// Notifier receives the report of a finished scan. Errors are logged by
// the orchestrator and never fail the scan.
type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

// AssetContexts looks up the business context of a host.
type AssetContexts interface {
	Lookup(host string) AssetContext
}
