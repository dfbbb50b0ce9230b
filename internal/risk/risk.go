// Package risk classifies findings into canonical types, scores them against
// asset context and maps them to compliance controls.
package risk

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vulnverified/surface/internal/engine"
	"github.com/vulnverified/surface/pkg/ports"
)

//go:embed controls.yaml
var defaultMapping []byte

// ErrUnknownSeverity is returned when a finding or mapping entry carries a
// severity word outside info..critical.
var ErrUnknownSeverity = errors.New("unknown severity")

// Canonical finding types.
const (
	TypeRDP               = "open_port_rdp"
	TypeMySQL             = "open_port_db_mysql"
	TypePostgres          = "open_port_db_postgres"
	TypeMSSQL             = "open_port_db_mssql"
	TypeMongoDB           = "open_port_db_mongodb"
	TypeRedis             = "open_port_db_redis"
	TypeElasticsearch     = "open_port_db_elasticsearch"
	TypeHTTPNoTLS         = "http_no_tls"
	TypeTLSExpired        = "tls_expired"
	TypeTLSExpiring       = "tls_expiring"
	TypeSSHBannerLeak     = "ssh_banner_leak"
	TypeCloudPublicBucket = "cloud_public_bucket"
	TypeCloudAdminAccess  = "cloud_admin_access"
	TypeCloudOpenSecGroup = "cloud_open_security_group"
)

const (
	expiringThresholdDays = 14
	httpNoSiblingPenalty  = 2.0
	exposedMultiplier     = 1.5
	maxScore              = 10.0
)

var severityWeights = map[engine.Severity]float64{
	engine.SeverityInfo:     0.1,
	engine.SeverityLow:      1.0,
	engine.SeverityMedium:   4.0,
	engine.SeverityHigh:     7.0,
	engine.SeverityCritical: 10.0,
}

var dataClassMultipliers = map[string]float64{
	"P0": 0.9,
	"P1": 1.0,
	"P2": 1.2,
	"P3": 1.4,
}

// portTypes maps exposed service ports to their canonical type.
var portTypes = map[int]string{
	3389:  TypeRDP,
	3306:  TypeMySQL,
	5432:  TypePostgres,
	1433:  TypeMSSQL,
	27017: TypeMongoDB,
	6379:  TypeRedis,
	9200:  TypeElasticsearch,
}

// serviceTypes maps service names used as a protocol tag.
var serviceTypes = map[string]string{
	"rdp":           TypeRDP,
	"mysql":         TypeMySQL,
	"postgres":      TypePostgres,
	"mssql":         TypeMSSQL,
	"mongodb":       TypeMongoDB,
	"redis":         TypeRedis,
	"elasticsearch": TypeElasticsearch,
}

// SeverityWeight returns the numeric weight of a severity word.
func SeverityWeight(s engine.Severity) (float64, error) {
	w, ok := severityWeights[engine.Severity(strings.ToLower(string(s)))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSeverity, s)
	}
	return w, nil
}

// Entry is one row of the control-mapping table.
type Entry struct {
	Severity engine.Severity `yaml:"severity"`
	ISO27001 []string        `yaml:"iso27001"`
	CIS      []string        `yaml:"cis"`
}

// Model holds the control-mapping table. It is read-only after load and
// safe for concurrent use.
type Model struct {
	mapping map[string]Entry
}

// Default returns the model backed by the built-in mapping table.
func Default() *Model {
	m, err := Parse(defaultMapping)
	if err != nil {
		panic(fmt.Sprintf("risk: built-in controls mapping: %v", err))
	}
	return m
}

// Load reads a mapping table from path. An empty path yields Default.
func Load(path string) (*Model, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read controls mapping: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a YAML mapping table.
func Parse(data []byte) (*Model, error) {
	mapping := make(map[string]Entry)
	if err := yaml.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("parse controls mapping: %w", err)
	}
	for typ, e := range mapping {
		if e.Severity == "" {
			continue
		}
		if _, err := SeverityWeight(e.Severity); err != nil {
			return nil, fmt.Errorf("type %s: %w", typ, err)
		}
	}
	return &Model{mapping: mapping}, nil
}

// Controls returns the mapped controls for a canonical type. Unknown types
// yield empty, non-nil lists.
func (m *Model) Controls(typ string) engine.Controls {
	e := m.mapping[typ]
	return engine.Controls{
		ISO27001: append([]string{}, e.ISO27001...),
		CIS:      append([]string{}, e.CIS...),
	}
}

// Categorize maps a finding onto its canonical type, or "" when no type
// applies.
func Categorize(f engine.Finding) string {
	proto := strings.ToLower(f.Proto)
	title := strings.ToLower(f.Title)

	if t, ok := serviceTypes[proto]; ok {
		return t
	}

	switch proto {
	case "tcp", "":
		if t, ok := portTypes[f.Port]; ok {
			return t
		}
	case "http":
		if ports.PlainHTTP[f.Port] && strings.HasPrefix(title, "plain http") {
			return TypeHTTPNoTLS
		}
	case "tls":
		if tls := f.Evidence.TLS; tls != nil {
			switch {
			case tls.DaysToExpiry < 0:
				return TypeTLSExpired
			case tls.DaysToExpiry < expiringThresholdDays:
				return TypeTLSExpiring
			}
			return ""
		}
		switch {
		case strings.Contains(title, "expired"):
			return TypeTLSExpired
		case strings.Contains(title, "expiring"):
			return TypeTLSExpiring
		}
	case "ssh":
		if f.Evidence.SSH != nil && f.Evidence.SSH.Banner != "" {
			return TypeSSHBannerLeak
		}
		if f.Description != "" {
			return TypeSSHBannerLeak
		}
	default:
		return categorizeCloud(title)
	}
	return ""
}

func categorizeCloud(title string) string {
	switch {
	case strings.Contains(title, "bucket") && strings.Contains(title, "public"):
		return TypeCloudPublicBucket
	case strings.Contains(title, "administratoraccess") || strings.Contains(title, "admin access"):
		return TypeCloudAdminAccess
	case strings.Contains(title, "security group") || strings.Contains(title, "0.0.0.0/0"):
		return TypeCloudOpenSecGroup
	}
	return ""
}

// Score computes the risk score of f in the context of its asset.
// siblingHTTPS reports whether HTTPS is open on the same host and ip; it
// only matters for plain-HTTP findings.
func (m *Model) Score(f engine.Finding, asset engine.AssetContext, siblingHTTPS bool) (float64, engine.ScoreDetail, error) {
	base, err := SeverityWeight(f.Severity)
	if err != nil {
		return 0, engine.ScoreDetail{}, err
	}

	typ := Categorize(f)
	if e, ok := m.mapping[typ]; ok && e.Severity != "" {
		if w, _ := SeverityWeight(e.Severity); w > base {
			base = w
		}
	}

	d := engine.ScoreDetail{
		Type:        typ,
		Base:        base,
		Exposure:    exposureMultiplier(asset.InternetExposed),
		Criticality: CriticalityMultiplier(asset.Criticality),
		DataClass:   DataClassMultiplier(asset.DataClass),
		Controls:    m.Controls(typ),
	}
	if typ == TypeHTTPNoTLS && !siblingHTTPS {
		d.Penalty = httpNoSiblingPenalty
	}

	score := round2(d.Base*d.Exposure*d.Criticality*d.DataClass + d.Penalty)
	return math.Min(maxScore, score), d, nil
}

func exposureMultiplier(exposed bool) float64 {
	if exposed {
		return exposedMultiplier
	}
	return 1.0
}

// CriticalityMultiplier returns 0.6 + 0.2*c with c clamped to 1..5.
func CriticalityMultiplier(c int) float64 {
	if c < 1 {
		c = 1
	}
	if c > 5 {
		c = 5
	}
	return round2(0.6 + 0.2*float64(c))
}

// DataClassMultiplier returns the multiplier of a data classification.
// Unknown classes weigh 1.0.
func DataClassMultiplier(class string) float64 {
	if m, ok := dataClassMultipliers[strings.ToUpper(class)]; ok {
		return m
	}
	return 1.0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
