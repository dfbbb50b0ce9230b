package store

import (
	"time"

	"github.com/vulnverified/surface/internal/engine"
)

// Scan is the scans table.
type Scan struct {
	ID         uint   `gorm:"primaryKey"`
	Domain     string `gorm:"size:255;index;not null"`
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string       `gorm:"size:16;index;not null"`
	Stats      engine.Stats `gorm:"serializer:json"`
}

// Asset is a (host, ip) observation. IP is "" when the host did not
// resolve, so the unique index also covers unresolved hosts.
type Asset struct {
	ID        uint   `gorm:"primaryKey"`
	ScanID    uint   `gorm:"uniqueIndex:idx_asset_scan_host_ip;not null"`
	Host      string `gorm:"size:255;uniqueIndex:idx_asset_scan_host_ip;not null"`
	IP        string `gorm:"size:64;uniqueIndex:idx_asset_scan_host_ip;not null"`
	FirstSeen time.Time
	LastSeen  time.Time
}

// Finding rows are written once and never updated.
type Finding struct {
	ID          uint   `gorm:"primaryKey"`
	ScanID      uint   `gorm:"index;not null"`
	Host        string `gorm:"not null"`
	IP          *string
	Port        *int
	Proto       string
	Severity    string `gorm:"not null"`
	Title       string `gorm:"not null"`
	Description string
	Evidence    engine.Evidence `gorm:"serializer:json"`
	RiskScore   float64
	Detail      engine.ScoreDetail `gorm:"serializer:json"`
	CreatedAt   time.Time
}

// FindingState is one entry of a scan's lifecycle snapshot.
type FindingState struct {
	ID        uint   `gorm:"primaryKey"`
	ScanID    uint   `gorm:"uniqueIndex:idx_state_scan_key;not null"`
	DedupeKey string `gorm:"size:512;uniqueIndex:idx_state_scan_key;index;not null"`
	State     string `gorm:"size:16;not null"`
}

// Scope is an authorized scan target.
type Scope struct {
	ID        uint   `gorm:"primaryKey"`
	Org       string `gorm:"size:64;uniqueIndex:idx_scope_org_kind_value;not null"`
	Kind      string `gorm:"size:16;uniqueIndex:idx_scope_org_kind_value;not null"`
	Value     string `gorm:"size:255;uniqueIndex:idx_scope_org_kind_value;not null"`
	CreatedAt time.Time
}

func (s Scan) toEngine() engine.Scan {
	return engine.Scan{
		ID:         s.ID,
		Domain:     s.Domain,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Status:     engine.ScanStatus(s.Status),
		Stats:      s.Stats,
	}
}

func (a Asset) toEngine() engine.Asset {
	return engine.Asset{Host: a.Host, IP: a.IP, FirstSeen: a.FirstSeen, LastSeen: a.LastSeen}
}

func findingRow(f engine.Finding) Finding {
	row := Finding{
		ScanID:      f.ScanID,
		Host:        f.Host,
		Proto:       f.Proto,
		Severity:    string(f.Severity),
		Title:       f.Title,
		Description: f.Description,
		Evidence:    f.Evidence,
		RiskScore:   f.Score,
		Detail:      f.Detail,
		CreatedAt:   f.CreatedAt,
	}
	if f.IP != "" {
		ip := f.IP
		row.IP = &ip
	}
	if f.Port > 0 {
		port := f.Port
		row.Port = &port
	}
	return row
}

func (f Finding) toEngine() engine.Finding {
	out := engine.Finding{
		ID:          f.ID,
		ScanID:      f.ScanID,
		Host:        f.Host,
		Proto:       f.Proto,
		Severity:    engine.Severity(f.Severity),
		Title:       f.Title,
		Description: f.Description,
		Evidence:    f.Evidence,
		Score:       f.RiskScore,
		Detail:      f.Detail,
		CreatedAt:   f.CreatedAt,
	}
	if f.IP != nil {
		out.IP = *f.IP
	}
	if f.Port != nil {
		out.Port = *f.Port
	}
	return out
}

func (s Scope) toEngine() engine.ScopeEntry {
	return engine.ScopeEntry{ID: s.ID, Org: s.Org, Kind: s.Kind, Value: s.Value, CreatedAt: s.CreatedAt}
}
