// Package store persists scans, assets, findings, lifecycle snapshots and
// scope entries with gorm on sqlite, postgres or mysql.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/vulnverified/surface/internal/engine"
	"github.com/vulnverified/surface/internal/lifecycle"
)

var (
	ErrScanNotFound = errors.New("scan not found")
	ErrScanFinished = errors.New("scan already finished")
)

// keyChunk bounds IN lists to stay under sqlite's bound parameter limit.
const keyChunk = 500

// Store implements engine.Storage and lifecycle.History.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects with the named driver ("sqlite", "postgres" or "mysql")
// and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dial gorm.Dialector
	switch driver {
	case "sqlite", "":
		dial = sqlite.Open(dsn)
	case "postgres":
		dial = postgres.Open(dsn)
	case "mysql":
		dial = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an open connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Scan{}, &Asset{}, &Finding{}, &FindingState{}, &Scope{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateScan(ctx context.Context, domain string) (uint, error) {
	row := Scan{
		Domain:    domain,
		StartedAt: s.now().UTC(),
		Status:    string(engine.StatusRunning),
		Stats:     engine.Stats{Penalties: []string{}, Bonuses: []string{}},
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("create scan for %s: %w", domain, err)
	}
	return row.ID, nil
}

// FinishScan moves a scan to a terminal status. It succeeds once per scan;
// later calls return ErrScanFinished.
func (s *Store) FinishScan(ctx context.Context, scanID uint, status engine.ScanStatus, stats engine.Stats) error {
	if !status.Terminal() {
		return fmt.Errorf("finish scan %d: status %q is not terminal", scanID, status)
	}
	finished := s.now().UTC()
	res := s.db.WithContext(ctx).
		Model(&Scan{ID: scanID}).
		Where("status IN ?", []string{string(engine.StatusQueued), string(engine.StatusRunning)}).
		Select("Status", "FinishedAt", "Stats").
		Updates(&Scan{Status: string(status), FinishedAt: &finished, Stats: stats})
	if res.Error != nil {
		return fmt.Errorf("finish scan %d: %w", scanID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	if _, err := s.GetScan(ctx, scanID); err != nil {
		return err
	}
	return fmt.Errorf("finish scan %d: %w", scanID, ErrScanFinished)
}

// UpsertAsset records host/ip for scanID. Repeats only bump last_seen.
func (s *Store) UpsertAsset(ctx context.Context, scanID uint, host, ip string) error {
	now := s.now().UTC()
	row := Asset{ScanID: scanID, Host: host, IP: ip, FirstSeen: now, LastSeen: now}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scan_id"}, {Name: "host"}, {Name: "ip"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert asset %s/%s: %w", host, ip, err)
	}
	return nil
}

func (s *Store) AddFinding(ctx context.Context, f engine.Finding) (uint, error) {
	row := findingRow(f)
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("add finding %q on %s: %w", f.Title, f.Host, err)
	}
	return row.ID, nil
}

func (s *Store) ListFindings(ctx context.Context, scanID uint) ([]engine.Finding, error) {
	var rows []Finding
	if err := s.db.WithContext(ctx).Where("scan_id = ?", scanID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list findings for scan %d: %w", scanID, err)
	}
	out := make([]engine.Finding, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEngine())
	}
	return out, nil
}

func (s *Store) ListAssets(ctx context.Context, scanID uint) ([]engine.Asset, error) {
	var rows []Asset
	if err := s.db.WithContext(ctx).Where("scan_id = ?", scanID).Order("host, ip").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list assets for scan %d: %w", scanID, err)
	}
	out := make([]engine.Asset, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEngine())
	}
	return out, nil
}

// ComputeStateTransitions diffs the findings of scanID against the
// domain's history and writes the scan's snapshot.
func (s *Store) ComputeStateTransitions(ctx context.Context, scanID uint) (lifecycle.Transitions, error) {
	scan, err := s.GetScan(ctx, scanID)
	if err != nil {
		return lifecycle.Transitions{}, err
	}
	findings, err := s.ListFindings(ctx, scanID)
	if err != nil {
		return lifecycle.Transitions{}, err
	}
	keys := make([]string, 0, len(findings))
	for _, f := range findings {
		keys = append(keys, f.DedupeKey())
	}
	return lifecycle.Compute(ctx, s, scan.Domain, scanID, keys)
}

// PreviousOpenKeys returns the open keys of the latest snapshot of domain
// taken before scan before. Scans that never wrote a snapshot are skipped.
func (s *Store) PreviousOpenKeys(ctx context.Context, domain string, before uint) ([]string, error) {
	var prev struct{ ScanID *uint }
	err := s.db.WithContext(ctx).
		Model(&FindingState{}).
		Select("MAX(finding_states.scan_id) AS scan_id").
		Joins("JOIN scans ON scans.id = finding_states.scan_id").
		Where("scans.domain = ? AND finding_states.scan_id < ?", domain, before).
		Scan(&prev).Error
	if err != nil {
		return nil, fmt.Errorf("find previous snapshot of %s: %w", domain, err)
	}
	if prev.ScanID == nil {
		return []string{}, nil
	}

	var keys []string
	err = s.db.WithContext(ctx).
		Model(&FindingState{}).
		Where("scan_id = ? AND state = ?", *prev.ScanID, string(lifecycle.StateOpen)).
		Order("dedupe_key").
		Pluck("dedupe_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("load snapshot of scan %d: %w", *prev.ScanID, err)
	}
	return keys, nil
}

// LatestStates returns the most recent recorded state of each key across
// earlier scans of domain.
func (s *Store) LatestStates(ctx context.Context, domain string, before uint, keys []string) (map[string]lifecycle.State, error) {
	out := make(map[string]lifecycle.State, len(keys))
	for start := 0; start < len(keys); start += keyChunk {
		end := min(start+keyChunk, len(keys))

		var rows []FindingState
		err := s.db.WithContext(ctx).
			Select("finding_states.scan_id, finding_states.dedupe_key, finding_states.state").
			Joins("JOIN scans ON scans.id = finding_states.scan_id").
			Where("scans.domain = ? AND finding_states.scan_id < ? AND finding_states.dedupe_key IN ?", domain, before, keys[start:end]).
			Order("finding_states.scan_id DESC").
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("load key history for %s: %w", domain, err)
		}
		for _, r := range rows {
			if _, ok := out[r.DedupeKey]; !ok {
				out[r.DedupeKey] = lifecycle.State(r.State)
			}
		}
	}
	return out, nil
}

// SaveSnapshot writes every entry of states for scanID in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, scanID uint, states map[string]lifecycle.State) error {
	if len(states) == 0 {
		return nil
	}
	keys := make([]string, 0, len(states))
	for k := range states {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]FindingState, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, FindingState{ScanID: scanID, DedupeKey: k, State: string(states[k])})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, 200).Error
	})
}

// DomainInScope reports whether domain is covered by any domain scope
// entry.
func (s *Store) DomainInScope(ctx context.Context, domain string) (bool, error) {
	var rows []Scope
	if err := s.db.WithContext(ctx).Where("kind = ?", engine.ScopeDomain).Find(&rows).Error; err != nil {
		return false, fmt.Errorf("load scope: %w", err)
	}
	entries := make([]engine.ScopeEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toEngine())
	}
	return engine.MatchesScope(domain, entries), nil
}

// AddScope validates and registers a scope entry. Registering an existing
// entry returns the stored one.
func (s *Store) AddScope(ctx context.Context, e engine.ScopeEntry) (engine.ScopeEntry, error) {
	e, err := engine.NormalizeScope(e)
	if err != nil {
		return engine.ScopeEntry{}, err
	}
	row := Scope{Org: e.Org, Kind: e.Kind, Value: e.Value}
	err = s.db.WithContext(ctx).
		Where(Scope{Org: e.Org, Kind: e.Kind, Value: e.Value}).
		FirstOrCreate(&row).Error
	if err != nil {
		return engine.ScopeEntry{}, fmt.Errorf("add scope %s %s: %w", e.Kind, e.Value, err)
	}
	return row.toEngine(), nil
}

// ListScopes returns the scope entries of org, or of every org when org is
// empty.
func (s *Store) ListScopes(ctx context.Context, org string) ([]engine.ScopeEntry, error) {
	q := s.db.WithContext(ctx).Order("org, kind, value")
	if org = strings.ToLower(strings.TrimSpace(org)); org != "" {
		q = q.Where("org = ?", org)
	}
	var rows []Scope
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list scope: %w", err)
	}
	out := make([]engine.ScopeEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEngine())
	}
	return out, nil
}

func (s *Store) GetScan(ctx context.Context, scanID uint) (engine.Scan, error) {
	var row Scan
	err := s.db.WithContext(ctx).First(&row, scanID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Scan{}, fmt.Errorf("scan %d: %w", scanID, ErrScanNotFound)
	}
	if err != nil {
		return engine.Scan{}, fmt.Errorf("load scan %d: %w", scanID, err)
	}
	return row.toEngine(), nil
}

// ListScans returns the most recent scans first, optionally filtered by
// domain. A non-positive limit returns every scan.
func (s *Store) ListScans(ctx context.Context, domain string, limit int) ([]engine.Scan, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if domain != "" {
		q = q.Where("domain = ?", domain)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []Scan
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	out := make([]engine.Scan, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEngine())
	}
	return out, nil
}

var (
	_ engine.Storage    = (*Store)(nil)
	_ lifecycle.History = (*Store)(nil)
)
