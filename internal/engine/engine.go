package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vulnverified/surface/internal/lifecycle"
	"github.com/vulnverified/surface/pkg/ports"
)

// Stages holds the injectable probe implementations.
type Stages struct {
	Resolver HostResolver
	Sweeper  ReachabilitySweeper
	HTTP     HTTPFingerprinter
	TLS      TLSInspector
	SSH      BannerGrabber
}

// ProgressReporter is called by the engine to report stage progress.
type ProgressReporter interface {
	Stage(num, total int, msg string)
	Detail(msg string)
	Warn(msg string)
}

// Orchestrator sequences one scan: resolve, sweep, fingerprint, derive and
// score findings, then compute lifecycle transitions.
type Orchestrator struct {
	Store    Storage
	Stages   Stages
	Scorer   Scorer
	Notifier Notifier
	Assets   AssetContexts
	Ports    []int
	Logger   *zap.Logger
	Progress ProgressReporter
}

const totalStages = 6

// Start validates domain, checks it against scope and creates a running
// scan for it.
func (o *Orchestrator) Start(ctx context.Context, domain string) (uint, string, error) {
	d, err := ValidateDomain(domain)
	if err != nil {
		return 0, "", err
	}
	ok, err := o.Store.DomainInScope(ctx, d)
	if err != nil {
		return 0, "", fmt.Errorf("scope check: %w", err)
	}
	if !ok {
		return 0, "", fmt.Errorf("%w: %s", ErrOutOfScope, d)
	}
	id, err := o.Store.CreateScan(ctx, d)
	if err != nil {
		return 0, "", fmt.Errorf("create scan: %w", err)
	}
	return id, d, nil
}

// Run starts and executes a scan for domain.
func (o *Orchestrator) Run(ctx context.Context, domain string) (*Result, error) {
	id, d, err := o.Start(ctx, domain)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, id, d)
}

// Execute runs the pipeline for an already created scan and finishes it.
// Any failure, including a panic, finishes the scan as error with the
// message in its stats; findings persisted before the failure are kept.
func (o *Orchestrator) Execute(ctx context.Context, scanID uint, domain string) (res *Result, err error) {
	log := o.logger().With(zap.Uint("scan_id", scanID), zap.String("domain", domain))
	started := time.Now()
	stats := Stats{Score: 100, Penalties: []string{}, Bonuses: []string{}}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan panicked: %v", r)
		}
		if err == nil {
			return
		}
		log.Error("scan failed", zap.Error(err))
		stats.Error = err.Error()
		if ferr := o.Store.FinishScan(context.WithoutCancel(ctx), scanID, StatusError, stats); ferr != nil {
			log.Error("finish scan", zap.Error(ferr))
			err = errors.Join(err, ferr)
		}
		res = nil
	}()

	log.Info("scan started")
	res, err = o.execute(ctx, scanID, domain, &stats, log)
	if err != nil {
		return nil, err
	}

	if err := o.Store.FinishScan(ctx, scanID, StatusDone, stats); err != nil {
		return nil, fmt.Errorf("finish scan: %w", err)
	}

	finished := time.Now()
	res.Scan = Scan{
		ID:         scanID,
		Domain:     domain,
		StartedAt:  started,
		FinishedAt: &finished,
		Status:     StatusDone,
		Stats:      stats,
	}
	res.DurationSecs = finished.Sub(started).Seconds()
	log.Info("scan finished",
		zap.Int("hosts", stats.Hosts),
		zap.Int("open", stats.Open),
		zap.Int("findings", len(res.Findings)),
		zap.Int("score", stats.Score))
	return res, nil
}

func (o *Orchestrator) execute(ctx context.Context, scanID uint, domain string, stats *Stats, log *zap.Logger) (*Result, error) {
	progress := o.progress()
	result := &Result{}

	// Stage 1: host discovery and resolution.
	progress.Stage(1, totalStages, "Resolving hosts...")
	hosts, err := o.Stages.Resolver.Resolve(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", domain, err)
	}
	progress.Detail(fmt.Sprintf("Found %d hosts", len(hosts)))

	// Stage 2: record assets.
	progress.Stage(2, totalStages, "Recording assets...")
	names := make([]string, 0, len(hosts))
	for h := range hosts {
		names = append(names, h)
	}
	sort.Strings(names)
	for _, h := range names {
		ips := hosts[h]
		if len(ips) == 0 {
			if err := o.Store.UpsertAsset(ctx, scanID, h, ""); err != nil {
				return nil, fmt.Errorf("upsert asset %s: %w", h, err)
			}
			continue
		}
		for _, ip := range ips {
			if err := o.Store.UpsertAsset(ctx, scanID, h, ip); err != nil {
				return nil, fmt.Errorf("upsert asset %s/%s: %w", h, ip, err)
			}
			stats.Hosts++
		}
	}
	progress.Detail(fmt.Sprintf("%d host addresses resolved", stats.Hosts))

	// Stage 3: reachability sweep.
	scanPorts := o.Ports
	if len(scanPorts) == 0 {
		scanPorts = ports.Candidates
	}
	progress.Stage(3, totalStages, fmt.Sprintf("Sweeping %d ports across %d addresses...", len(scanPorts), stats.Hosts))
	open := o.Stages.Sweeper.Sweep(ctx, hosts, scanPorts)
	progress.Detail(fmt.Sprintf("Found %d open ports", len(open)))
	log.Debug("sweep complete", zap.Int("open", len(open)))

	// Stage 4: fingerprinting, one bounded pool per probe kind.
	progress.Stage(4, totalStages, "Fingerprinting services...")
	obs, err := o.fingerprint(ctx, open)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}
	progress.Detail(fmt.Sprintf("%d HTTP, %d TLS, %d SSH responses", len(obs.http), len(obs.tls), countBanners(obs.banners)))

	// Stage 5: derive, score and persist findings.
	progress.Stage(5, totalStages, "Scoring findings...")
	for _, c := range deriveFindings(obs, stats) {
		f := c.finding
		f.ScanID = scanID
		asset := o.assetContext(f.Host)
		f.Evidence.Owner = asset.Owner

		score, detail, err := o.Scorer.Score(f, asset, c.siblingHTTPS)
		if err != nil {
			return nil, fmt.Errorf("score %q on %s: %w", f.Title, f.Host, err)
		}
		f.Score, f.Detail = score, detail

		id, err := o.Store.AddFinding(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("add finding %q on %s: %w", f.Title, f.Host, err)
		}
		f.ID = id
		result.Findings = append(result.Findings, f)
	}
	progress.Detail(fmt.Sprintf("%d findings recorded", len(result.Findings)))

	// Stage 6: lifecycle.
	progress.Stage(6, totalStages, "Computing finding lifecycle...")
	trans, err := o.Store.ComputeStateTransitions(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("compute state transitions: %w", err)
	}
	result.Transitions = trans
	progress.Detail(fmt.Sprintf("%d new, %d resolved, %d regressed", len(trans.New), len(trans.Resolved), len(trans.Regressed)))

	if o.Notifier != nil {
		report := Report{ScanID: scanID, Domain: domain, Transitions: trans, Fixes: fixItems(result.Findings, trans)}
		if err := o.Notifier.Notify(ctx, report); err != nil {
			log.Warn("notify failed", zap.Error(err))
			progress.Warn(fmt.Sprintf("Notification failed: %s", err))
		}
	}

	assets, err := o.Store.ListAssets(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	result.Assets = assets
	return result, nil
}

func (o *Orchestrator) fingerprint(ctx context.Context, open []Target) (observations, error) {
	var web, tlsTargets, ssh []Target
	for _, t := range open {
		if ports.IsWeb(t.Port) {
			web = append(web, t)
		}
		if ports.TLSHTTP[t.Port] {
			tlsTargets = append(tlsTargets, t)
		}
		if t.Port == ports.SSH {
			ssh = append(ssh, t)
		}
	}

	obs := observations{open: open}
	var g errgroup.Group
	g.Go(guardStage("http", func() {
		if len(web) > 0 {
			obs.http = o.Stages.HTTP.FingerprintHTTP(ctx, web)
		}
	}))
	g.Go(guardStage("tls", func() {
		if len(tlsTargets) > 0 {
			obs.tls = o.Stages.TLS.InspectTLS(ctx, tlsTargets)
		}
	}))
	g.Go(guardStage("ssh", func() {
		if len(ssh) > 0 {
			obs.banners = o.Stages.SSH.GrabSSH(ctx, ssh)
		}
	}))
	if err := g.Wait(); err != nil {
		return observations{}, err
	}
	return obs, nil
}

// guardStage reports a panic in a fingerprint goroutine as that stage's error.
func guardStage(kind string, fn func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s stage panicked: %v", kind, r)
			}
		}()
		fn()
		return nil
	}
}

func (o *Orchestrator) assetContext(host string) AssetContext {
	if o.Assets == nil {
		return DefaultAssetContext()
	}
	return o.Assets.Lookup(host)
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Orchestrator) progress() ProgressReporter {
	if o.Progress == nil {
		return nopProgress{}
	}
	return o.Progress
}

// fixItems selects new or regressed high and critical findings.
func fixItems(findings []Finding, t lifecycle.Transitions) []FixItem {
	changed := make(map[string]bool, len(t.New)+len(t.Regressed))
	for _, k := range t.New {
		changed[k] = true
	}
	for _, k := range t.Regressed {
		changed[k] = true
	}

	var items []FixItem
	seen := make(map[string]bool)
	for _, f := range findings {
		if f.Severity != SeverityHigh && f.Severity != SeverityCritical {
			continue
		}
		key := f.DedupeKey()
		if !changed[key] || seen[key] {
			continue
		}
		seen[key] = true
		items = append(items, FixItem{
			Key:      key,
			Host:     f.Host,
			IP:       f.IP,
			Port:     f.Port,
			Severity: f.Severity,
			Title:    f.Title,
			Score:    f.Score,
			Owner:    f.Evidence.Owner,
		})
	}
	return items
}

func countBanners(b map[Target]string) int {
	n := 0
	for _, s := range b {
		if s != "" {
			n++
		}
	}
	return n
}

type nopProgress struct{}

func (nopProgress) Stage(int, int, string) {}
func (nopProgress) Detail(string)          {}
func (nopProgress) Warn(string)            {}
