package recon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vulnverified/surface/internal/engine"
)

const (
	DefaultResolverConcurrency = 50
	DefaultResolverTimeout     = 3 * time.Second
	DefaultCacheTTL            = 6 * time.Hour
)

var fallbackNameservers = []string{"1.1.1.1:53", "8.8.8.8:53"}

// Cache stores passive lookup results between scans.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, key string) error
}

// Resolver implements engine.HostResolver. Hosts come from the passive
// sources plus the root domain and, when enabled, zone transfers; each is
// resolved to A and AAAA records with miekg/dns.
type Resolver struct {
	Sources     []Source
	Nameservers []string
	Concurrency int
	Timeout     time.Duration
	AXFR        bool
	// Wordlist labels are tried as <label>.<domain>. Guesses that do not
	// resolve are dropped rather than kept with no addresses.
	Wordlist   []string
	UserAgent  string
	HTTPClient *http.Client
	Cache      Cache
	CacheTTL   time.Duration
	// RefreshCache drops cached passive results and queries every source.
	RefreshCache bool
	Logger       *zap.Logger
	Progress     engine.ProgressReporter
}

// DefaultNameservers reads /etc/resolv.conf, falling back to public
// resolvers.
func DefaultNameservers() []string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return append([]string(nil), fallbackNameservers...)
	}
	out := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		out = append(out, net.JoinHostPort(s, cfg.Port))
	}
	return out
}

// Resolve maps every discovered host to its addresses. Hosts that fail to
// resolve are kept with an empty list. Only cancellation of ctx is an
// error.
func (r *Resolver) Resolve(ctx context.Context, domain string) (map[string][]string, error) {
	hosts := r.discover(ctx, domain)
	guesses := r.guesses(domain, hosts)
	hosts = append(hosts, guesses...)

	limit := r.Concurrency
	if limit <= 0 {
		limit = DefaultResolverConcurrency
	}

	var (
		mu  sync.Mutex
		out = make(map[string][]string, len(hosts))
	)
	forEach(ctx, limit, hosts, func(h string) {
		ips := r.LookupIPs(ctx, h)
		mu.Lock()
		out[h] = ips
		mu.Unlock()
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(guesses) > 0 {
		hits := 0
		for _, g := range guesses {
			if len(out[g]) == 0 {
				delete(out, g)
				continue
			}
			hits++
		}
		r.detail(fmt.Sprintf("wordlist: %d of %d guesses resolved", hits, len(guesses)))
	}
	return out, nil
}

// guesses returns wordlist hosts under domain not already in known.
func (r *Resolver) guesses(domain string, known []string) []string {
	if len(r.Wordlist) == 0 {
		return nil
	}
	domain = strings.ToLower(domain)
	seen := make(map[string]bool, len(known))
	for _, h := range known {
		seen[h] = true
	}
	var out []string
	for _, w := range r.Wordlist {
		label := strings.Trim(strings.ToLower(strings.TrimSpace(w)), ".")
		if label == "" || strings.ContainsAny(label, " \t/") {
			continue
		}
		h := label + "." + domain
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}

// discover returns the sorted candidate host set. Source failures are
// reported and otherwise ignored.
func (r *Resolver) discover(ctx context.Context, domain string) []string {
	domain = strings.ToLower(domain)

	var mu sync.Mutex
	set := map[string]bool{domain: true}
	merge := func(name string, hosts []string) {
		mu.Lock()
		for _, h := range hosts {
			set[h] = true
		}
		mu.Unlock()
		r.detail(fmt.Sprintf("%s: %d hosts", name, len(hosts)))
	}

	var g errgroup.Group
	for _, src := range r.Sources {
		src := src
		g.Go(func() error {
			hosts, err := r.passive(ctx, src, domain)
			if err != nil {
				r.warn(src.Name, err)
				return nil
			}
			merge(src.Name, hosts)
			return nil
		})
	}
	if r.AXFR {
		g.Go(func() error {
			res, err := r.AttemptZoneTransfers(ctx, domain)
			if err != nil {
				r.warn("zone transfer", err)
				return nil
			}
			if n := res.Successful(); n > 0 {
				r.progressWarn(fmt.Sprintf("zone transfer enabled on %d of %d nameservers", n, len(res.Transfers)))
			}
			merge("zone transfer", res.Hostnames)
			return nil
		})
	}
	_ = g.Wait()

	hosts := make([]string, 0, len(set))
	for h := range set {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// passive runs one source, going through the cache when configured.
func (r *Resolver) passive(ctx context.Context, src Source, domain string) ([]string, error) {
	key := "passive:" + src.Name + ":" + domain
	switch {
	case r.Cache == nil:
	case r.RefreshCache:
		if err := r.Cache.Delete(ctx, key); err != nil {
			r.logger().Debug("passive cache delete", zap.String("key", key), zap.Error(err))
		}
	default:
		if v, ok, err := r.Cache.Get(ctx, key); err != nil {
			r.logger().Debug("passive cache get", zap.String("key", key), zap.Error(err))
		} else if ok {
			if ttl, err := r.Cache.TTL(ctx, key); err == nil {
				r.logger().Debug("passive cache hit", zap.String("key", key), zap.Duration("expires_in", ttl))
			}
			return splitHosts(v), nil
		}
	}

	hosts, err := src.Lookup(ctx, r.HTTPClient, domain, r.UserAgent)
	if err != nil {
		return nil, err
	}

	if r.Cache != nil {
		ttl := r.CacheTTL
		if ttl <= 0 {
			ttl = DefaultCacheTTL
		}
		if err := r.Cache.SetWithTTL(ctx, key, strings.Join(hosts, "\n"), ttl); err != nil {
			r.logger().Debug("passive cache set", zap.String("key", key), zap.Error(err))
		}
	}
	return hosts, nil
}

func splitHosts(v string) []string {
	var out []string
	for _, h := range strings.Split(v, "\n") {
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

// LookupIPs returns the deduplicated A and AAAA addresses of host. Lookup
// failures yield an empty result.
func (r *Resolver) LookupIPs(ctx context.Context, host string) []string {
	seen := make(map[string]bool)
	var ips []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg, err := r.query(ctx, host, qtype)
		if err != nil {
			r.logger().Debug("dns query", zap.String("host", host), zap.String("type", dns.TypeToString[qtype]), zap.Error(err))
			continue
		}
		for _, rr := range msg.Answer {
			var ip net.IP
			switch v := rr.(type) {
			case *dns.A:
				ip = v.A
			case *dns.AAAA:
				ip = v.AAAA
			default:
				continue
			}
			s := ip.String()
			if !seen[s] {
				seen[s] = true
				ips = append(ips, s)
			}
		}
	}
	return ips
}

var errNoNameserver = errors.New("no nameserver answered")

// query asks each nameserver in turn until one answers.
func (r *Resolver) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultResolverTimeout
	}
	servers := r.Nameservers
	if len(servers) == 0 {
		servers = DefaultNameservers()
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	c := &dns.Client{Timeout: timeout}
	lastErr := errNoNameserver
	for _, ns := range servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in, _, err := c.ExchangeContext(ctx, m, ns)
		if err != nil {
			lastErr = err
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			return nil, fmt.Errorf("%s %s: %s", name, dns.TypeToString[qtype], dns.RcodeToString[in.Rcode])
		}
		return in, nil
	}
	return nil, lastErr
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Resolver) detail(msg string) {
	if r.Progress != nil {
		r.Progress.Detail(msg)
	}
}

func (r *Resolver) progressWarn(msg string) {
	if r.Progress != nil {
		r.Progress.Warn(msg)
	}
}

func (r *Resolver) warn(source string, err error) {
	r.logger().Debug("host source failed", zap.String("source", source), zap.Error(err))
	r.progressWarn(fmt.Sprintf("%s: %s", source, err))
}
