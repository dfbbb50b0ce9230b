package recon

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vulnverified/surface/internal/engine"
)

const (
	DefaultSweepConcurrency = 500
	DefaultConnectTimeout   = time.Second
)

// Dialer opens raw connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Sweeper implements engine.ReachabilitySweeper with TCP connect probes.
type Sweeper struct {
	// Concurrency caps simultaneously in-flight connect attempts.
	Concurrency int
	Timeout     time.Duration
	// Limiter optionally paces connect attempts.
	Limiter *rate.Limiter
	// Dialer defaults to a net.Dialer with Timeout.
	Dialer Dialer
}

// Sweep probes the full cartesian product of (host, ip) pairs and ports.
// Failed connects count as closed. The result is sorted and free of
// duplicates.
func (s *Sweeper) Sweep(ctx context.Context, hosts map[string][]string, ports []int) []engine.Target {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultSweepConcurrency
	}
	dialer := s.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: timeout}
	}

	var (
		mu   sync.Mutex
		open = make(map[engine.Target]bool)
	)
	forEach(ctx, limit, candidates(hosts, ports), func(t engine.Target) {
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return
			}
		}
		if !connect(ctx, dialer, t, timeout) {
			return
		}
		mu.Lock()
		open[t] = true
		mu.Unlock()
	})

	out := make([]engine.Target, 0, len(open))
	for t := range open {
		out = append(out, t)
	}
	sortTargets(out)
	return out
}

func connect(ctx context.Context, d Dialer, t engine.Target, timeout time.Duration) bool {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := d.DialContext(dctx, "tcp", net.JoinHostPort(t.IP, strconv.Itoa(t.Port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// candidates expands hosts and ports into unique probe triples.
func candidates(hosts map[string][]string, ports []int) []engine.Target {
	seen := make(map[engine.Target]bool)
	var out []engine.Target
	for host, ips := range hosts {
		for _, ip := range ips {
			for _, p := range ports {
				t := engine.Target{Host: host, IP: ip, Port: p}
				if !seen[t] {
					seen[t] = true
					out = append(out, t)
				}
			}
		}
	}
	sortTargets(out)
	return out
}

func sortTargets(ts []engine.Target) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Host != ts[j].Host {
			return ts[i].Host < ts[j].Host
		}
		if ts[i].IP != ts[j].IP {
			return ts[i].IP < ts[j].IP
		}
		return ts[i].Port < ts[j].Port
	})
}
