package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vulnverified/surface/pkg/ports"
)

const (
	riskyPortPenalty   = 10
	plainHTTPPenalty   = 5
	expiredCertPenalty = 15
	tls13Bonus         = 2

	certExpiringDays = 14
)

// candidate is a derived finding awaiting scoring.
type candidate struct {
	finding      Finding
	siblingHTTPS bool
}

// observations is everything the probes learned in one scan.
type observations struct {
	open    []Target
	http    map[Target]HTTPFingerprint
	tls     map[Target]TLSInfo
	banners map[Target]string
}

// deriveFindings turns probe observations into findings and applies the
// composite score penalties and bonuses to stats. Output order is
// deterministic: by target, then by rule.
func deriveFindings(obs observations, stats *Stats) []candidate {
	open := append([]Target(nil), obs.open...)
	sortTargets(open)

	https := make(map[string]bool)
	for _, t := range open {
		if ports.TLSHTTP[t.Port] {
			https[t.Host+"|"+t.IP] = true
		}
	}
	siblingHTTPS := func(t Target) bool { return https[t.Host+"|"+t.IP] }

	var out []candidate
	add := func(t Target, proto string, sev Severity, title, desc string, ev Evidence) {
		out = append(out, candidate{
			finding: Finding{
				Host:        t.Host,
				IP:          t.IP,
				Port:        t.Port,
				Proto:       proto,
				Severity:    sev,
				Title:       title,
				Description: desc,
				Evidence:    ev,
			},
			siblingHTTPS: siblingHTTPS(t),
		})
	}

	for _, t := range open {
		stats.Open++

		if ports.Risky[t.Port] {
			add(t, "tcp", SeverityHigh,
				fmt.Sprintf("Internet-exposed service on %d", t.Port),
				"Restrict exposure or require VPN; verify auth; move behind WAF/bastion.",
				Evidence{})
			stats.Score -= riskyPortPenalty
			stats.Penalties = append(stats.Penalties, fmt.Sprintf("Risky port %d exposed", t.Port))
		} else {
			add(t, "tcp", SeverityInfo,
				fmt.Sprintf("Open TCP %d", t.Port),
				"Service reachable from Internet",
				Evidence{})
		}

		fp, probed := obs.http[t]
		if ports.PlainHTTP[t.Port] {
			httpsOK := siblingHTTPS(t)
			if !httpsOK || !fp.HSTS {
				sev, reason := SeverityHigh, "No HTTPS available"
				if httpsOK {
					sev, reason = SeverityMedium, "No HSTS"
				}
				add(t, "http", sev,
					fmt.Sprintf("Plain HTTP exposed (%s)", reason),
					"Enable HTTPS and Strict-Transport-Security or redirect all HTTP to HTTPS.",
					httpEvidence(fp, probed))
				if !httpsOK {
					stats.Score -= plainHTTPPenalty
					stats.Penalties = append(stats.Penalties, "HTTP without HTTPS")
				}
			}
		}
		if probed && fp.Error == "" && fp.Status > 0 {
			add(t, "http", SeverityLow,
				fmt.Sprintf("HTTP %d on port %d", fp.Status, t.Port),
				fmt.Sprintf("Server: %s Title: %s", fp.Server, fp.Title),
				httpEvidence(fp, probed))
		}

		if info, ok := obs.tls[t]; ok {
			switch {
			case info.DaysToExpiry < 0:
				add(t, "tls", SeverityHigh, "Expired TLS certificate",
					"Certificate notAfter date is in the past", tlsEvidence(info))
				stats.Score -= expiredCertPenalty
				stats.Penalties = append(stats.Penalties, "Expired TLS cert")
			case info.DaysToExpiry < certExpiringDays:
				add(t, "tls", SeverityMedium, "TLS certificate expiring soon",
					fmt.Sprintf("Cert expires in %d days", info.DaysToExpiry), tlsEvidence(info))
			}
			if strings.HasPrefix(info.Protocol, "TLS 1.3") {
				stats.Score += tls13Bonus
				stats.Bonuses = append(stats.Bonuses, "TLS 1.3 detected")
			}
		}

		if banner := obs.banners[t]; banner != "" {
			add(t, "ssh", SeverityInfo, "SSH service banner", banner,
				Evidence{SSH: &SSHBanner{Banner: banner}})
		}
	}
	return out
}

func httpEvidence(fp HTTPFingerprint, probed bool) Evidence {
	if !probed {
		return Evidence{}
	}
	return Evidence{HTTP: &fp}
}

func tlsEvidence(info TLSInfo) Evidence {
	return Evidence{TLS: &info}
}

func sortTargets(ts []Target) {
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
