package recon

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	axfrDialTimeout = 10 * time.Second
	axfrReadTimeout = 30 * time.Second
)

// ZoneTransfer is the outcome of one AXFR attempt.
type ZoneTransfer struct {
	Nameserver string `json:"nameserver"`
	Success    bool   `json:"success"`
	Records    int    `json:"records,omitempty"`
}

// ZoneTransferResult holds the AXFR attempts for a domain and the hosts
// they leaked.
type ZoneTransferResult struct {
	Transfers []ZoneTransfer
	Hostnames []string
}

// Successful counts nameservers that allowed the transfer.
func (z *ZoneTransferResult) Successful() int {
	n := 0
	for _, t := range z.Transfers {
		if t.Success {
			n++
		}
	}
	return n
}

// AttemptZoneTransfers looks up the domain's NS records and tries AXFR
// against each nameserver on port 53.
func (r *Resolver) AttemptZoneTransfers(ctx context.Context, domain string) (*ZoneTransferResult, error) {
	msg, err := r.query(ctx, domain, dns.TypeNS)
	if err != nil {
		return nil, fmt.Errorf("NS lookup for %s: %w", domain, err)
	}
	var nameservers []string
	for _, rr := range msg.Answer {
		if ns, ok := rr.(*dns.NS); ok {
			nameservers = append(nameservers, net.JoinHostPort(strings.TrimSuffix(ns.Ns, "."), "53"))
		}
	}
	if len(nameservers) == 0 {
		return nil, fmt.Errorf("no NS records for %s", domain)
	}
	return transferFrom(ctx, domain, nameservers), nil
}

// transferFrom tries AXFR of domain against each nameserver address.
// Refusals are the expected case and only mark the attempt unsuccessful.
func transferFrom(ctx context.Context, domain string, nameservers []string) *ZoneTransferResult {
	result := &ZoneTransferResult{}
	seen := make(map[string]bool)

	for _, addr := range nameservers {
		if ctx.Err() != nil {
			return result
		}

		host, _, _ := net.SplitHostPort(addr)
		transfer := ZoneTransfer{Nameserver: host}

		hostnames, err := axfr(domain, addr)
		if err != nil {
			result.Transfers = append(result.Transfers, transfer)
			continue
		}

		transfer.Success = true
		transfer.Records = len(hostnames)
		result.Transfers = append(result.Transfers, transfer)
		for _, h := range hostnames {
			if !seen[h] {
				seen[h] = true
				result.Hostnames = append(result.Hostnames, h)
			}
		}
	}
	return result
}

func axfr(domain, addr string) ([]string, error) {
	t := &dns.Transfer{
		DialTimeout: axfrDialTimeout,
		ReadTimeout: axfrReadTimeout,
	}

	msg := new(dns.Msg)
	msg.SetAxfr(dns.Fqdn(domain))

	ch, err := t.In(msg, addr)
	if err != nil {
		return nil, fmt.Errorf("AXFR to %s: %w", addr, err)
	}

	f := newHostFilter(domain)
	for env := range ch {
		if env.Error != nil {
			return nil, fmt.Errorf("AXFR envelope from %s: %w", addr, env.Error)
		}
		for _, rr := range env.RR {
			f.add(rr.Header().Name)
		}
	}
	return f.hosts, nil
}
