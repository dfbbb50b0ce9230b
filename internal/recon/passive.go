package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Source is a passive host index queried over HTTP.
type Source struct {
	Name string
	// URL is a format string taking the domain.
	URL        string
	Accept     string
	Timeout    time.Duration
	MaxBody    int64
	RetryDelay time.Duration
	Parse      func(body []byte, domain string) ([]string, error)
}

var errRateLimited = errors.New("rate limited")

const hackertargetRateMsg = "API count exceeded"

// Built-in passive sources.
var (
	Crtsh = Source{
		Name:       "crtsh",
		URL:        "https://crt.sh/?q=%%25.%s&output=json",
		Accept:     "application/json",
		Timeout:    30 * time.Second,
		MaxBody:    50 * 1024 * 1024,
		RetryDelay: 3 * time.Second,
		Parse:      parseCrtsh,
	}
	HackerTarget = Source{
		Name:       "hackertarget",
		URL:        "https://api.hackertarget.com/hostsearch/?q=%s",
		Timeout:    10 * time.Second,
		MaxBody:    5 * 1024 * 1024,
		RetryDelay: 2 * time.Second,
		Parse:      parseHackertarget,
	}
	OTX = Source{
		Name:       "otx",
		URL:        "https://otx.alienvault.com/api/v1/indicators/domain/%s/passive_dns",
		Accept:     "application/json",
		Timeout:    15 * time.Second,
		MaxBody:    10 * 1024 * 1024,
		RetryDelay: 3 * time.Second,
		Parse:      parseOTX,
	}
)

// SourcesByName resolves source names. Unknown names are an error.
func SourcesByName(names []string) ([]Source, error) {
	all := map[string]Source{Crtsh.Name: Crtsh, HackerTarget.Name: HackerTarget, OTX.Name: OTX}
	var out []Source
	for _, n := range names {
		s, ok := all[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown passive source %q", n)
		}
		out = append(out, s)
	}
	return out, nil
}

// Lookup queries src for subdomains of domain. A failed request is retried
// once after RetryDelay unless the source rate limited us.
func (src Source) Lookup(ctx context.Context, client *http.Client, domain, userAgent string) ([]string, error) {
	url := fmt.Sprintf(src.URL, domain)

	body, err := src.do(ctx, client, url, userAgent)
	if err != nil && !errors.Is(err, errRateLimited) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(src.RetryDelay):
		}
		body, err = src.do(ctx, client, url, userAgent)
	}
	if err != nil {
		return nil, fmt.Errorf("%s fetch for %s: %w", src.Name, domain, err)
	}

	hosts, err := src.Parse(body, domain)
	if err != nil {
		return nil, fmt.Errorf("%s parse for %s: %w", src.Name, domain, err)
	}
	return hosts, nil
}

func (src Source) do(ctx context.Context, client *http.Client, url, userAgent string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	reqCtx, cancel := context.WithTimeout(ctx, src.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if src.Accept != "" {
		req.Header.Set("Accept", src.Accept)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s: %w (429)", src.Name, errRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", src.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, src.MaxBody))
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", src.Name, err)
	}
	// HackerTarget answers 200 with a plain text message when over quota.
	if strings.Contains(string(body), hackertargetRateMsg) {
		return nil, fmt.Errorf("%s: %w: %s", src.Name, errRateLimited, hackertargetRateMsg)
	}
	return body, nil
}

// hostFilter collects lower-cased, unique names under domain.
type hostFilter struct {
	domain string
	seen   map[string]bool
	hosts  []string
}

func newHostFilter(domain string) *hostFilter {
	return &hostFilter{domain: strings.ToLower(domain), seen: make(map[string]bool)}
}

func (f *hostFilter) add(name string) {
	name = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
	name = strings.TrimPrefix(name, "*.")
	if name == "" {
		return
	}
	if name != f.domain && !strings.HasSuffix(name, "."+f.domain) {
		return
	}
	if !f.seen[name] {
		f.seen[name] = true
		f.hosts = append(f.hosts, name)
	}
}

type crtshEntry struct {
	NameValue string `json:"name_value"`
}

func parseCrtsh(body []byte, domain string) ([]string, error) {
	var entries []crtshEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}
	f := newHostFilter(domain)
	for _, e := range entries {
		// name_value can hold several names separated by newlines.
		for _, name := range strings.Split(e.NameValue, "\n") {
			f.add(name)
		}
	}
	return f.hosts, nil
}

// parseHackertarget reads the plain-text "host,ip" format.
func parseHackertarget(body []byte, domain string) ([]string, error) {
	f := newHostFilter(domain)
	for _, line := range strings.Split(string(body), "\n") {
		host, _, _ := strings.Cut(strings.TrimSpace(line), ",")
		f.add(host)
	}
	return f.hosts, nil
}

type otxResponse struct {
	PassiveDNS []struct {
		Hostname string `json:"hostname"`
	} `json:"passive_dns"`
}

func parseOTX(body []byte, domain string) ([]string, error) {
	var resp otxResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	f := newHostFilter(domain)
	for _, e := range resp.PassiveDNS {
		f.add(e.Hostname)
	}
	return f.hosts, nil
}
