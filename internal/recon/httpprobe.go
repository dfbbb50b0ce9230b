package recon

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vulnverified/surface/internal/engine"
	"github.com/vulnverified/surface/pkg/ports"
)

var titleRegex = regexp.MustCompile(`(?i)<title[^>]*>\s*([^<]+)\s*</title>`)

const (
	DefaultProbeConcurrency = 100
	DefaultHTTPTimeout      = 5 * time.Second

	httpProbeMaxBody = 1024 * 1024
	maxTitleLen      = 200
)

// HTTPProber implements engine.HTTPFingerprinter.
type HTTPProber struct {
	Concurrency int
	Timeout     time.Duration
	UserAgent   string
	// TLSPorts are fetched over HTTPS. Defaults to ports.TLSHTTP.
	TLSPorts map[int]bool
}

// FingerprintHTTP issues a single GET / to every target. Failed requests
// map to a fingerprint carrying only Error.
func (p *HTTPProber) FingerprintHTTP(ctx context.Context, targets []engine.Target) map[engine.Target]engine.HTTPFingerprint {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	limit := p.Concurrency
	if limit <= 0 {
		limit = DefaultProbeConcurrency
	}

	var (
		mu  sync.Mutex
		out = make(map[engine.Target]engine.HTTPFingerprint, len(targets))
	)
	forEach(ctx, limit, targets, func(t engine.Target) {
		fp := p.probe(ctx, t, timeout)
		mu.Lock()
		out[t] = fp
		mu.Unlock()
	})
	return out
}

func (p *HTTPProber) scheme(port int) string {
	tlsPorts := p.TLSPorts
	if tlsPorts == nil {
		tlsPorts = ports.TLSHTTP
	}
	if tlsPorts[port] {
		return "https"
	}
	return "http"
}

// probe fetches / from t.IP while presenting t.Host in the URL, Host
// header and SNI. Redirects are not followed.
func (p *HTTPProber) probe(ctx context.Context, t engine.Target, timeout time.Duration) engine.HTTPFingerprint {
	addr := net.JoinHostPort(t.IP, strconv.Itoa(t.Port))
	dialer := &net.Dialer{Timeout: timeout}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true, ServerName: t.Host},
			DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
			DisableKeepAlives: true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	defer client.CloseIdleConnections()

	url := fmt.Sprintf("%s://%s/", p.scheme(t.Port), net.JoinHostPort(t.Host, strconv.Itoa(t.Port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return engine.HTTPFingerprint{Error: err.Error()}
	}
	req.Host = t.Host
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return engine.HTTPFingerprint{Error: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, httpProbeMaxBody))

	fp := engine.HTTPFingerprint{
		Status: resp.StatusCode,
		Server: resp.Header.Get("Server"),
		HSTS:   resp.Header.Get("Strict-Transport-Security") != "",
	}
	if m := titleRegex.FindSubmatch(body); len(m) > 1 {
		fp.Title = truncate(strings.TrimSpace(string(m[1])), maxTitleLen)
	}
	return fp
}
