package recon

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/vulnverified/surface/internal/engine"
)

const DefaultTLSTimeout = 5 * time.Second

// TLSInspector implements engine.TLSInspector. Certificates are not
// validated.
type TLSInspector struct {
	Concurrency int
	Timeout     time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// InspectTLS handshakes with every target. Targets whose handshake fails
// are absent from the result.
func (i *TLSInspector) InspectTLS(ctx context.Context, targets []engine.Target) map[engine.Target]engine.TLSInfo {
	timeout := i.Timeout
	if timeout <= 0 {
		timeout = DefaultTLSTimeout
	}
	limit := i.Concurrency
	if limit <= 0 {
		limit = DefaultProbeConcurrency
	}
	now := i.Now
	if now == nil {
		now = time.Now
	}

	var (
		mu  sync.Mutex
		out = make(map[engine.Target]engine.TLSInfo)
	)
	forEach(ctx, limit, targets, func(t engine.Target) {
		info, ok := inspectTLS(ctx, t, timeout, now())
		if !ok {
			return
		}
		mu.Lock()
		out[t] = info
		mu.Unlock()
	})
	return out
}

func inspectTLS(ctx context.Context, t engine.Target, timeout time.Duration, now time.Time) (engine.TLSInfo, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config:    &tls.Config{InsecureSkipVerify: true, ServerName: t.Host},
	}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(t.IP, strconv.Itoa(t.Port)))
	if err != nil {
		return engine.TLSInfo{}, false
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return engine.TLSInfo{}, false
	}
	leaf := state.PeerCertificates[0]

	return engine.TLSInfo{
		Protocol:     tls.VersionName(state.Version),
		Cipher:       tls.CipherSuiteName(state.CipherSuite),
		Issuer:       leaf.Issuer.String(),
		Subject:      leaf.Subject.String(),
		NotAfter:     leaf.NotAfter.UTC(),
		DaysToExpiry: DaysUntil(leaf.NotAfter, now),
	}, true
}

// DaysUntil returns whole days from now to t, rounded down, so a
// certificate that expired an hour ago is at -1.
func DaysUntil(t, now time.Time) int {
	return int(math.Floor(t.Sub(now).Hours() / 24))
}
