package recon

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vulnverified/surface/internal/engine"
)

const (
	DefaultSSHTimeout = 2 * time.Second
	maxBannerLen      = 200
)

// BannerGrabber implements engine.BannerGrabber.
type BannerGrabber struct {
	Concurrency int
	Timeout     time.Duration
}

// GrabSSH reads the first line sent by each target. Failures map to "".
func (b *BannerGrabber) GrabSSH(ctx context.Context, targets []engine.Target) map[engine.Target]string {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultSSHTimeout
	}
	limit := b.Concurrency
	if limit <= 0 {
		limit = DefaultProbeConcurrency
	}

	var (
		mu  sync.Mutex
		out = make(map[engine.Target]string, len(targets))
	)
	forEach(ctx, limit, targets, func(t engine.Target) {
		banner := grabBanner(ctx, net.JoinHostPort(t.IP, strconv.Itoa(t.Port)), timeout)
		mu.Lock()
		out[t] = banner
		mu.Unlock()
	})
	return out
}

func grabBanner(ctx context.Context, addr string, timeout time.Duration) string {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ""
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	// A line cut short by the deadline is a failed read; one cut short by
	// the server closing is still its banner.
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	line = strings.ToValidUTF8(line, "")
	return truncate(strings.TrimSpace(line), maxBannerLen)
}
