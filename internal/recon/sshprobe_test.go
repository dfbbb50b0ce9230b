package recon

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/vulnverified/surface/internal/engine"
)

// bannerServer writes banner to every connection and keeps it open until
// the client hangs up.
func bannerServer(t *testing.T, banner string) engine.Target {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				if banner != "" {
					c.Write([]byte(banner))
				}
				buf := make([]byte, 1)
				c.Read(buf)
			}(conn)
		}
	}()
	return engine.Target{Host: "ssh.example.com", IP: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
}

func TestGrabSSH(t *testing.T) {
	target := bannerServer(t, "SSH-2.0-OpenSSH_9.6p1 Ubuntu-3ubuntu13\r\n")
	got := (&BannerGrabber{Timeout: 2 * time.Second}).GrabSSH(context.Background(), []engine.Target{target})
	if got[target] != "SSH-2.0-OpenSSH_9.6p1 Ubuntu-3ubuntu13" {
		t.Errorf("banner = %q", got[target])
	}
}

func TestGrabSSH_Truncates(t *testing.T) {
	target := bannerServer(t, "SSH-2.0-"+strings.Repeat("x", 400)+"\r\n")
	got := (&BannerGrabber{Timeout: 2 * time.Second}).GrabSSH(context.Background(), []engine.Target{target})
	if len(got[target]) != 200 {
		t.Errorf("banner length = %d, want 200", len(got[target]))
	}
}

func TestGrabSSH_SilentServer(t *testing.T) {
	target := bannerServer(t, "")
	start := time.Now()
	got := (&BannerGrabber{Timeout: 200 * time.Millisecond}).GrabSSH(context.Background(), []engine.Target{target})
	if got[target] != "" {
		t.Errorf("banner = %q, want empty", got[target])
	}
	if time.Since(start) > 2*time.Second {
		t.Error("read did not honour the timeout")
	}
}

func TestGrabSSH_UnterminatedBannerTimesOut(t *testing.T) {
	target := bannerServer(t, "SSH-2.0-partial-no-newline")
	got := (&BannerGrabber{Timeout: 300 * time.Millisecond}).GrabSSH(context.Background(), []engine.Target{target})
	if got[target] != "" {
		t.Errorf("banner = %q, want empty after timeout", got[target])
	}
}

func TestGrabSSH_BannerBeforeClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("SSH-2.0-dropbear"))
		conn.Close()
	}()

	target := engine.Target{Host: "ssh.example.com", IP: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
	got := (&BannerGrabber{Timeout: 2 * time.Second}).GrabSSH(context.Background(), []engine.Target{target})
	if got[target] != "SSH-2.0-dropbear" {
		t.Errorf("banner = %q, want SSH-2.0-dropbear", got[target])
	}
}

func TestGrabSSH_ClosedPort(t *testing.T) {
	target := engine.Target{Host: "ssh.example.com", IP: "127.0.0.1", Port: closedPort(t)}
	got := (&BannerGrabber{Timeout: 500 * time.Millisecond}).GrabSSH(context.Background(), []engine.Target{target})
	if v, ok := got[target]; !ok || v != "" {
		t.Errorf("got %q (present %v), want empty entry", v, ok)
	}
}
