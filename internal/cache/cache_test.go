package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

// testCache connects to SURFACE_TEST_VALKEY or skips.
func testCache(t *testing.T) *Valkey {
	t.Helper()
	addr := os.Getenv("SURFACE_TEST_VALKEY")
	if addr == "" {
		t.Skip("SURFACE_TEST_VALKEY not set")
	}
	c, err := New(addr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Unreachable(t *testing.T) {
	if _, err := New("127.0.0.1:1"); err == nil {
		t.Error("expected error connecting to a closed port")
	}
}

func TestGetSet(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	key := "test:" + t.Name()
	defer c.Delete(ctx, key)

	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get before set = ok %v, err %v; want miss", ok, err)
	}
	if err := c.SetWithTTL(ctx, key, "a.example.com\nb.example.com", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := c.Get(ctx, key)
	if err != nil || !ok || v != "a.example.com\nb.example.com" {
		t.Errorf("Get = %q, %v, %v", v, ok, err)
	}
	ttl, err := c.TTL(ctx, key)
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, %v; want within (0, 1m]", ttl, err)
	}
}
