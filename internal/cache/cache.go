// Package cache keeps passive-source lookups in valkey between scans.
package cache

import (
	"context"
	"fmt"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// KeyPrefix namespaces every key written by the scanner.
const KeyPrefix = "surface:"

// Valkey is a TTL string cache backed by a valkey server. It satisfies
// recon.Cache.
type Valkey struct {
	client valkey.Client
}

// New connects to the valkey server at addr.
func New(addr string) (*Valkey, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect valkey %s: %w", addr, err)
	}
	return &Valkey{client: client}, nil
}

// Get returns the cached value of key. A missing key is not an error.
func (v *Valkey) Get(ctx context.Context, key string) (string, bool, error) {
	cmd := v.client.B().Get().Key(KeyPrefix + key).Build()
	resp := v.client.Do(ctx, cmd)
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("valkey GET %s: %w", key, err)
	}
	s, err := resp.ToString()
	if err != nil {
		return "", false, fmt.Errorf("valkey GET %s: %w", key, err)
	}
	return s, true, nil
}

// SetWithTTL stores value under key for ttl.
func (v *Valkey) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	cmd := v.client.B().Set().Key(KeyPrefix + key).Value(value).Ex(ttl).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey SET %s: %w", key, err)
	}
	return nil
}

// TTL returns the remaining lifetime of key, or a negative duration when
// the key has no expiry or does not exist.
func (v *Valkey) TTL(ctx context.Context, key string) (time.Duration, error) {
	cmd := v.client.B().Ttl().Key(KeyPrefix + key).Build()
	secs, err := v.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("valkey TTL %s: %w", key, err)
	}
	return time.Duration(secs) * time.Second, nil
}

// Delete removes key.
func (v *Valkey) Delete(ctx context.Context, key string) error {
	cmd := v.client.B().Del().Key(KeyPrefix + key).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey DEL %s: %w", key, err)
	}
	return nil
}

// Close shuts down the client.
func (v *Valkey) Close() error {
	v.client.Close()
	return nil
}
