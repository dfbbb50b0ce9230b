// Package recon implements the probing stages of a scan: host discovery and
// resolution, the reachability sweep, and the HTTP, TLS and SSH
// fingerprinters.
package recon

import (
	"context"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"
)

// forEach runs fn for every item with at most limit calls in flight. The
// slot is acquired before the goroutine is spawned, so the number of live
// goroutines never exceeds limit either. It returns once every started call
// has returned; items not yet started when ctx is done are skipped.
func forEach[T any](ctx context.Context, limit int, items []T, fn func(T)) {
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	for _, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(it T) {
			defer wg.Done()
			defer sem.Release(1)
			fn(it)
		}(item)
	}
	wg.Wait()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
