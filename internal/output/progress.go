// Package output renders scan results, stage progress and read-model
// listings for the CLI.
package output

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vulnverified/surface/internal/engine"
)

// Progress writes stage progress to stderr. It implements
// engine.ProgressReporter and is safe for concurrent use.
type Progress struct {
	w       io.Writer
	verbose bool
	silent  bool
	mu      sync.Mutex
	start   time.Time
}

// NewProgress creates a progress reporter.
func NewProgress(w io.Writer, verbose, silent bool) *Progress {
	return &Progress{
		w:       w,
		verbose: verbose,
		silent:  silent,
		start:   time.Now(),
	}
}

// Stage prints a stage header like "[1/6] Resolving hosts..."
func (p *Progress) Stage(num, total int, msg string) {
	p.printf("[%d/%d] %s\n", num, total, msg)
}

// Detail prints verbose detail (only in verbose mode).
func (p *Progress) Detail(msg string) {
	if !p.verbose {
		return
	}
	p.printf("  %s\n", msg)
}

// Warn prints a warning.
func (p *Progress) Warn(msg string) {
	p.printf("  ! %s\n", msg)
}

// Complete prints the final status and elapsed time of a scan.
func (p *Progress) Complete(scan engine.Scan) {
	elapsed := time.Since(p.start)
	if scan.Status == engine.StatusError {
		p.printf("\nScan %d failed after %.1fs: %s\n", scan.ID, elapsed.Seconds(), scan.Stats.Error)
		return
	}
	p.printf("\nScan %d completed in %.1fs\n", scan.ID, elapsed.Seconds())
}

func (p *Progress) printf(format string, args ...any) {
	if p.silent {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}
