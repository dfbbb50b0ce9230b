package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/vulnverified/surface/internal/engine"
)

// Version is set via ldflags at build time.
var Version = "dev"

const (
	bold   = "\033[1m"
	yellow = "\033[33m"
	green  = "\033[32m"
	reset  = "\033[0m"
)

// WriteHeader prints the CLI banner.
func WriteHeader(w io.Writer, noColor bool) {
	if noColor {
		fmt.Fprintf(w, "surface %s\n\n", Version)
	} else {
		fmt.Fprintf(w, "%ssurface %s%s\n\n", bold, Version, reset)
	}
}

// WriteSummary prints the scan totals, posture score and lifecycle counts.
func WriteSummary(w io.Writer, res *engine.Result, noColor bool) {
	s := res.Scan.Stats
	label := func(l string) string {
		if noColor {
			return l
		}
		return bold + l + reset
	}
	mark := func(color, m string) string {
		if noColor {
			return m
		}
		return color + m + reset
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s (scan %d, %s)\n", label("Target:"), res.Scan.Domain, res.Scan.ID, res.Scan.Status)
	fmt.Fprintf(w, "%s %d addresses, %d open ports\n", label("Hosts:"), s.Hosts, s.Open)
	if res.Scan.Status == engine.StatusError {
		fmt.Fprintf(w, "%s Scan failed: %s\n", mark(yellow, "!"), s.Error)
		return
	}
	fmt.Fprintf(w, "%s %d/100\n", label("Posture score:"), s.Score)
	for _, p := range s.Penalties {
		fmt.Fprintf(w, "  %s %s\n", mark(yellow, "-"), p)
	}
	for _, b := range s.Bonuses {
		fmt.Fprintf(w, "  %s %s\n", mark(green, "+"), b)
	}

	t := res.Transitions
	if t.New == nil && t.Resolved == nil && t.Regressed == nil {
		fmt.Fprintf(w, "%s %d\n", label("Findings:"), len(res.Findings))
		return
	}
	fmt.Fprintf(w, "%s %d (%d new, %d resolved, %d regressed)\n",
		label("Findings:"), len(res.Findings), len(t.New), len(t.Resolved), len(t.Regressed))
}

// WriteScanDetail prints a stored scan with its assets and findings.
func WriteScanDetail(w io.Writer, scan engine.Scan, assets []engine.Asset, findings []engine.Finding, noColor bool) {
	WriteSummary(w, &engine.Result{Scan: scan, Assets: assets, Findings: findings}, noColor)
	if len(assets) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Assets:")
		for _, a := range assets {
			ip := a.IP
			if ip == "" {
				ip = "(unresolved)"
			}
			fmt.Fprintf(w, "  %s %s\n", a.Host, ip)
		}
	}
	WriteFindings(w, findings, noColor)
	for _, f := range findings {
		d := f.Detail
		if d.Type == "" {
			continue
		}
		fmt.Fprintf(w, "  %s: %s base %.1f x exposure %.1f x criticality %.1f x data %.1f + %.1f\n",
			strings.TrimSpace(f.Title), d.Type, d.Base, d.Exposure, d.Criticality, d.DataClass, d.Penalty)
	}
}
