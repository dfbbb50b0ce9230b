package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/vulnverified/surface/internal/engine"
	"github.com/vulnverified/surface/internal/lifecycle"
)

var severityColor = map[engine.Severity]lipgloss.Color{
	engine.SeverityCritical: lipgloss.Color("196"),
	engine.SeverityHigh:     lipgloss.Color("208"),
	engine.SeverityMedium:   lipgloss.Color("220"),
	engine.SeverityLow:      lipgloss.Color("39"),
	engine.SeverityInfo:     lipgloss.Color("245"),
}

// WriteFindings renders findings highest score first.
func WriteFindings(w io.Writer, findings []engine.Finding, noColor bool) {
	if len(findings) == 0 {
		fmt.Fprintln(w, "\nNo findings.")
		return
	}

	sorted := append([]engine.Finding(nil), findings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].DedupeKey() < sorted[j].DedupeKey()
	})

	headers := []string{"Score", "Severity", "Host", "IP", "Port", "Title", "Controls"}
	var rows [][]string
	for _, f := range sorted {
		port := ""
		if f.Port > 0 {
			port = strconv.Itoa(f.Port)
		}
		rows = append(rows, []string{
			strconv.FormatFloat(f.Score, 'f', 2, 64),
			string(f.Severity),
			f.Host,
			f.IP,
			port,
			truncate(f.Title, 40),
			truncate(strings.Join(append(append([]string{}, f.Detail.Controls.ISO27001...), f.Detail.Controls.CIS...), ", "), 30),
		})
	}

	fmt.Fprintln(w)
	render(w, headers, rows, noColor, func(row []string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(severityColor[engine.Severity(row[1])])
	})
}

// WriteTransitions lists the lifecycle changes of a scan.
func WriteTransitions(w io.Writer, t lifecycle.Transitions, noColor bool) {
	if t.Empty() {
		fmt.Fprintln(w, "\nNo finding changes since the previous scan.")
		return
	}
	var rows [][]string
	for _, sec := range []struct {
		change string
		keys   []string
	}{
		{"new", t.New},
		{"regressed", t.Regressed},
		{"resolved", t.Resolved},
	} {
		for _, k := range sec.keys {
			rows = append(rows, []string{sec.change, k})
		}
	}
	fmt.Fprintln(w)
	render(w, []string{"Change", "Finding"}, rows, noColor, func(row []string) lipgloss.Style {
		switch row[0] {
		case "new":
			return lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
		case "regressed":
			return lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		}
		return lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	})
}

// WriteScans lists scans for the read model.
func WriteScans(w io.Writer, scans []engine.Scan, noColor bool) {
	if len(scans) == 0 {
		fmt.Fprintln(w, "No scans recorded.")
		return
	}
	var rows [][]string
	for _, s := range scans {
		finished := ""
		if s.FinishedAt != nil {
			finished = s.FinishedAt.Local().Format("2006-01-02 15:04:05")
		}
		score := ""
		if s.Status == engine.StatusDone {
			score = strconv.Itoa(s.Stats.Score)
		}
		rows = append(rows, []string{
			strconv.FormatUint(uint64(s.ID), 10),
			s.Domain,
			string(s.Status),
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			finished,
			strconv.Itoa(s.Stats.Hosts),
			strconv.Itoa(s.Stats.Open),
			score,
		})
	}
	render(w, []string{"ID", "Domain", "Status", "Started", "Finished", "Hosts", "Open", "Score"}, rows, noColor, nil)
}

// WriteScopes lists registered scope entries.
func WriteScopes(w io.Writer, entries []engine.ScopeEntry, noColor bool) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No scope entries registered.")
		return
	}
	var rows [][]string
	for _, e := range entries {
		rows = append(rows, []string{e.Org, e.Kind, e.Value, e.CreatedAt.Local().Format("2006-01-02")})
	}
	render(w, []string{"Org", "Kind", "Value", "Added"}, rows, noColor, nil)
}

// render draws a lipgloss table, or a plain pipe-separated one when color
// is off. rowStyle may be nil.
func render(w io.Writer, headers []string, rows [][]string, noColor bool, rowStyle func(row []string) lipgloss.Style) {
	if noColor {
		writeSimpleTable(w, headers, rows)
		return
	}

	t := table.New().
		Headers(headers...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
			}
			if rowStyle != nil && row >= 0 && row < len(rows) {
				return rowStyle(rows[row])
			}
			return lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
		})

	for _, row := range rows {
		t.Row(row...)
	}

	fmt.Fprintln(w, t.Render())
}

func writeSimpleTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				fmt.Fprint(w, " | ")
			}
			fmt.Fprintf(w, "%-*s", widths[i], cell)
		}
		fmt.Fprintln(w)
	}

	writeRow(headers)
	for i, width := range widths {
		if i > 0 {
			fmt.Fprint(w, "-+-")
		}
		fmt.Fprint(w, strings.Repeat("-", width))
	}
	fmt.Fprintln(w)
	for _, row := range rows {
		writeRow(row)
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
