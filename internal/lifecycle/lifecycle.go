// Package lifecycle computes how a domain's finding set evolves scan-over-scan.
//
// Each finding is identified across scans by its dedupe key. After a scan's
// findings are committed, Compute diffs the scan's keys against the most
// recent earlier snapshot of the same domain and records an immutable
// per-scan snapshot of open and resolved keys.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// State is the per-scan lifecycle marker of a dedupe key.
type State string

const (
	StateOpen     State = "open"
	StateResolved State = "resolved"
)

// Change is the outcome of comparing a key's previous and current state.
type Change string

const (
	ChangeNone      Change = ""
	ChangeNew       Change = "new"
	ChangeResolved  Change = "resolved"
	ChangeRegressed Change = "regressed"
)

// Transitions is the diff of one scan against history. The three lists are
// sorted and pairwise disjoint.
type Transitions struct {
	New       []string `json:"new"`
	Resolved  []string `json:"resolved"`
	Regressed []string `json:"regressed"`
}

// Empty reports whether nothing changed.
func (t Transitions) Empty() bool {
	return len(t.New) == 0 && len(t.Resolved) == 0 && len(t.Regressed) == 0
}

// History is the persisted view of earlier snapshots for a domain.
type History interface {
	// PreviousOpenKeys returns the keys marked open in the most recent
	// snapshot of domain recorded by a scan with an id lower than before.
	// No earlier snapshot yields an empty result and no error.
	PreviousOpenKeys(ctx context.Context, domain string, before uint) ([]string, error)

	// LatestStates returns, for each of keys, the most recent state recorded
	// for it by any scan of domain with an id lower than before. Keys that
	// were never recorded are absent from the map.
	LatestStates(ctx context.Context, domain string, before uint, keys []string) (map[string]State, error)

	// SaveSnapshot writes the snapshot of scanID. It is called once per scan.
	SaveSnapshot(ctx context.Context, scanID uint, states map[string]State) error
}

// DedupeKey builds the stable identity host|ip|port|protocol|title.
// Absent ip and port (port <= 0) render as empty strings. Backslashes and
// pipes inside a component are escaped so distinct tuples never collide.
func DedupeKey(host, ip string, port int, proto, title string) string {
	p := ""
	if port > 0 {
		p = strconv.Itoa(port)
	}
	parts := []string{host, ip, p, proto, title}
	for i, s := range parts {
		parts[i] = escaper.Replace(s)
	}
	return strings.Join(parts, "|")
}

var escaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`)

// Transition maps a key's previous and current state to a change.
// An empty State means the key was not present.
func Transition(prev, curr State) Change {
	switch {
	case prev == "" && curr == StateOpen:
		return ChangeNew
	case prev == StateOpen && curr == "":
		return ChangeResolved
	case prev == StateResolved && curr == StateOpen:
		return ChangeRegressed
	}
	return ChangeNone
}

// Diff is the pure core of Compute. prev is the open set of the preceding
// snapshot, curr the keys of this scan, and latest the most recent state
// ever recorded for keys that are not in prev.
func Diff(prev, curr []string, latest map[string]State) Transitions {
	prevSet := toSet(prev)
	currSet := toSet(curr)

	t := Transitions{New: []string{}, Resolved: []string{}, Regressed: []string{}}
	for k := range currSet {
		if prevSet[k] {
			continue
		}
		if latest[k] == StateResolved {
			t.Regressed = append(t.Regressed, k)
		} else {
			t.New = append(t.New, k)
		}
	}
	for k := range prevSet {
		if !currSet[k] {
			t.Resolved = append(t.Resolved, k)
		}
	}

	sort.Strings(t.New)
	sort.Strings(t.Resolved)
	sort.Strings(t.Regressed)
	return t
}

// Compute diffs scanID's keys against history and persists its snapshot:
// every current key as open and every key resolved by this scan as resolved.
func Compute(ctx context.Context, h History, domain string, scanID uint, curr []string) (Transitions, error) {
	prev, err := h.PreviousOpenKeys(ctx, domain, scanID)
	if err != nil {
		return Transitions{}, fmt.Errorf("load previous snapshot: %w", err)
	}

	prevSet := toSet(prev)
	var candidates []string
	for k := range toSet(curr) {
		if !prevSet[k] {
			candidates = append(candidates, k)
		}
	}
	sort.Strings(candidates)

	latest := map[string]State{}
	if len(candidates) > 0 {
		latest, err = h.LatestStates(ctx, domain, scanID, candidates)
		if err != nil {
			return Transitions{}, fmt.Errorf("load key history: %w", err)
		}
	}

	t := Diff(prev, curr, latest)

	snapshot := make(map[string]State, len(curr)+len(t.Resolved))
	for _, k := range curr {
		snapshot[k] = StateOpen
	}
	for _, k := range t.Resolved {
		snapshot[k] = StateResolved
	}
	if err := h.SaveSnapshot(ctx, scanID, snapshot); err != nil {
		return Transitions{}, fmt.Errorf("save snapshot for scan %d: %w", scanID, err)
	}
	return t, nil
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
