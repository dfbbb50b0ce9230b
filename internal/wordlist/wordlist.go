// Package wordlist provides host labels for wordlist-based discovery.
package wordlist

import (
	"bufio"
	_ "embed"
	"fmt"
	"os"
	"strings"
)

// Builtin selects the embedded list in Load.
const Builtin = "builtin"

//go:embed subdomains.txt
var subdomains string

// Subdomains returns the embedded label list.
func Subdomains() []string {
	return parse(subdomains)
}

// Load returns the embedded list for Builtin, or reads labels from path.
func Load(path string) ([]string, error) {
	if path == Builtin {
		return Subdomains(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wordlist: %w", err)
	}
	words := parse(string(data))
	if len(words) == 0 {
		return nil, fmt.Errorf("wordlist %s has no entries", path)
	}
	return words, nil
}

// parse returns lower-cased unique labels. Empty lines and # comments are
// skipped.
func parse(data string) []string {
	var words []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		seen[line] = true
		words = append(words, line)
	}
	return words
}
