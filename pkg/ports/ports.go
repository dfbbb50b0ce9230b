// Package ports provides the candidate port list and port classes used by the scanner.
package ports

import "sort"

// Candidates is the fixed list of TCP ports probed on every resolved address.
// Sorted ascending for consistent output.
var Candidates = []int{
	22, 25, 80, 110, 143, 443, 465, 587,
	993, 995, 3306, 3389, 5432, 6379, 8080, 8443,
}

// Risky are ports whose bare exposure to the internet is a finding on its own:
// RDP, MySQL, Postgres, Redis, Elasticsearch, MongoDB.
var Risky = map[int]bool{
	3389: true, 3306: true, 5432: true, 6379: true, 9200: true, 27017: true,
}

// PlainHTTP are ports fingerprinted as cleartext HTTP.
var PlainHTTP = map[int]bool{80: true, 8080: true}

// TLSHTTP are ports fingerprinted as HTTPS and inspected for certificates.
var TLSHTTP = map[int]bool{443: true, 8443: true}

// SSH is the port banner-grabbed for SSH.
const SSH = 22

// IsWeb reports whether p is fingerprinted by the HTTP prober.
func IsWeb(p int) bool {
	return PlainHTTP[p] || TLSHTTP[p]
}

// Normalize deduplicates and sorts a port list, dropping out-of-range values.
func Normalize(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, p := range in {
		if p < 1 || p > 65535 || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
