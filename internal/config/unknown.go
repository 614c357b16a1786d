package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownGlobalKeys are the valid flat top-level keys in the config file
// (outside of `[[source]]` tables, which are validated by their own
// struct tags via strict TOML decoding).
var knownGlobalKeys = map[string]bool{
	"connect_timeout": true, "read_timeout": true, "tls": true,
	"level": true, "format": true, "file": true,
}

var knownGlobalKeysList = sortedKeys(knownGlobalKeys)

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with "did you mean?" suggestions. Undecoded keys under a `source`
// table are reported by their dotted key path, which carries no table
// index.
func checkUnknownKeys(md *toml.MetaData) error {
	var msgs []string

	for _, key := range md.Undecoded() {
		parts := key.String()

		field := parts
		if idx := strings.LastIndex(parts, "."); idx >= 0 {
			field = parts[idx+1:]
		}

		if strings.HasPrefix(parts, "network.") || strings.HasPrefix(parts, "logging.") {
			if knownGlobalKeys[field] {
				continue
			}
		}

		suggestion := closestMatch(field, knownGlobalKeysList)
		if suggestion != "" {
			msgs = append(msgs, fmt.Sprintf("unknown config key %q — did you mean %q?", parts, suggestion))
		} else {
			msgs = append(msgs, fmt.Sprintf("unknown config key %q", parts))
		}
	}

	if len(msgs) == 0 {
		return nil
	}

	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// closestMatch finds the closest known key by Levenshtein distance, or ""
// if nothing is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings using the
// single-row optimization to avoid allocating a full matrix.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
