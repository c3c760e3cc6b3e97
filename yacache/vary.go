package yacache

import (
	"sort"
	"strings"
)

// NormalizeHeaders lowercases header names, joins multi-valued headers with
// ", ", and drops entries with an empty value, producing the normalized form
// stored alongside a variant and compared against on read.
func NormalizeHeaders(headers map[string][]string) map[string]string {
	normalized := make(map[string]string, len(headers))

	for name, values := range headers {
		joined := strings.Join(values, ", ")
		if joined == "" {
			continue
		}

		normalized[strings.ToLower(name)] = joined
	}

	return normalized
}

// NormalizeVary applies the same normalization rules to an already
// single-valued Vary map, lowercasing keys and dropping empty values.
func NormalizeVary(vary map[string]string) map[string]string {
	normalized := make(map[string]string, len(vary))

	for name, value := range vary {
		if value == "" {
			continue
		}

		normalized[strings.ToLower(name)] = value
	}

	return normalized
}

// SortedVaryKeys returns the normalized Vary map's keys in ascending order,
// used to build the insertion-ordered JSON blob and for deterministic
// specificity comparisons.
func SortedVaryKeys(vary map[string]string) []string {
	keys := make([]string, 0, len(vary))
	for k := range vary {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// MatchesVary reports whether every entry of a stored identifier's Vary
// requirements is satisfied by the caller's normalized request headers. A
// zero-length Vary map always matches.
func MatchesVary(vary map[string]string, requestHeaders map[string]string) bool {
	for name, want := range vary {
		got, ok := requestHeaders[name]
		if !ok || got != want {
			return false
		}
	}

	return true
}
