// Package strings normalizes list-valued configuration.
package strings

import (
	"strings"
)

// DedupeAndTrim trims each value and drops empties and repeats, keeping the
// first occurrence. Order matters for probe endpoints, so it is preserved.
func DedupeAndTrim(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// SplitList parses a comma separated environment value such as
// "a:9092, b:9092,,a:9092".
func SplitList(s string) []string {
	return DedupeAndTrim(strings.Split(s, ","))
}
