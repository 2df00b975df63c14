// Package strings provides name normalization helpers shared by the
// membership and naming rules.
package strings

import (
	"strings"
)

// NormalizeName trims surrounding whitespace and collapses inner runs of
// whitespace to one space.
//
// Example:
//
//	NormalizeName("  Board   of  Directors ")
//	// Returns: "Board of Directors"
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// FoldKey returns the comparison key used for case-insensitive uniqueness.
func FoldKey(name string) string {
	return strings.ToLower(NormalizeName(name))
}

// FirstDuplicate returns the first value that repeats an earlier one,
// comparing with key. Order is preserved so the error names the value the
// caller saw second.
//
// Example:
//
//	FirstDuplicate([]string{"a", "b", "A"}, FoldKey)
//	// Returns: "A", true
func FirstDuplicate(values []string, key func(string) string) (string, bool) {
	if key == nil {
		key = func(s string) string { return s }
	}
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		k := key(v)
		if _, ok := seen[k]; ok {
			return v, true
		}
		seen[k] = struct{}{}
	}
	return "", false
}
