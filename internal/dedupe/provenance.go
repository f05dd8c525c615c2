package dedupe

import (
	"slices"
	"strings"
)

// SplitSources parses a comma-joined source set, dropping blanks.
func SplitSources(set string) []string {
	if set == "" {
		return nil
	}
	parts := strings.Split(set, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinSources renders tags as a sorted, de-duplicated, comma-joined set.
func JoinSources(tags []string) string {
	sorted := slices.Clone(tags)
	slices.Sort(sorted)
	return strings.Join(slices.Compact(sorted), ",")
}

// HasSource reports whether tag is a member of set.
func HasSource(set, tag string) bool {
	return slices.Contains(SplitSources(set), tag)
}

// Combine adds incoming to existing. When incoming is already a member the set
// is returned unchanged and added is false.
func Combine(existing, incoming string) (merged string, added bool) {
	if HasSource(existing, incoming) {
		return existing, false
	}
	return JoinSources(append(SplitSources(existing), incoming)), true
}
