// Package strings provides string-slice helpers for normalizing
// upstream input before it reaches the domain.
package strings

import "strings"

// NormalizeLabels trims, lowercases, and dedupes a label set, preserving
// first-seen order. GitHub matches labels case-insensitively and a sync
// pass can observe the same label twice across pages, so every observation
// is normalized before transitions are derived from it.
func NormalizeLabels(labels []string) []string {
	if len(labels) == 0 {
		return labels
	}

	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		norm := strings.ToLower(strings.TrimSpace(l))
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}
