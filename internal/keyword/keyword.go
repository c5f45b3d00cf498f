// Package keyword implements the tracked-term matching applied during
// enrichment: pure functions over (text, active keyword set).
package keyword

import "strings"

// Extract returns the subset of active keyword terms contained in text,
// case-insensitive, preserving the order of the input set. No stemming:
// "Bitcoin" matches "bitcoins" by substring containment only.
func Extract(text string, active []string) []string {
	if text == "" || len(active) == 0 {
		return nil
	}

	lower := strings.ToLower(text)
	var matched []string
	for _, term := range active {
		if term == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			matched = append(matched, term)
		}
	}
	return matched
}

// Count returns the case-insensitive non-overlapping occurrence count of
// term in text.
func Count(text, term string) int {
	if text == "" || term == "" {
		return 0
	}
	return strings.Count(strings.ToLower(text), strings.ToLower(term))
}
