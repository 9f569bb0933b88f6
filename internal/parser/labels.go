// Package parser turns raw spreadsheet content into normalized records.
package parser

import (
	"fmt"
	"strings"
)

// NormalizeLabels cleans a declared header row so every label is non-empty and
// unique. Blank or whitespace-only labels become "Column_<pos>" (1-based).
// Duplicates keep the first occurrence unchanged and suffix later ones with
// _1, _2, ... counted per distinct original label.
func NormalizeLabels(declared []string) []string {
	labels := make([]string, len(declared))
	seen := make(map[string]int, len(declared))

	for i, raw := range declared {
		label := strings.TrimSpace(raw)
		if label == "" {
			label = fmt.Sprintf("Column_%d", i+1)
		}
		if n, dup := seen[label]; dup {
			seen[label] = n + 1
			label = fmt.Sprintf("%s_%d", label, n)
		} else {
			seen[label] = 1
		}
		labels[i] = label
	}
	return labels
}
