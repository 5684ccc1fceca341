// Package chapters parses discovery dumps into a labeled, deduplicated
// chapter set.
package chapters

import (
	"fmt"
	"sort"
	"strings"
)

// Chapter is one discovered installment of a series.
type Chapter struct {
	URL   string `json:"url"`
	Label string `json:"name"`
}

// Label renders a chapter ordinal as a stable display label. The integer
// part is zero padded to four digits and any single fractional part is
// kept verbatim, so ordinals sort lexically in numeric order.
func Label(ordinal string) string {
	parts := strings.Split(ordinal, ".")
	var padded string
	switch len(parts) {
	case 1:
		padded = zeroPad(parts[0])
	case 2:
		padded = zeroPad(parts[0]) + "." + parts[1]
	default:
		padded = ordinal
	}
	return "Chapter " + padded
}

func zeroPad(value string) string {
	if len(value) >= 4 {
		return value
	}
	return strings.Repeat("0", 4-len(value)) + value
}

// Resolve deduplicates chapters by URL, renames label collisions in
// first-seen order, and sorts the result by label.
func Resolve(discovered []Chapter) []Chapter {
	seenURLs := make(map[string]struct{}, len(discovered))
	unique := make([]Chapter, 0, len(discovered))
	for _, chapter := range discovered {
		if _, ok := seenURLs[chapter.URL]; ok {
			continue
		}
		seenURLs[chapter.URL] = struct{}{}
		unique = append(unique, chapter)
	}

	labelCounts := make(map[string]int, len(unique))
	for i := range unique {
		label := unique[i].Label
		count := labelCounts[label]
		if count > 0 {
			unique[i].Label = fmt.Sprintf("%s (Part %d)", label, count+1)
		}
		labelCounts[label] = count + 1
	}

	sort.Slice(unique, func(i, j int) bool {
		return unique[i].Label < unique[j].Label
	})
	return unique
}

// Labels returns the label list of a chapter set in order.
func Labels(chapters []Chapter) []string {
	labels := make([]string, 0, len(chapters))
	for _, chapter := range chapters {
		labels = append(labels, chapter.Label)
	}
	return labels
}
