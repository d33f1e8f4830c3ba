package ui

import (
	"sort"
	"strings"
)

// DefaultMaxDistance is the largest edit distance FindSimilar accepts
const DefaultMaxDistance = 3

// FindSimilar returns up to limit candidates within DefaultMaxDistance
// edits of target, closest first. Matching ignores case.
//
//	FindSimilar("Persn", []string{"Person", "Company", "Case"}, 3)
//	// ["Person"]
func FindSimilar(target string, candidates []string, limit int) []string {
	type match struct {
		value    string
		distance int
	}

	var matches []match
	for _, candidate := range candidates {
		d := LevenshteinDistance(strings.ToLower(target), strings.ToLower(candidate))
		if d <= DefaultMaxDistance {
			matches = append(matches, match{value: candidate, distance: d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].distance < matches[j].distance
	})

	out := make([]string, 0, limit)
	for i := 0; i < len(matches) && i < limit; i++ {
		out = append(out, matches[i].value)
	}
	return out
}

// LevenshteinDistance is the number of single-rune insertions, deletions
// or substitutions turning a into b
func LevenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
