package ui

import (
	"sort"
	"strings"
)

// Suggest returns up to limit candidates close to target, nearest first.
// Candidates are close when their edit distance is at most a third of the
// target length (minimum 2) or when one contains the other.
func Suggest(target string, candidates []string, limit int) []string {
	t := strings.ToLower(target)
	threshold := max(2, len(t)/3)

	type scored struct {
		value string
		dist  int
	}
	var matches []scored
	for _, c := range candidates {
		lc := strings.ToLower(c)
		if lc == t {
			continue
		}
		d := Distance(t, lc)
		if d > threshold && !strings.Contains(lc, t) && !strings.Contains(t, lc) {
			continue
		}
		matches = append(matches, scored{c, d})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].dist < matches[j].dist })

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.value
	}
	return out
}

// Distance is the Levenshtein distance between a and b, by rune.
func Distance(a, b string) int {
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
