package catalog

import (
	"sort"
	"strings"
)

const (
	maxSuggestions    = 3
	maxEditDistance   = 3
	minLenForDistance = 3
)

func (c *Catalog) suggestMetrics(name string) []string {
	names := make([]string, len(c.Metrics))
	for i, m := range c.Metrics {
		names[i] = m.Name
	}
	return suggest(name, names)
}

func (c *Catalog) suggestDimensions(name string) []string {
	names := make([]string, len(c.Dimensions))
	for i, d := range c.Dimensions {
		names[i] = d.Name
	}
	return suggest(name, names)
}

// suggest picks the closest candidates for a missed lookup: prefix and
// substring hits first (catalog order), then small edit distances.
func suggest(input string, candidates []string) []string {
	input = strings.ToLower(input)
	var out []string
	used := make(map[string]bool)

	add := func(name string) bool {
		if used[name] {
			return len(out) < maxSuggestions
		}
		used[name] = true
		out = append(out, name)
		return len(out) < maxSuggestions
	}

	for _, cand := range candidates {
		lc := strings.ToLower(cand)
		if strings.HasPrefix(lc, input) || strings.Contains(lc, input) || strings.Contains(input, lc) {
			if !add(cand) {
				return out
			}
		}
	}

	if len(input) < minLenForDistance {
		return out
	}
	type scored struct {
		name string
		dist int
	}
	var near []scored
	for _, cand := range candidates {
		if used[cand] {
			continue
		}
		if d := editDistance(input, strings.ToLower(cand)); d <= maxEditDistance {
			near = append(near, scored{cand, d})
		}
	}
	sort.SliceStable(near, func(i, j int) bool { return near[i].dist < near[j].dist })
	for _, s := range near {
		if !add(s.name) {
			break
		}
	}
	return out
}

// editDistance is plain Levenshtein with two rolling rows.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
