package intent

import (
	"regexp"
	"sort"
	"strings"
)

// maxCandidates caps how many metric or dimension names the classifier
// forwards; the retriever re-ranks, it does not need the long tail.
const maxCandidates = 3

// candidate scores one catalog entity against the question. Exact name
// mentions outrank token overlap; catalog order breaks remaining ties.
type candidate struct {
	name    string
	exact   bool
	overlap int
	index   int
}

func rank(cands []candidate) []string {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].exact != cands[j].exact {
			return cands[i].exact
		}
		if cands[i].overlap != cands[j].overlap {
			return cands[i].overlap > cands[j].overlap
		}
		return cands[i].index < cands[j].index
	})
	var names []string
	for _, c := range cands {
		names = append(names, c.name)
		if len(names) == maxCandidates {
			break
		}
	}
	return names
}

func (c *Classifier) extractMetrics(q string) []string {
	qTokens := tokenSet(q)
	var cands []candidate
	for i, m := range c.cat.Metrics {
		cand := candidate{name: m.Name, index: i}
		cand.exact = mentions(q, m.Name) || mentions(q, m.DisplayName)
		cand.overlap = overlap(qTokens, m.Name, m.DisplayName)
		if cand.exact || cand.overlap > 0 {
			cands = append(cands, cand)
		}
	}
	return rank(cands)
}

// byPhraseRe grabs the words following "by", the usual way a question
// names its grouping dimension.
var byPhraseRe = regexp.MustCompile(`\bby\s+((?:[a-z]+[ .,?]*){1,3})`)

// extractDimensions is stricter than metric extraction: a single shared
// token like "customer" must not drag a grouping dimension into every
// question that mentions customers. A dimension qualifies when named
// verbatim, when two of its tokens appear, or when any of its tokens
// follows "by".
func (c *Classifier) extractDimensions(q string) []string {
	qTokens := tokenSet(q)
	byTokens := map[string]bool{}
	if m := byPhraseRe.FindStringSubmatch(q); m != nil {
		byTokens = tokenSet(m[1])
	}
	var cands []candidate
	for i, d := range c.cat.Dimensions {
		cand := candidate{name: d.Name, index: i}
		cand.exact = mentions(q, d.Name) || mentions(q, d.DisplayName)
		cand.overlap = overlap(qTokens, d.Name, d.DisplayName)
		byOverlap := overlap(byTokens, d.Name, d.DisplayName)
		if cand.exact || cand.overlap >= 2 || byOverlap >= 1 {
			cands = append(cands, cand)
		}
	}
	return rank(cands)
}

// extractFilterTokens matches declared sample values against the question.
// Values keep their catalog casing so predicates compare against what the
// warehouse actually stores.
func (c *Classifier) extractFilterTokens(q string) []FilterToken {
	var tokens []FilterToken
	seen := map[string]bool{}
	for _, d := range c.cat.Dimensions {
		for _, v := range d.SampleValues {
			lv := strings.ToLower(v)
			if lv == "" || seen[d.Name+"\x00"+lv] {
				continue
			}
			if containsWord(q, lv) {
				tokens = append(tokens, FilterToken{Dimension: d.Name, Value: v})
				seen[d.Name+"\x00"+lv] = true
			}
		}
	}
	return tokens
}

// Mentioned reports whether the question names the entity verbatim, by
// catalog name or display name. The retriever scores verbatim mentions
// above fuzzy extraction.
func Mentioned(question, name, displayName string) bool {
	q := strings.ToLower(question)
	return mentions(q, name) || mentions(q, displayName)
}

// mentions reports whether the question contains the name verbatim, with
// underscores read as spaces.
func mentions(q, name string) bool {
	if name == "" {
		return false
	}
	name = strings.ToLower(name)
	if containsWord(q, name) {
		return true
	}
	spaced := strings.ReplaceAll(name, "_", " ")
	return spaced != name && containsWord(q, spaced)
}

// containsWord is a word-boundary substring check; "mrr" must not match
// inside "mrrx".
func containsWord(q, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(q[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		if (start == 0 || !isWordByte(q[start-1])) && (end == len(q) || !isWordByte(q[end])) {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// overlap counts distinct name tokens that also appear in the question.
// Single-token hits shorter than three bytes are ignored; "of" matching
// "count of" says nothing.
func overlap(qTokens map[string]bool, names ...string) int {
	nameTokens := map[string]bool{}
	for _, n := range names {
		for _, t := range tokenize(n) {
			nameTokens[t] = true
		}
	}
	count := 0
	for t := range nameTokens {
		if len(t) < 3 {
			continue
		}
		if qTokens[t] {
			count++
		}
	}
	return count
}

func tokenSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, t := range tokenize(s) {
		set[t] = true
	}
	return set
}

// tokenize lowercases, splits on non-word bytes, and trims a plural
// trailing s so "customers" meets "customer".
func tokenize(s string) []string {
	s = strings.ToLower(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
	var tokens []string
	for _, f := range fields {
		for _, part := range strings.Split(f, "_") {
			part = singular(part)
			if part != "" {
				tokens = append(tokens, part)
			}
		}
	}
	return tokens
}

func singular(tok string) string {
	if len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss") {
		return tok[:len(tok)-1]
	}
	return tok
}
