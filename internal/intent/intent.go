// Package intent assigns an analytical intent to a free-text question and
// extracts candidate catalog entities. The ruleset is static and
// deterministic; swapping in a model behind Classify must not be
// observable by the rest of the pipeline.
package intent

import (
	"regexp"
	"strconv"
	"strings"

	"datanerd/internal/catalog"
	"datanerd/internal/logging"
)

// Intent labels the analytical shape of a question.
type Intent string

const (
	MetricQuery    Intent = "metric_query"
	TrendAnalysis  Intent = "trend_analysis"
	Comparison     Intent = "comparison"
	CohortAnalysis Intent = "cohort_analysis"
	TopN           Intent = "top_n"
	Filtering      Intent = "filtering"
	Unknown        Intent = "unknown"
)

// ConfidenceFloor is the cutoff below which the orchestrator answers with
// guidance instead of executing.
const ConfidenceFloor = 0.5

// FilterToken is a categorical value spotted in the question, tied to the
// dimension whose sample values mention it.
type FilterToken struct {
	Dimension string
	Value     string
}

// Understanding is the classifier output handed to the retriever.
type Understanding struct {
	Question      string
	Intent        Intent
	Confidence    float64
	Metrics       []string
	Dimensions    []string
	FilterTokens  []FilterToken
	TemporalHints []string
	TopN          int
}

// intentPatterns maps each intent to the phrases that vote for it. Votes
// are counted per phrase; ties break by rulePriority.
var intentPatterns = map[Intent][]string{
	TrendAnalysis: {
		"over time", "trend", "trending", "changing", "change over",
		"growth", "growing", "history", "evolution", "month over month",
		"time series", "progression",
	},
	Comparison: {
		"compare", "comparison", "versus", " vs ", "breakdown",
		"broken down", "split by", "across", "difference between",
	},
	TopN: {
		"top ", "best", "highest", "largest", "biggest", "leading",
		"bottom ", "lowest", "smallest", "worst",
	},
	CohortAnalysis: {
		"cohort", "signup", "sign-up", "signed up", "retention",
		"acquired", "joined",
	},
	Filtering: {
		"only ", "just the", "filter", "excluding", "except",
		"limited to",
	},
}

// rulePriority breaks score ties, most specific first.
var rulePriority = []Intent{CohortAnalysis, TopN, Comparison, TrendAnalysis, Filtering, MetricQuery}

var (
	topNRe  = regexp.MustCompile(`\b(?:top|bottom)\s+([0-9]+)\b`)
	byDimRe = regexp.MustCompile(`\bby\s+[a-z]`)
)

// temporalPhrases captures coarse scope tags only; translation is the
// planner's business, not the classifier's.
var temporalPhrases = []struct {
	phrase string
	tag    string
}{
	{"over time", "over_time"},
	{"month over month", "month_over_month"},
	{"year over year", "year_over_year"},
	{"last month", "last_month"},
	{"this month", "this_month"},
	{"last quarter", "last_quarter"},
	{"this quarter", "this_quarter"},
	{"last year", "last_year"},
	{"this year", "this_year"},
}

// Classifier matches questions against one catalog snapshot.
type Classifier struct {
	cat *catalog.Catalog
}

// NewClassifier wraps a catalog snapshot.
func NewClassifier(cat *catalog.Catalog) *Classifier {
	return &Classifier{cat: cat}
}

// Classify runs the ruleset over the question.
func (c *Classifier) Classify(question string) Understanding {
	q := strings.ToLower(strings.TrimSpace(question))

	u := Understanding{
		Question:      question,
		Metrics:       c.extractMetrics(q),
		Dimensions:    c.extractDimensions(q),
		FilterTokens:  c.extractFilterTokens(q),
		TemporalHints: extractTemporalHints(q),
		TopN:          extractTopN(q),
	}

	scores := map[Intent]int{}
	for it, phrases := range intentPatterns {
		for _, ph := range phrases {
			if strings.Contains(q, ph) {
				scores[it]++
			}
		}
	}
	if byDimRe.MatchString(q) {
		scores[Comparison]++
	}
	if u.TopN > 0 {
		scores[TopN]++
	}
	if len(u.FilterTokens) > 0 {
		scores[Filtering]++
	}
	for _, tag := range u.TemporalHints {
		if tag == "over_time" || tag == "month_over_month" || tag == "year_over_year" {
			scores[TrendAnalysis]++
		}
	}

	best, bestScore := MetricQuery, 0
	for _, it := range rulePriority {
		if scores[it] > bestScore {
			best, bestScore = it, scores[it]
		}
	}
	if bestScore == 0 {
		if len(u.Metrics) == 0 {
			best = Unknown
		} else {
			best = MetricQuery
		}
	}

	u.Intent = best
	u.Confidence = confidence(bestScore, len(u.Metrics) > 0, len(strings.Fields(q)))
	if u.Confidence < ConfidenceFloor {
		u.Intent = Unknown
	}

	logging.IntentDebug("classified %q as %s (confidence %.2f, metrics %v)",
		question, u.Intent, u.Confidence, u.Metrics)
	return u
}

// confidence calibrates on matched pattern count, entity presence, and
// question length. The floor sits at 0.5; a bare metric mention clears it,
// pattern-free chatter does not.
func confidence(patternMatches int, hasMetric bool, wordCount int) float64 {
	if patternMatches > 3 {
		patternMatches = 3
	}
	c := 0.25 + 0.25*float64(patternMatches)
	if hasMetric {
		c += 0.3
	}
	if wordCount <= 2 && patternMatches == 0 {
		c -= 0.1
	}
	if c > 0.95 {
		c = 0.95
	}
	if c < 0 {
		c = 0
	}
	return c
}

func extractTopN(q string) int {
	m := topNRe.FindStringSubmatch(q)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func extractTemporalHints(q string) []string {
	var tags []string
	for _, tp := range temporalPhrases {
		if strings.Contains(q, tp.phrase) {
			tags = append(tags, tp.tag)
		}
	}
	return tags
}
