// Package retrieval ranks catalog metrics against a classified question.
// The retriever only reorders what the classifier extracted; it never
// invents a metric the question did not at least fuzzily name.
package retrieval

import (
	"fmt"
	"sort"

	"datanerd/internal/catalog"
	"datanerd/internal/intent"
	"datanerd/internal/logging"
)

// Scoring weights. Verbatim mentions dominate; the boosts reorder between
// near-equal candidates without ever outvoting an exact name.
const (
	weightExactMention = 1.0
	weightFuzzyMention = 0.6
	boostIntentFit     = 0.3
	boostDatasetFit    = 0.2
	boostSessionRecent = 0.15
	boostRecentDim     = 0.05
)

// Candidate is a ranked metric pick with the evidence behind it.
type Candidate struct {
	Metric catalog.Metric
	Score  float64

	// Dataset is the canonical dataset backing the pick, when one covers
	// the requested dimensions.
	Dataset string

	// TimeDimension is the temporal dimension adopted for trend and
	// cohort defaults, from the dataset or the metric's own table.
	TimeDimension string

	Reasons []string
}

// Retriever ranks against one catalog snapshot.
type Retriever struct {
	cat *catalog.Catalog
}

// NewRetriever wraps a catalog snapshot.
func NewRetriever(cat *catalog.Catalog) *Retriever {
	return &Retriever{cat: cat}
}

// Rank scores the classifier's metric candidates. recentMetrics and
// recentDims carry the session's recently queried metric and dimension
// names, most recent first. An empty return means the question named
// nothing rankable and the caller should answer with guidance rather
// than guess.
func (r *Retriever) Rank(u intent.Understanding, recentMetrics, recentDims []string) []Candidate {
	timer := logging.StartTimer(logging.CategoryRetrieval, "rank")
	defer timer.Stop()

	if len(u.Metrics) == 0 {
		return nil
	}

	recentSet := map[string]bool{}
	for _, name := range recentMetrics {
		recentSet[name] = true
	}

	var out []Candidate
	for _, name := range u.Metrics {
		m, err := r.cat.Metric(name)
		if err != nil {
			continue
		}
		c := Candidate{Metric: m}

		if intent.Mentioned(u.Question, m.Name, m.DisplayName) {
			c.Score = weightExactMention
			c.Reasons = append(c.Reasons, "named in question")
		} else {
			c.Score = weightFuzzyMention
			c.Reasons = append(c.Reasons, "fuzzy match on question")
		}

		if ds, ok := r.datasetFor(m.Name, u.Dimensions); ok {
			c.Score += boostDatasetFit
			c.Dataset = ds.Name
			c.TimeDimension = ds.TimeDimension
			c.Reasons = append(c.Reasons, fmt.Sprintf("member of dataset %s", ds.Name))
		}

		if fit, timeDim := r.intentFit(u.Intent, m); fit {
			c.Score += boostIntentFit
			c.Reasons = append(c.Reasons, fmt.Sprintf("fits %s", u.Intent))
			if c.TimeDimension == "" {
				c.TimeDimension = timeDim
			}
		}

		if recentSet[m.Name] {
			c.Score += boostSessionRecent
			c.Reasons = append(c.Reasons, "queried earlier in session")
		}

		// Dimension recency blends in at a lower weight than metric
		// recency: serving the conversation's current slicing matters,
		// but never outvotes a named metric.
		for _, name := range recentDims {
			d, err := r.cat.Dimension(name)
			if err != nil {
				continue
			}
			if Reachable(r.cat, m, d) {
				c.Score += boostRecentDim
				c.Reasons = append(c.Reasons, fmt.Sprintf("serves recent dimension %s", d.Name))
				break
			}
		}

		out = append(out, c)
	}

	if len(out) == 0 {
		return nil
	}

	// Catalog declaration order breaks score ties.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return r.cat.MetricIndex(out[i].Metric.Name) < r.cat.MetricIndex(out[j].Metric.Name)
	})

	logging.RetrievalDebug("ranked %d candidates for %q, best %s (%.2f)",
		len(out), u.Question, out[0].Metric.Name, out[0].Score)
	return out
}

// datasetFor finds the first canonical dataset holding the metric whose
// dimensions cover every requested one.
func (r *Retriever) datasetFor(metric string, requested []string) (catalog.Dataset, bool) {
	for _, ds := range r.cat.Datasets {
		if !contains(ds.Metrics, metric) {
			continue
		}
		covered := true
		for _, d := range requested {
			if !contains(ds.Dimensions, d) {
				covered = false
				break
			}
		}
		if covered {
			return ds, true
		}
	}
	return catalog.Dataset{}, false
}

// intentFit checks that the catalog can serve the intent's shape: trend
// and cohort need a reachable temporal dimension, comparison and top_n a
// categorical one. Scalar intents always fit.
func (r *Retriever) intentFit(it intent.Intent, m catalog.Metric) (bool, string) {
	switch it {
	case intent.TrendAnalysis, intent.CohortAnalysis:
		for _, d := range r.cat.Dimensions {
			if d.Kind == catalog.DimensionTemporal && Reachable(r.cat, m, d) {
				return true, d.Name
			}
		}
		return false, ""
	case intent.Comparison, intent.TopN:
		for _, d := range r.cat.Dimensions {
			if d.Kind == catalog.DimensionCategorical && Reachable(r.cat, m, d) {
				return true, ""
			}
		}
		return false, ""
	default:
		return true, ""
	}
}

// Reachable reports whether the dimension's table can serve the metric:
// same table, an inferable join, or an explicit join_key. Derived metrics
// defer to their inputs at planning time, so any dimension is reachable.
func Reachable(cat *catalog.Catalog, m catalog.Metric, d catalog.Dimension) bool {
	if m.Kind == catalog.MetricDerived {
		return true
	}
	if d.Table == m.Table || d.JoinKey != "" {
		return true
	}
	_, ok := cat.CommonColumn(m.Table, d.Table)
	return ok
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
