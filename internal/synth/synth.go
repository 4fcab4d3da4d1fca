// Package synth turns a classified question plus a ranked metric pick
// into a concrete query request. Each intent carries its own shape:
// grouping, ordering, and row limits.
package synth

import (
	"fmt"
	"strings"

	"datanerd/internal/catalog"
	"datanerd/internal/errs"
	"datanerd/internal/intent"
	"datanerd/internal/logging"
	"datanerd/internal/plan"
	"datanerd/internal/retrieval"
)

// Row limits per intent shape. Zero leaves the planner default in force.
const (
	DefaultTopN     = 10
	ComparisonLimit = 100
	CohortLimit     = 50
)

// cohortNameHints mark temporal dimensions that track when an entity
// arrived rather than when it was observed.
var cohortNameHints = []string{"signup", "sign_up", "cohort", "joined", "start", "acquired"}

// Synthesizer builds query requests against one catalog snapshot.
type Synthesizer struct {
	cat *catalog.Catalog
}

// NewSynthesizer wraps a catalog snapshot.
func NewSynthesizer(cat *catalog.Catalog) *Synthesizer {
	return &Synthesizer{cat: cat}
}

// Synthesize shapes the request for the candidate metric. It returns
// InvalidInput with guidance when the intent needs a dimension kind the
// catalog cannot supply for this metric.
func (s *Synthesizer) Synthesize(u intent.Understanding, c retrieval.Candidate) (plan.Request, error) {
	m := c.Metric
	req := plan.Request{Metric: m.Name}

	switch u.Intent {
	case intent.MetricQuery:
		req.Dimensions = append(req.Dimensions, u.Dimensions...)

	case intent.Filtering:
		req.Dimensions = append(req.Dimensions, u.Dimensions...)

	case intent.TrendAnalysis:
		temporal := s.pickTemporal(c, m)
		if temporal == "" {
			return plan.Request{}, errs.Newf(errs.KindInvalidInput,
				"no time dimension available for %q", m.Name).
				WithHint("declare a temporal dimension on the metric's table, or ask for a snapshot value instead of a trend")
		}
		req.Dimensions = prepend(temporal, u.Dimensions)
		req.Order = &plan.Order{Alias: temporal}

	case intent.CohortAnalysis:
		temporal := s.pickCohortTemporal(c, m)
		if temporal == "" {
			return plan.Request{}, errs.Newf(errs.KindInvalidInput,
				"no cohort dimension available for %q", m.Name).
				WithHint("declare a temporal dimension such as a signup month to group cohorts by")
		}
		req.Dimensions = prepend(temporal, u.Dimensions)
		req.Order = &plan.Order{Alias: temporal}
		req.Limit = CohortLimit

	case intent.Comparison:
		grouping := s.pickCategorical(u, m)
		if grouping == "" {
			return plan.Request{}, errs.Newf(errs.KindInvalidInput,
				"no categorical dimension available to compare %q across", m.Name).
				WithHint("name a dimension, for example \"by customer segment\"")
		}
		req.Dimensions = prepend(grouping, u.Dimensions)
		req.Order = &plan.Order{Alias: m.Name, Desc: true}
		req.Limit = ComparisonLimit

	case intent.TopN:
		grouping := s.pickCategorical(u, m)
		if grouping == "" {
			return plan.Request{}, errs.Newf(errs.KindInvalidInput,
				"no categorical dimension available to rank %q by", m.Name).
				WithHint("name a dimension, for example \"top 5 segments\"")
		}
		n := u.TopN
		if n == 0 {
			n = DefaultTopN
		}
		req.Dimensions = prepend(grouping, u.Dimensions)
		req.Order = &plan.Order{Alias: m.Name, Desc: true}
		req.Limit = n

	default:
		return plan.Request{}, errs.New(errs.KindInvalidInput,
			"could not work out what to query").
			WithHint("name a metric, for example \"total_mrr by customer_segment\"")
	}

	req.Filters = s.filters(u)

	logging.SynthDebug("synthesized %s request for %s: dims=%v filters=%d limit=%d",
		u.Intent, req.Metric, req.Dimensions, len(req.Filters), req.Limit)
	return req, nil
}

// pickTemporal prefers the retriever's dataset pick, then any temporal
// dimension the metric can reach.
func (s *Synthesizer) pickTemporal(c retrieval.Candidate, m catalog.Metric) string {
	if c.TimeDimension != "" {
		return c.TimeDimension
	}
	for _, d := range s.cat.Dimensions {
		if d.Kind == catalog.DimensionTemporal && retrieval.Reachable(s.cat, m, d) {
			return d.Name
		}
	}
	return ""
}

// pickCohortTemporal prefers arrival-style dimensions over observation
// ones, falling back to the plain temporal pick.
func (s *Synthesizer) pickCohortTemporal(c retrieval.Candidate, m catalog.Metric) string {
	for _, d := range s.cat.Dimensions {
		if d.Kind != catalog.DimensionTemporal || !retrieval.Reachable(s.cat, m, d) {
			continue
		}
		name := strings.ToLower(d.Name)
		for _, hint := range cohortNameHints {
			if strings.Contains(name, hint) {
				return d.Name
			}
		}
	}
	return s.pickTemporal(c, m)
}

// pickCategorical honors an explicitly requested categorical dimension
// even when its join looks infeasible; the planner reports that honestly.
// The fallback scan considers reachable dimensions only.
func (s *Synthesizer) pickCategorical(u intent.Understanding, m catalog.Metric) string {
	for _, name := range u.Dimensions {
		d, err := s.cat.Dimension(name)
		if err == nil && d.Kind == catalog.DimensionCategorical {
			return name
		}
	}
	for _, d := range s.cat.Dimensions {
		if d.Kind == catalog.DimensionCategorical && retrieval.Reachable(s.cat, m, d) {
			return d.Name
		}
	}
	return ""
}

// filters renders spotted sample values as equality predicates on the
// owning dimension's column. Template dimensions expose no plain column
// to compare against, so their tokens are logged and skipped.
func (s *Synthesizer) filters(u intent.Understanding) []string {
	var out []string
	for _, tok := range u.FilterTokens {
		d, err := s.cat.Dimension(tok.Dimension)
		if err != nil || d.Column == "" {
			logging.SynthDebug("dropping filter token %q: dimension %s has no plain column",
				tok.Value, tok.Dimension)
			continue
		}
		val := strings.ReplaceAll(tok.Value, "'", "''")
		out = append(out, fmt.Sprintf("%s = '%s'", d.Column, val))
	}
	return out
}

// prepend puts the chosen grouping first and keeps any other requested
// dimensions behind it, without duplicating the pick.
func prepend(chosen string, requested []string) []string {
	out := []string{chosen}
	for _, d := range requested {
		if d != chosen {
			out = append(out, d)
		}
	}
	return out
}
