// Package interpret turns a row set into narrative, insights, follow-up
// suggestions, and a markdown table. Everything stated is arithmetic over
// the returned rows; nothing is inferred beyond them.
package interpret

import (
	"fmt"
	"strings"

	"datanerd/internal/catalog"
	"datanerd/internal/driver"
	"datanerd/internal/intent"
	"datanerd/internal/logging"
	"datanerd/internal/plan"
)

// tableCap is the number of rows rendered into the markdown table. The
// full row set stays on the Analysis for downstream use.
const tableCap = 50

// Analysis is the interpreted view of one query result.
type Analysis struct {
	Narrative string
	Insights  []string
	FollowUps []string
	Table     string
	Result    *driver.Result
}

// Interpreter renders against one catalog snapshot, for display names.
type Interpreter struct {
	cat *catalog.Catalog
}

// NewInterpreter wraps a catalog snapshot.
func NewInterpreter(cat *catalog.Catalog) *Interpreter {
	return &Interpreter{cat: cat}
}

// Interpret builds the full analysis for a completed query.
func (i *Interpreter) Interpret(it intent.Intent, req plan.Request, res *driver.Result) Analysis {
	timer := logging.StartTimer(logging.CategoryInterpret, "interpret")
	defer timer.Stop()

	a := Analysis{Result: res}
	a.Narrative = i.narrative(req, res)
	a.Insights = i.insights(it, req, res)
	a.FollowUps = i.followUps(it, req)
	a.Table = renderTable(res)
	return a
}

// narrative names the metric, the partition, and the range of values in
// one paragraph.
func (i *Interpreter) narrative(req plan.Request, res *driver.Result) string {
	metric := i.metricLabel(req.Metric)
	vi := metricColumn(res, req.Metric)

	if len(res.Rows) == 0 {
		return fmt.Sprintf("%s returned no rows for this query.", metric)
	}

	if len(req.Dimensions) == 0 {
		v := numeric(res.Rows[0][vi])
		return fmt.Sprintf("%s is %s.", metric, formatNumber(v))
	}

	partition := i.dimensionLabel(req.Dimensions[0])
	lo, hi := valueRange(res, vi)
	s := fmt.Sprintf("%s by %s across %d rows", metric, partition, len(res.Rows))
	if first, last, ok := spanLabels(res); ok {
		s += fmt.Sprintf(", from %s to %s", first, last)
	}
	s += fmt.Sprintf(", with values between %s and %s.", formatNumber(lo), formatNumber(hi))
	return s
}

// insights runs the deterministic calculators for the intent shape.
func (i *Interpreter) insights(it intent.Intent, req plan.Request, res *driver.Result) []string {
	vi := metricColumn(res, req.Metric)
	metric := i.metricLabel(req.Metric)

	if len(res.Rows) == 0 {
		return nil
	}

	if len(req.Dimensions) == 0 {
		return []string{fmt.Sprintf("%s stands at %s.", metric, formatNumber(numeric(res.Rows[0][vi])))}
	}

	switch it {
	case intent.TrendAnalysis, intent.CohortAnalysis:
		return trendInsights(metric, res, vi)
	default:
		return categoricalInsights(res, vi)
	}
}

// trendInsights compares the first and last points of the series. A flat
// series reads "a change of 0 (+0.0%)".
func trendInsights(metric string, res *driver.Result, vi int) []string {
	first := numeric(res.Rows[0][vi])
	last := numeric(res.Rows[len(res.Rows)-1][vi])
	delta := last - first

	var pct float64
	if first != 0 {
		pct = delta / first * 100
	}
	out := []string{fmt.Sprintf("%s moved from %s to %s, a change of %s (%s)",
		metric, formatNumber(first), formatNumber(last), formatNumber(delta), formatPercent(pct))}

	if lo, hi := valueRange(res, vi); hi != lo {
		out = append(out, fmt.Sprintf("The series spans %s to %s across %d periods",
			formatNumber(lo), formatNumber(hi), len(res.Rows)))
	}
	return out
}

// categoricalInsights reports the leader's share of the total plus the
// min/max span.
func categoricalInsights(res *driver.Result, vi int) []string {
	var total, max, min float64
	var maxLabel, minLabel string
	for idx, row := range res.Rows {
		v := numeric(row[vi])
		label := fmt.Sprint(row[0])
		total += v
		if idx == 0 || v > max {
			max, maxLabel = v, label
		}
		if idx == 0 || v < min {
			min, minLabel = v, label
		}
	}

	var out []string
	if total > 0 {
		out = append(out, fmt.Sprintf("%s leads with %.1f%% of total", maxLabel, max/total*100))
	}
	if len(res.Rows) > 1 {
		out = append(out, fmt.Sprintf("Values range from %s (%s) to %s (%s), a span of %s",
			formatNumber(min), minLabel, formatNumber(max), maxLabel, formatNumber(max-min)))
	}
	return out
}

// followUps fills the per-intent templates with the names actually used.
func (i *Interpreter) followUps(it intent.Intent, req plan.Request) []string {
	metric := i.metricLabel(req.Metric)
	dim := i.firstCategoricalLabel(req)

	switch it {
	case intent.TrendAnalysis, intent.CohortAnalysis:
		return []string{
			fmt.Sprintf("Compare %s by %s.", metric, dim),
			fmt.Sprintf("What were the top 5 %s values by %s?", dim, metric),
			fmt.Sprintf("Show %s for only one %s.", metric, dim),
		}
	case intent.Comparison, intent.TopN:
		return []string{
			fmt.Sprintf("How is %s changing over time?", metric),
			fmt.Sprintf("Show only the leading %s for %s.", dim, metric),
			fmt.Sprintf("What is the total %s?", metric),
			fmt.Sprintf("Break %s down further by another dimension.", metric),
		}
	default:
		return []string{
			fmt.Sprintf("How is %s changing over time?", metric),
			fmt.Sprintf("Compare %s by %s.", metric, dim),
			fmt.Sprintf("What are the top 5 %s values by %s?", dim, metric),
		}
	}
}

func (i *Interpreter) metricLabel(name string) string {
	if m, err := i.cat.Metric(name); err == nil && m.DisplayName != "" {
		return m.DisplayName
	}
	return name
}

func (i *Interpreter) dimensionLabel(name string) string {
	if d, err := i.cat.Dimension(name); err == nil && d.DisplayName != "" {
		return d.DisplayName
	}
	return name
}

// firstCategoricalLabel picks a dimension name to parameterize follow-ups:
// a requested categorical first, then any catalog categorical.
func (i *Interpreter) firstCategoricalLabel(req plan.Request) string {
	for _, name := range req.Dimensions {
		if d, err := i.cat.Dimension(name); err == nil && d.Kind == catalog.DimensionCategorical {
			return i.dimensionLabel(name)
		}
	}
	for _, d := range i.cat.Dimensions {
		if d.Kind == catalog.DimensionCategorical {
			return i.dimensionLabel(d.Name)
		}
	}
	if len(req.Dimensions) > 0 {
		return i.dimensionLabel(req.Dimensions[0])
	}
	return "dimension"
}

// metricColumn finds the aggregate column, falling back to the last one.
func metricColumn(res *driver.Result, metric string) int {
	for i, c := range res.Columns {
		if c == metric {
			return i
		}
	}
	return len(res.Columns) - 1
}

func valueRange(res *driver.Result, vi int) (lo, hi float64) {
	for idx, row := range res.Rows {
		v := numeric(row[vi])
		if idx == 0 || v < lo {
			lo = v
		}
		if idx == 0 || v > hi {
			hi = v
		}
	}
	return lo, hi
}

// spanLabels returns the first and last values of the leading dimension
// column, for "from X to Y" phrasing.
func spanLabels(res *driver.Result) (first, last string, ok bool) {
	if len(res.Rows) < 2 || len(res.Columns) < 2 {
		return "", "", false
	}
	return fmt.Sprint(res.Rows[0][0]), fmt.Sprint(res.Rows[len(res.Rows)-1][0]), true
}

// renderTable writes a markdown table of the first tableCap rows.
func renderTable(res *driver.Result) string {
	var b strings.Builder
	b.WriteString("| ")
	b.WriteString(strings.Join(res.Columns, " | "))
	b.WriteString(" |\n|")
	for range res.Columns {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")

	shown := len(res.Rows)
	if shown > tableCap {
		shown = tableCap
	}
	for _, row := range res.Rows[:shown] {
		b.WriteString("| ")
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString(" |\n")
	}
	if rest := len(res.Rows) - shown; rest > 0 {
		fmt.Fprintf(&b, "\n… and %d more rows\n", rest)
	}
	return b.String()
}
