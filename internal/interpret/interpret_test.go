package interpret

import (
	"fmt"
	"strings"
	"testing"

	"datanerd/internal/catalog"
	"datanerd/internal/driver"
	"datanerd/internal/intent"
	"datanerd/internal/plan"
)

const interpretFixture = `
semantic_model:
  metrics:
    - name: total_mrr
      display_name: Total MRR
      kind: simple
      table: subscriptions
      column: subscription_amount
      aggregation: sum
    - name: monthly_customer_count
      display_name: Monthly Customer Count
      kind: simple
      table: customer_snapshots
      column: customer_id
      aggregation: count_distinct
  dimensions:
    - name: customer_segment
      display_name: Customer Segment
      kind: categorical
      table: subscriptions
      column: customer_segment
    - name: snapshot_month
      display_name: Snapshot Month
      kind: temporal
      granularity: month
      table: customer_snapshots
      sql_template: "strftime('%Y-%m', {{ Table }}.snapshot_date)"
  connection:
    backend: embedded-olap
    path: ./analytics.db
`

func interpreterForTest(t *testing.T) *Interpreter {
	t.Helper()
	cat, err := catalog.Parse([]byte(interpretFixture))
	if err != nil {
		t.Fatalf("Parse fixture: %v", err)
	}
	return NewInterpreter(cat)
}

func resultOf(columns []string, rows [][]any) *driver.Result {
	return &driver.Result{RowSet: driver.RowSet{Columns: columns, Rows: rows}}
}

func TestInterpretScalar(t *testing.T) {
	i := interpreterForTest(t)

	a := i.Interpret(intent.MetricQuery,
		plan.Request{Metric: "total_mrr"},
		resultOf([]string{"total_mrr"}, [][]any{{45000.0}}))

	if want := "Total MRR is 45,000."; a.Narrative != want {
		t.Fatalf("Narrative = %q, want %q", a.Narrative, want)
	}
	if len(a.FollowUps) < 3 || len(a.FollowUps) > 5 {
		t.Fatalf("len(FollowUps) = %d, want 3..5", len(a.FollowUps))
	}
}

func TestInterpretFlatTrendDelta(t *testing.T) {
	i := interpreterForTest(t)

	var rows [][]any
	for m := 1; m <= 13; m++ {
		rows = append(rows, []any{fmt.Sprintf("2025-%02d", m), int64(100)})
	}
	a := i.Interpret(intent.TrendAnalysis,
		plan.Request{Metric: "monthly_customer_count", Dimensions: []string{"snapshot_month"}},
		resultOf([]string{"snapshot_month", "monthly_customer_count"}, rows))

	if len(a.Insights) == 0 {
		t.Fatal("Insights is empty")
	}
	if !strings.Contains(a.Insights[0], "0 (+0.0%)") {
		t.Fatalf("Insights[0] = %q, want it to contain %q", a.Insights[0], "0 (+0.0%)")
	}
}

func TestInterpretTrendDeltas(t *testing.T) {
	i := interpreterForTest(t)

	cases := []struct {
		first, last int64
		want        string
	}{
		{100, 112, "12 (+12.0%)"},
		{100, 88, "-12 (-12.0%)"},
		{0, 50, "50 (+0.0%)"},
	}
	for _, tc := range cases {
		rows := [][]any{{"2025-01", tc.first}, {"2025-02", tc.last}}
		a := i.Interpret(intent.TrendAnalysis,
			plan.Request{Metric: "monthly_customer_count", Dimensions: []string{"snapshot_month"}},
			resultOf([]string{"snapshot_month", "monthly_customer_count"}, rows))
		if !strings.Contains(a.Insights[0], tc.want) {
			t.Fatalf("Insights[0] = %q, want it to contain %q", a.Insights[0], tc.want)
		}
	}
}

func TestInterpretLeaderShare(t *testing.T) {
	i := interpreterForTest(t)

	rows := [][]any{
		{"Enterprise", 24000.0},
		{"Mid-Market", 12000.0},
		{"SMB", 9000.0},
	}
	a := i.Interpret(intent.Comparison,
		plan.Request{Metric: "total_mrr", Dimensions: []string{"customer_segment"}},
		resultOf([]string{"customer_segment", "total_mrr"}, rows))

	if len(a.Insights) < 2 {
		t.Fatalf("Insights = %v, want leader share and span", a.Insights)
	}
	if want := "Enterprise leads with 53.3% of total"; a.Insights[0] != want {
		t.Fatalf("Insights[0] = %q, want %q", a.Insights[0], want)
	}
	if want := "Values range from 9,000 (SMB) to 24,000 (Enterprise), a span of 15,000"; a.Insights[1] != want {
		t.Fatalf("Insights[1] = %q, want %q", a.Insights[1], want)
	}
}

func TestInterpretGroupedNarrative(t *testing.T) {
	i := interpreterForTest(t)

	rows := [][]any{
		{"2024-11", int64(100)},
		{"2025-11", int64(100)},
	}
	a := i.Interpret(intent.TrendAnalysis,
		plan.Request{Metric: "monthly_customer_count", Dimensions: []string{"snapshot_month"}},
		resultOf([]string{"snapshot_month", "monthly_customer_count"}, rows))

	for _, frag := range []string{"Monthly Customer Count", "Snapshot Month", "from 2024-11 to 2025-11"} {
		if !strings.Contains(a.Narrative, frag) {
			t.Fatalf("Narrative = %q, want it to contain %q", a.Narrative, frag)
		}
	}
}

func TestInterpretTableCap(t *testing.T) {
	i := interpreterForTest(t)

	var rows [][]any
	for n := 0; n < tableCap+10; n++ {
		rows = append(rows, []any{fmt.Sprintf("g%02d", n), int64(n)})
	}
	a := i.Interpret(intent.Comparison,
		plan.Request{Metric: "total_mrr", Dimensions: []string{"customer_segment"}},
		resultOf([]string{"customer_segment", "total_mrr"}, rows))

	if !strings.Contains(a.Table, "g49") {
		t.Fatal("Table is missing the 50th row")
	}
	if strings.Contains(a.Table, "g50") {
		t.Fatal("Table shows rows past the cap")
	}
	if !strings.Contains(a.Table, "… and 10 more rows") {
		t.Fatalf("Table = %q, want the overflow note", a.Table)
	}
	if len(a.Result.Rows) != tableCap+10 {
		t.Fatalf("Result.Rows = %d, want the full set preserved", len(a.Result.Rows))
	}
}

func TestInterpretEmptyRows(t *testing.T) {
	i := interpreterForTest(t)

	a := i.Interpret(intent.MetricQuery,
		plan.Request{Metric: "total_mrr"},
		resultOf([]string{"total_mrr"}, nil))

	if !strings.Contains(a.Narrative, "no rows") {
		t.Fatalf("Narrative = %q, want a no-rows statement", a.Narrative)
	}
	if len(a.Insights) != 0 {
		t.Fatalf("Insights = %v, want none", a.Insights)
	}
}

func TestFormatNumber(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{45000, "45,000"},
		{-4500, "-4,500"},
		{1234567.5, "1,234,567.50"},
		{12.25, "12.25"},
	}
	for _, tc := range cases {
		if got := formatNumber(tc.in); got != tc.want {
			t.Fatalf("formatNumber(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatPercent(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "+0.0%"},
		{12, "+12.0%"},
		{-10.7, "-10.7%"},
	}
	for _, tc := range cases {
		if got := formatPercent(tc.in); got != tc.want {
			t.Fatalf("formatPercent(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
