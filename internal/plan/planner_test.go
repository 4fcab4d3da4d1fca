package plan

import (
	"reflect"
	"testing"

	"datanerd/internal/catalog"
	"datanerd/internal/errs"
)

const planFixture = `
semantic_model:
  connection:
    backend: embedded-olap
    path: ./analytics.db
  metrics:
    - name: total_mrr
      display_name: Total MRR
      kind: simple
      table: subscriptions
      aggregation: sum
      column: subscription_amount
      filters:
        - "subscription_status = 'active'"
        - "billing_frequency = 'monthly'"
    - name: active_customers
      display_name: Active Customers
      kind: simple
      table: subscriptions
      aggregation: count_distinct
      column: customer_id
      filters:
        - "subscription_status = 'active'"
    - name: monthly_customer_count
      display_name: Monthly Customer Count
      kind: simple
      table: customer_snapshots
      aggregation: count_distinct
      column: customer_id
    - name: arpu
      display_name: ARPU
      kind: derived
      formula: total_mrr / active_customers
  dimensions:
    - name: customer_segment
      display_name: Customer Segment
      kind: categorical
      table: subscriptions
      column: customer_segment
    - name: snapshot_date
      display_name: Snapshot Date
      kind: temporal
      table: customer_snapshots
      column: snapshot_date
      granularity: day
    - name: snapshot_month
      display_name: Snapshot Month
      kind: temporal
      table: customer_snapshots
      sql_template: "strftime('%Y-%m', {{ Table }}.snapshot_date)"
      granularity: month
    - name: snapshot_quarter
      display_name: Snapshot Quarter
      kind: temporal
      table: customer_snapshots
      sql_template: "strftime('%Y', {{ Table }}.snapshot_date) || '-Q' || ((strftime('%m', {{ Table }}.snapshot_date) + 2) / 3)"
      granularity: quarter
    - name: region
      display_name: Office Region
      kind: categorical
      table: offices
      column: region
    - name: plan_tier
      display_name: Plan Tier
      kind: categorical
      table: billing_plans
      column: tier
      join_key: plan_id
    - name: broken_month
      display_name: Broken Month
      kind: temporal
      table: subscriptions
      sql_template: "strftime('%Y-%m', {{ Table }}.created_at)"
      granularity: month
`

func testPlanner(t *testing.T) *Planner {
	t.Helper()
	cat, err := catalog.Parse([]byte(planFixture))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return NewPlanner(cat)
}

func TestPlanSimpleNoDimensions(t *testing.T) {
	p := testPlanner(t)
	pl, err := p.Plan(Request{Metric: "total_mrr"})
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if pl.Derived() {
		t.Fatalf("total_mrr planned as derived")
	}
	q := pl.Query

	if got, want := q.Source, "subscriptions"; got != want {
		t.Errorf("Source = %q, want %q", got, want)
	}
	if len(q.Joins) != 0 {
		t.Errorf("Joins = %v, want none", q.Joins)
	}
	if len(q.Projections) != 0 {
		t.Errorf("Projections = %v, want none", q.Projections)
	}
	wantAgg := Aggregate{Func: "sum", Table: "t", Column: "subscription_amount", Alias: "total_mrr"}
	if q.Aggregate != wantAgg {
		t.Errorf("Aggregate = %+v, want %+v", q.Aggregate, wantAgg)
	}
	if got, want := len(q.Where), 2; got != want {
		t.Fatalf("len(Where) = %d, want %d", got, want)
	}
	for _, w := range q.Where {
		if w.Table != "t" {
			t.Errorf("metric filter on %q qualified as %q, want t", w.Pred.Column, w.Table)
		}
	}
	if len(q.GroupBy) != 0 {
		t.Errorf("GroupBy = %v, want none", q.GroupBy)
	}
	if q.OrderBy != nil {
		t.Errorf("OrderBy = %+v, want nil", q.OrderBy)
	}
	if got, want := q.Limit, DefaultLimit; got != want {
		t.Errorf("Limit = %d, want %d", got, want)
	}
}

func TestPlanTemporalDefaultOrdering(t *testing.T) {
	p := testPlanner(t)
	pl, err := p.Plan(Request{Metric: "monthly_customer_count", Dimensions: []string{"snapshot_month"}})
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	q := pl.Query

	if got, want := len(q.Projections), 1; got != want {
		t.Fatalf("len(Projections) = %d, want %d", got, want)
	}
	proj := q.Projections[0]
	if proj.Alias != "snapshot_month" {
		t.Errorf("Alias = %q, want snapshot_month", proj.Alias)
	}
	wantExpr := Expr{Kind: ExprDateFormat, Table: "t", Column: "snapshot_date", Format: "%Y-%m"}
	if proj.Expr != wantExpr {
		t.Errorf("Expr = %+v, want %+v", proj.Expr, wantExpr)
	}
	if !reflect.DeepEqual(q.GroupBy, []int{1}) {
		t.Errorf("GroupBy = %v, want [1]", q.GroupBy)
	}
	want := &Order{Alias: "snapshot_month", Desc: false}
	if !reflect.DeepEqual(q.OrderBy, want) {
		t.Errorf("OrderBy = %+v, want %+v", q.OrderBy, want)
	}
}

func TestPlanRejectsUnknownOrderAlias(t *testing.T) {
	p := testPlanner(t)
	_, err := p.Plan(Request{
		Metric:     "total_mrr",
		Dimensions: []string{"customer_segment"},
		Order:      &Order{Alias: "revenue", Desc: true},
	})
	if got := errs.KindOf(err); got != errs.KindInvalidInput {
		t.Fatalf("kind = %v, want InvalidInput", got)
	}
	e := errs.AsError(err)
	if want := []string{"total_mrr", "customer_segment"}; !reflect.DeepEqual(e.Alternatives, want) {
		t.Errorf("Alternatives = %v, want %v", e.Alternatives, want)
	}
}

func TestPlanQuarterProjection(t *testing.T) {
	p := testPlanner(t)
	pl, err := p.Plan(Request{Metric: "monthly_customer_count", Dimensions: []string{"snapshot_quarter"}})
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	got := pl.Query.Projections[0].Expr
	want := Expr{Kind: ExprQuarter, Table: "t", Column: "snapshot_date"}
	if got != want {
		t.Errorf("Expr = %+v, want %+v", got, want)
	}
}

func TestPlanJoinInference(t *testing.T) {
	p := testPlanner(t)
	pl, err := p.Plan(Request{Metric: "monthly_customer_count", Dimensions: []string{"customer_segment"}})
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	q := pl.Query

	wantJoin := Join{
		LeftTable: "customer_snapshots", LeftAlias: "t",
		RightTable: "subscriptions", RightAlias: "j1",
		Key: "customer_id",
	}
	if len(q.Joins) != 1 || q.Joins[0] != wantJoin {
		t.Fatalf("Joins = %+v, want [%+v]", q.Joins, wantJoin)
	}
	if got, want := q.Projections[0].Expr.Table, "j1"; got != want {
		t.Errorf("projection table = %q, want %q", got, want)
	}
}

func TestPlanJoinKeyOverride(t *testing.T) {
	p := testPlanner(t)
	pl, err := p.Plan(Request{Metric: "total_mrr", Dimensions: []string{"plan_tier"}})
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if got, want := pl.Query.Joins[0].Key, "plan_id"; got != want {
		t.Errorf("join key = %q, want %q (join_key override)", got, want)
	}
}

func TestPlanJoinUnresolvable(t *testing.T) {
	p := testPlanner(t)
	_, err := p.Plan(Request{Metric: "monthly_customer_count", Dimensions: []string{"region"}})
	if err == nil {
		t.Fatalf("Plan joined tables with no shared column")
	}
	if got, want := errs.KindOf(err), errs.KindJoinUnresolvable; got != want {
		t.Fatalf("kind = %v, want %v", got, want)
	}
}

func TestPlanDimensionUnresolvable(t *testing.T) {
	p := testPlanner(t)
	_, err := p.Plan(Request{Metric: "total_mrr", Dimensions: []string{"broken_month"}})
	if err == nil {
		t.Fatalf("Plan resolved a template over an undeclared column")
	}
	if got, want := errs.KindOf(err), errs.KindDimensionUnresolvable; got != want {
		t.Fatalf("kind = %v, want %v", got, want)
	}
}

func TestPlanFilterQualification(t *testing.T) {
	p := testPlanner(t)
	pl, err := p.Plan(Request{
		Metric:     "monthly_customer_count",
		Dimensions: []string{"customer_segment"},
		Filters:    []string{"customer_segment = 'SMB'", "tenure > 5"},
	})
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	byColumn := map[string]string{}
	for _, w := range pl.Query.Where {
		byColumn[w.Pred.Column] = w.Table
	}
	if got, want := byColumn["customer_segment"], "j1"; got != want {
		t.Errorf("customer_segment qualified as %q, want %q", got, want)
	}
	if got, want := byColumn["tenure"], ""; got != want {
		t.Errorf("undeclared column qualified as %q, want unqualified", got)
	}
}

func TestPlanRejectedFilter(t *testing.T) {
	p := testPlanner(t)
	_, err := p.Plan(Request{
		Metric:  "total_mrr",
		Filters: []string{"name = 'test'; DROP TABLE users; --"},
	})
	if err == nil {
		t.Fatalf("Plan accepted an injection filter")
	}
	e := errs.AsError(err)
	if e.Kind != errs.KindInvalidInput {
		t.Fatalf("kind = %v, want InvalidInput", e.Kind)
	}
	if got, want := e.Title, "Filter rejected"; got != want {
		t.Fatalf("Title = %q, want %q", got, want)
	}
}

func TestPlanLimitBounds(t *testing.T) {
	p := testPlanner(t)

	cases := []struct {
		limit   int
		want    int
		invalid bool
	}{
		{0, DefaultLimit, false},
		{1, 1, false},
		{MaxLimit, MaxLimit, false},
		{-1, 0, true},
		{MaxLimit + 1, 0, true},
	}
	for _, tc := range cases {
		pl, err := p.Plan(Request{Metric: "total_mrr", Limit: tc.limit})
		if tc.invalid {
			if err == nil {
				t.Errorf("limit %d accepted", tc.limit)
				continue
			}
			if got, want := errs.KindOf(err), errs.KindInvalidInput; got != want {
				t.Errorf("limit %d: kind = %v, want %v", tc.limit, got, want)
			}
			continue
		}
		if err != nil {
			t.Errorf("limit %d: %v", tc.limit, err)
			continue
		}
		if pl.Query.Limit != tc.want {
			t.Errorf("limit %d: Query.Limit = %d, want %d", tc.limit, pl.Query.Limit, tc.want)
		}
	}
}

func TestPlanOrderValidation(t *testing.T) {
	p := testPlanner(t)

	if _, err := p.Plan(Request{Metric: "total_mrr", Order: &Order{Alias: "total_mrr", Desc: true}}); err != nil {
		t.Errorf("order by metric rejected: %v", err)
	}
	if _, err := p.Plan(Request{
		Metric:     "total_mrr",
		Dimensions: []string{"customer_segment"},
		Order:      &Order{Alias: "customer_segment"},
	}); err != nil {
		t.Errorf("order by requested dimension rejected: %v", err)
	}

	_, err := p.Plan(Request{Metric: "total_mrr", Order: &Order{Alias: "snapshot_month"}})
	if err == nil {
		t.Fatalf("order by unrequested dimension accepted")
	}
	if got, want := errs.KindOf(err), errs.KindInvalidInput; got != want {
		t.Fatalf("kind = %v, want %v", got, want)
	}
}

func TestPlanDerived(t *testing.T) {
	p := testPlanner(t)
	pl, err := p.Plan(Request{Metric: "arpu", Dimensions: []string{"customer_segment"}})
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if !pl.Derived() {
		t.Fatalf("arpu planned as simple")
	}
	if pl.Query != nil {
		t.Errorf("derived plan carries a direct query")
	}
	if !reflect.DeepEqual(pl.InputOrder, []string{"total_mrr", "active_customers"}) {
		t.Fatalf("InputOrder = %v", pl.InputOrder)
	}
	for _, ref := range pl.InputOrder {
		sub := pl.Inputs[ref]
		if sub == nil {
			t.Fatalf("missing sub-plan for %q", ref)
		}
		if sub.Query == nil {
			t.Fatalf("sub-plan %q has no query", ref)
		}
		if got, want := sub.Query.Limit, MaxLimit; got != want {
			t.Errorf("sub-plan %q limit = %d, want ceiling %d", ref, got, want)
		}
		if !reflect.DeepEqual(sub.Request.Dimensions, []string{"customer_segment"}) {
			t.Errorf("sub-plan %q dimensions = %v", ref, sub.Request.Dimensions)
		}
	}
	if pl.Inputs["total_mrr"].Fingerprint == pl.Inputs["active_customers"].Fingerprint {
		t.Errorf("sub-plans share a fingerprint")
	}
}

func TestPlanDerivedMetricOrderNotPushedDown(t *testing.T) {
	p := testPlanner(t)
	pl, err := p.Plan(Request{
		Metric:     "arpu",
		Dimensions: []string{"customer_segment"},
		Order:      &Order{Alias: "arpu", Desc: true},
	})
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	for ref, sub := range pl.Inputs {
		if sub.Query.OrderBy != nil {
			t.Errorf("sub-plan %q ordered by %+v, want unordered", ref, sub.Query.OrderBy)
		}
	}
	if pl.Request.Order == nil || pl.Request.Order.Alias != "arpu" {
		t.Errorf("top-level order = %+v, want arpu desc", pl.Request.Order)
	}
}

func TestPlanDeterminism(t *testing.T) {
	p := testPlanner(t)
	req := Request{
		Metric:     "monthly_customer_count",
		Dimensions: []string{"snapshot_month", "customer_segment"},
		Filters:    []string{"customer_segment != 'SMB'"},
	}

	a, err := p.Plan(req)
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	b, err := p.Plan(req)
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("repeated planning diverged:\n%+v\n%+v", a, b)
	}
	if a.Fingerprint != b.Fingerprint {
		t.Fatalf("fingerprints diverged: %s vs %s", a.Fingerprint, b.Fingerprint)
	}
}

func TestPlanUnknownNames(t *testing.T) {
	p := testPlanner(t)

	_, err := p.Plan(Request{Metric: "total_mr"})
	if got, want := errs.KindOf(err), errs.KindCatalogMiss; got != want {
		t.Fatalf("unknown metric kind = %v, want %v", got, want)
	}

	_, err = p.Plan(Request{Metric: "total_mrr", Dimensions: []string{"segment"}})
	if got, want := errs.KindOf(err), errs.KindCatalogMiss; got != want {
		t.Fatalf("unknown dimension kind = %v, want %v", got, want)
	}

	_, err = p.Plan(Request{Metric: "total_mrr", Dimensions: []string{"customer_segment", "customer_segment"}})
	if got, want := errs.KindOf(err), errs.KindInvalidInput; got != want {
		t.Fatalf("duplicate dimension kind = %v, want %v", got, want)
	}
}
