package plan

import (
	"fmt"

	"datanerd/internal/catalog"
	"datanerd/internal/errs"
	"datanerd/internal/expr"
	"datanerd/internal/grammar"
	"datanerd/internal/logging"
)

// Planner builds logical queries against one catalog snapshot. Build a new
// planner after a reload; the snapshot keeps a whole turn self-consistent.
type Planner struct {
	cat *catalog.Catalog
}

// NewPlanner wraps a catalog snapshot.
func NewPlanner(cat *catalog.Catalog) *Planner {
	return &Planner{cat: cat}
}

// Plan validates the request and produces a Plan. Simple metrics yield a
// single Query; derived metrics yield sub-plans per referenced metric with
// the same dimensions and filters.
func (p *Planner) Plan(req Request) (*Plan, error) {
	timer := logging.StartTimer(logging.CategoryPlan, "plan "+req.Metric)
	defer timer.Stop()

	metric, err := p.cat.Metric(req.Metric)
	if err != nil {
		return nil, err
	}

	limit, err := normalizeLimit(req.Limit)
	if err != nil {
		return nil, err
	}

	dims, err := p.lookupDimensions(req.Dimensions)
	if err != nil {
		return nil, err
	}

	preds, err := grammar.ValidatePredicates(req.Filters)
	if err != nil {
		return nil, err
	}
	rawFilters := make([]string, len(preds))
	for i, pr := range preds {
		rawFilters[i] = pr.Raw
	}

	order, err := resolveOrder(req.Order, metric, dims)
	if err != nil {
		return nil, err
	}

	norm := Request{
		Metric:     metric.Name,
		Dimensions: req.Dimensions,
		Filters:    rawFilters,
		Order:      order,
		Limit:      limit,
	}
	fp := Fingerprint(p.cat.Connection.Backend, metric.Name, req.Dimensions, rawFilters, order, limit)

	out := &Plan{Metric: metric, Request: norm, Fingerprint: fp}

	switch metric.Kind {
	case catalog.MetricSimple:
		q, err := p.buildQuery(metric, dims, preds, order, limit)
		if err != nil {
			return nil, err
		}
		out.Query = q
	case catalog.MetricDerived:
		if err := p.buildDerived(out, metric, req, order); err != nil {
			return nil, err
		}
	default:
		return nil, errs.Newf(errs.KindCatalogInvalid, "metric %q has unknown kind %q", metric.Name, metric.Kind)
	}

	logging.PlanDebug("planned %s: fingerprint=%s derived=%v", metric.Name, fp[:12], out.Derived())
	return out, nil
}

// buildQuery assembles the logical query for a simple metric.
func (p *Planner) buildQuery(metric catalog.Metric, dims []catalog.Dimension, userPreds []grammar.Predicate, order *Order, limit int) (*Query, error) {
	q := &Query{
		Source:      metric.Table,
		SourceAlias: "t",
		Limit:       limit,
		OrderBy:     order,
	}

	// One join per distinct foreign table, in dimension order.
	aliases := map[string]string{metric.Table: "t"}
	for _, d := range dims {
		if _, ok := aliases[d.Table]; ok {
			continue
		}
		key := d.JoinKey
		if key == "" {
			common, ok := p.cat.CommonColumn(metric.Table, d.Table)
			if !ok {
				return nil, errs.Newf(errs.KindJoinUnresolvable,
					"no join path between %q and %q", metric.Table, d.Table).
					WithValue(metric.Table + " <-> " + d.Table).
					WithHint("declare a shared column on both tables in the catalog, or set join_key on the dimension")
			}
			key = common
		}
		alias := fmt.Sprintf("j%d", len(q.Joins)+1)
		aliases[d.Table] = alias
		q.Joins = append(q.Joins, Join{
			LeftTable:  metric.Table,
			LeftAlias:  "t",
			RightTable: d.Table,
			RightAlias: alias,
			Key:        key,
		})
	}

	// Dimension projections precede the aggregate; GROUP BY is ordinal.
	for i, d := range dims {
		ex, err := resolveDimension(p.cat, d, aliases[d.Table])
		if err != nil {
			return nil, err
		}
		q.Projections = append(q.Projections, Projection{Expr: ex, Alias: d.Name})
		q.GroupBy = append(q.GroupBy, i+1)
	}

	q.Aggregate = Aggregate{
		Func:   metric.Aggregation,
		Table:  "t",
		Column: metric.Column,
		Alias:  metric.Name,
	}

	// Metric-definition filters first, then user filters.
	metricPreds, err := grammar.ValidatePredicates(metric.Filters)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindCatalogInvalid,
			fmt.Sprintf("metric %q carries an invalid filter", metric.Name))
	}
	for _, pr := range metricPreds {
		q.Where = append(q.Where, Where{Pred: pr, Table: p.qualify(q, pr.Column)})
	}
	for _, pr := range userPreds {
		q.Where = append(q.Where, Where{Pred: pr, Table: p.qualify(q, pr.Column)})
	}

	return q, nil
}

// buildDerived attaches the formula and one sub-plan per referenced metric.
// Sub-queries inherit dimensions and filters; metric-valued ordering and the
// requested limit are applied after alignment, so sub-plans run unordered by
// value and wide open to the ceiling.
func (p *Planner) buildDerived(out *Plan, metric catalog.Metric, req Request, order *Order) error {
	node, err := expr.Parse(metric.Formula)
	if err != nil {
		return errs.Wrap(err, errs.KindCatalogInvalid,
			fmt.Sprintf("metric %q carries an invalid formula", metric.Name))
	}
	out.Formula = node
	out.InputOrder = node.Vars()
	out.Inputs = make(map[string]*Plan, len(out.InputOrder))

	subOrder := order
	if order != nil && order.Alias == metric.Name {
		subOrder = nil
	}

	for _, ref := range out.InputOrder {
		sub, err := p.Plan(Request{
			Metric:     ref,
			Dimensions: req.Dimensions,
			Filters:    req.Filters,
			Order:      subOrder,
			Limit:      MaxLimit,
		})
		if err != nil {
			return fmt.Errorf("sub-plan for %q: %w", ref, err)
		}
		out.Inputs[ref] = sub
	}
	return nil
}

// qualify picks the alias whose table declares the column, source first.
// An undeclared column stays unqualified and the backend resolves it.
func (p *Planner) qualify(q *Query, column string) string {
	if p.cat.TableHasColumn(q.Source, column) {
		return q.SourceAlias
	}
	for _, j := range q.Joins {
		if p.cat.TableHasColumn(j.RightTable, column) {
			return j.RightAlias
		}
	}
	return ""
}

func (p *Planner) lookupDimensions(names []string) ([]catalog.Dimension, error) {
	dims := make([]catalog.Dimension, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, errs.Newf(errs.KindInvalidInput, "dimension %q requested twice", name).
				WithValue(name)
		}
		seen[name] = true
		d, err := p.cat.Dimension(name)
		if err != nil {
			return nil, err
		}
		dims = append(dims, d)
	}
	return dims, nil
}

func normalizeLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultLimit, nil
	}
	if limit < 0 || limit > MaxLimit {
		return 0, errs.Newf(errs.KindInvalidInput, "limit %d is outside the allowed range 1..%d", limit, MaxLimit).
			WithValue(fmt.Sprintf("%d", limit)).
			WithHint(fmt.Sprintf("use a limit between 1 and %d, or omit it for the default %d", MaxLimit, DefaultLimit))
	}
	return limit, nil
}

// resolveOrder validates an explicit order or derives the temporal default:
// no explicit order plus at least one temporal dimension sorts ascending by
// the first temporal dimension.
func resolveOrder(requested *Order, metric catalog.Metric, dims []catalog.Dimension) (*Order, error) {
	if requested != nil {
		if requested.Alias == metric.Name {
			return requested, nil
		}
		valid := make([]string, 0, len(dims)+1)
		valid = append(valid, metric.Name)
		for _, d := range dims {
			if d.Name == requested.Alias {
				return requested, nil
			}
			valid = append(valid, d.Name)
		}
		return nil, errs.Newf(errs.KindInvalidInput, "order_by %q does not name the metric or a requested dimension", requested.Alias).
			WithValue(requested.Alias).
			WithAlternatives(valid...)
	}
	for _, d := range dims {
		if d.Temporal() {
			return &Order{Alias: d.Name, Desc: false}, nil
		}
	}
	return nil, nil
}
