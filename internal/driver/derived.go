package driver

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"datanerd/internal/errs"
	"datanerd/internal/expr"
	"datanerd/internal/plan"
)

// ExecFn runs one plan and returns its result. Derived execution takes it
// as a callback so the caller can interpose caching per fingerprint and
// recurse when a sub-plan is itself derived.
type ExecFn func(ctx context.Context, p *plan.Plan) (*Result, error)

// ExecuteDerived fans out the sub-plans of a derived metric concurrently,
// aligns the sub-results by dimension tuple, and combines them row-wise
// through the formula. A tuple missing from a sub-result contributes zero.
// Metric-valued ordering and the requested limit apply after combination.
func ExecuteDerived(ctx context.Context, p *plan.Plan, exec ExecFn) (*Result, error) {
	if !p.Derived() {
		return nil, errs.Newf(errs.KindBackend, "metric %q is not derived", p.Metric.Name)
	}
	start := time.Now()

	results := make([]*Result, len(p.InputOrder))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range p.InputOrder {
		sub := p.Inputs[ref]
		g.Go(func() error {
			r, err := exec(gctx, sub)
			if err != nil {
				return fmt.Errorf("sub-query %q: %w", ref, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dimCount := len(p.Request.Dimensions)

	// First-seen tuple order across sub-results is the canonical row order;
	// the shared dimension ordering on the sub-queries keeps it stable.
	var order []string
	dimsByKey := map[string][]any{}
	valuesByInput := make([]map[string]float64, len(results))

	for i, res := range results {
		vals := make(map[string]float64, len(res.Rows))
		for _, row := range res.Rows {
			if len(row) < dimCount+1 {
				return nil, errs.Newf(errs.KindBackend,
					"sub-result for %q returned %d columns, want at least %d",
					p.InputOrder[i], len(row), dimCount+1)
			}
			key := tupleKey(row[:dimCount])
			if _, seen := dimsByKey[key]; !seen {
				dimsByKey[key] = append([]any(nil), row[:dimCount]...)
				order = append(order, key)
			}
			vals[key] = numeric(row[dimCount])
		}
		valuesByInput[i] = vals
	}

	// A scalar query always yields its single tuple, even over no rows.
	if dimCount == 0 && len(order) == 0 {
		order = append(order, "")
		dimsByKey[""] = nil
	}

	columns := append(append([]string{}, p.Request.Dimensions...), p.Metric.Name)
	rows := make([][]any, 0, len(order))
	for _, key := range order {
		vars := make(map[string]float64, len(p.InputOrder))
		for i, ref := range p.InputOrder {
			vars[ref] = valuesByInput[i][key]
		}
		v, err := expr.Eval(p.Formula, vars)
		if err != nil {
			return nil, err
		}
		row := append(append([]any{}, dimsByKey[key]...), v)
		rows = append(rows, row)
	}

	if ord := p.Request.Order; ord != nil {
		idx := -1
		for i, c := range columns {
			if c == ord.Alias {
				idx = i
			}
		}
		if idx >= 0 {
			sort.SliceStable(rows, func(i, j int) bool {
				c := compareValues(rows[i][idx], rows[j][idx])
				if ord.Desc {
					return c > 0
				}
				return c < 0
			})
		}
	}

	if p.Request.Limit > 0 && len(rows) > p.Request.Limit {
		rows = rows[:p.Request.Limit]
	}

	texts := make([]string, len(results))
	var params []any
	for i, res := range results {
		texts[i] = res.SQL
		params = append(params, res.Params...)
	}

	return &Result{
		RowSet:  RowSet{Columns: columns, Rows: rows},
		SQL:     strings.Join(texts, "\n"),
		Params:  params,
		Elapsed: time.Since(start),
	}, nil
}

func tupleKey(dims []any) string {
	if len(dims) == 0 {
		return ""
	}
	var b strings.Builder
	for i, v := range dims {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		fmt.Fprintf(&b, "%v", v)
	}
	return b.String()
}

func numeric(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// compareValues orders numerics numerically and everything else by string
// form; ISO date strings sort correctly either way.
func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
