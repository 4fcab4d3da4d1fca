package driver

import (
	"fmt"
	"strconv"
	"strings"

	"datanerd/internal/errs"
	"datanerd/internal/plan"
)

var aggregateSQL = map[string]string{
	"sum":            "SUM(%s)",
	"count":          "COUNT(%s)",
	"count_distinct": "COUNT(DISTINCT %s)",
	"avg":            "AVG(%s)",
	"min":            "MIN(%s)",
	"max":            "MAX(%s)",
}

// Compile renders a logical query in the SQLite dialect. Every identifier
// in the text has already passed the identifier grammar; every predicate
// literal travels as a bind parameter.
func (d *sqliteDriver) Compile(q *plan.Query) (string, []any, error) {
	var b strings.Builder
	var params []any

	b.WriteString("SELECT ")
	for _, p := range q.Projections {
		ex, err := renderExpr(p.Expr)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(ex)
		b.WriteString(" AS ")
		b.WriteString(p.Alias)
		b.WriteString(", ")
	}

	aggTmpl, ok := aggregateSQL[q.Aggregate.Func]
	if !ok {
		return "", nil, errs.Newf(errs.KindBackend, "aggregation %q has no SQLite rendering", q.Aggregate.Func)
	}
	b.WriteString(fmt.Sprintf(aggTmpl, q.Aggregate.Table+"."+q.Aggregate.Column))
	b.WriteString(" AS ")
	b.WriteString(q.Aggregate.Alias)

	b.WriteString(" FROM ")
	b.WriteString(q.Source)
	b.WriteString(" ")
	b.WriteString(q.SourceAlias)

	for _, j := range q.Joins {
		b.WriteString(" LEFT JOIN ")
		b.WriteString(j.RightTable)
		b.WriteString(" ")
		b.WriteString(j.RightAlias)
		b.WriteString(" ON ")
		b.WriteString(j.LeftAlias)
		b.WriteString(".")
		b.WriteString(j.Key)
		b.WriteString(" = ")
		b.WriteString(j.RightAlias)
		b.WriteString(".")
		b.WriteString(j.Key)
	}

	for i, w := range q.Where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		if w.Table != "" {
			b.WriteString(w.Table)
			b.WriteString(".")
		}
		b.WriteString(w.Pred.Column)
		b.WriteString(" ")
		b.WriteString(w.Pred.Op)
		b.WriteString(" ?")
		params = append(params, w.Pred.Value)
	}

	if len(q.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, ord := range q.GroupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strconv.Itoa(ord))
		}
	}

	if q.OrderBy != nil {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy.Alias)
		if q.OrderBy.Desc {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}

	if q.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.Limit))
	}

	return b.String(), params, nil
}

func renderExpr(e plan.Expr) (string, error) {
	qualified := e.Table + "." + e.Column
	switch e.Kind {
	case plan.ExprColumn:
		return qualified, nil
	case plan.ExprDateFormat:
		return fmt.Sprintf("strftime('%s', %s)", e.Format, qualified), nil
	case plan.ExprQuarter:
		return fmt.Sprintf(
			"strftime('%%Y', %[1]s) || '-Q' || CAST((CAST(strftime('%%m', %[1]s) AS INTEGER) + 2) / 3 AS TEXT)",
			qualified), nil
	default:
		return "", errs.Newf(errs.KindBackend, "projection kind %d has no SQLite rendering", e.Kind)
	}
}
