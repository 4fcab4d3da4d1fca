// Package plan turns a metric request into a backend-independent logical
// query. The planner never emits SQL text; the driver compiles the Query
// into dialect form.
package plan

import (
	"datanerd/internal/catalog"
	"datanerd/internal/expr"
	"datanerd/internal/grammar"
)

// Limit bounds. A request outside them is rejected rather than clamped.
const (
	DefaultLimit = 1000
	MaxLimit     = 100000
)

// ExprKind enumerates the dialect-neutral projection expressions.
type ExprKind int

const (
	// ExprColumn is a plain qualified column reference.
	ExprColumn ExprKind = iota
	// ExprDateFormat formats a date column with a literal format string.
	ExprDateFormat
	// ExprQuarter renders a column as "YYYY-Qn".
	ExprQuarter
)

// Expr is one projection expression. Table is the query-local alias, not
// the physical table name.
type Expr struct {
	Kind   ExprKind
	Table  string
	Column string
	Format string // ExprDateFormat only
}

// Projection pairs an expression with its output alias.
type Projection struct {
	Expr  Expr
	Alias string
}

// Aggregate is the single aggregation a query computes.
type Aggregate struct {
	Func   string
	Table  string
	Column string
	Alias  string
}

// Join is one left-join step. Aliases are assigned deterministically in
// dimension order (t, j1, j2, ...).
type Join struct {
	LeftTable  string
	LeftAlias  string
	RightTable string
	RightAlias string
	Key        string
}

// Where is a validated predicate plus the alias that qualifies its column.
// Table is empty when no queried table declares the column; the identifier
// then reaches the text unqualified and the backend decides.
type Where struct {
	Pred  grammar.Predicate
	Table string
}

// Order names a projection alias and a direction.
type Order struct {
	Alias string
	Desc  bool
}

// Query is the logical form handed to the driver.
type Query struct {
	Source      string
	SourceAlias string
	Joins       []Join
	Projections []Projection
	Aggregate   Aggregate
	Where       []Where
	GroupBy     []int // 1-based ordinals over Projections
	OrderBy     *Order
	Limit       int
}

// Request is the planner input. A zero Limit selects DefaultLimit; a nil
// Order selects the temporal default when one applies.
type Request struct {
	Metric     string
	Dimensions []string
	Filters    []string
	Order      *Order
	Limit      int
}

// Plan is the planner output. Simple metrics carry a Query; derived
// metrics carry a Formula plus one sub-plan per referenced metric, to be
// aligned by dimension tuple at execution time.
type Plan struct {
	Metric      catalog.Metric
	Request     Request // normalized: limit and order resolved
	Fingerprint string

	Query *Query // simple path

	Formula    *expr.Node       // derived path
	Inputs     map[string]*Plan // keyed by referenced metric name
	InputOrder []string         // formula first-appearance order
}

// Derived reports whether execution must fan out into sub-queries.
func (p *Plan) Derived() bool { return p.Formula != nil }
