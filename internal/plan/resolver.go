package plan

import (
	"datanerd/internal/catalog"
	"datanerd/internal/errs"
)

// resolveDimension translates a dimension into a projection expression
// against the given table alias. Templated dimensions must reference a
// column the catalog declares for the dimension's table; the check runs
// here, at query time, because the catalog accepts templates whose source
// column only appears inside the template text.
func resolveDimension(cat *catalog.Catalog, dim catalog.Dimension, alias string) (Expr, error) {
	if dim.Column != "" {
		return Expr{Kind: ExprColumn, Table: alias, Column: dim.Column}, nil
	}

	tpl, err := catalog.ParseTemplate(dim.SQLTemplate)
	if err != nil {
		return Expr{}, err
	}
	if !cat.TableHasColumn(dim.Table, tpl.Column) {
		return Expr{}, errs.Newf(errs.KindDimensionUnresolvable,
			"dimension %q references column %q which is not declared for table %q",
			dim.Name, tpl.Column, dim.Table).
			WithValue(tpl.Column).
			WithHint("declare the column on another catalog entry for this table, or fix the sql_template")
	}

	switch tpl.Kind {
	case catalog.TemplateQuarter:
		return Expr{Kind: ExprQuarter, Table: alias, Column: tpl.Column}, nil
	default:
		return Expr{Kind: ExprDateFormat, Table: alias, Column: tpl.Column, Format: tpl.Format}, nil
	}
}
