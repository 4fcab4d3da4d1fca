package catalog

import (
	"regexp"

	"datanerd/internal/errs"
	"datanerd/internal/grammar"
)

// TemplateKind discriminates the two first-class sql_template shapes.
type TemplateKind int

const (
	// TemplateStrftime is strftime('<fmt>', {{ Table }}.<col>).
	TemplateStrftime TemplateKind = iota
	// TemplateQuarter is the year || '-Q' || quarter-number computation.
	TemplateQuarter
)

// Template is the parsed form of a dimension sql_template. The driver
// compiles it from primitives; raw template text never reaches the
// emitted statement.
type Template struct {
	Kind   TemplateKind
	Format string // strftime format literal, TemplateStrftime only
	Column string // referenced column on the dimension's table
}

var (
	// The format literal is restricted to strftime verbs and plain
	// punctuation so the emitted statement stays free of anything the
	// predicate grammar would reject.
	strftimeRe = regexp.MustCompile(
		`^strftime\(\s*'([%A-Za-z0-9_:. /-]+)'\s*,\s*\{\{\s*Table\s*\}\}\.([A-Za-z_][A-Za-z0-9_]*)\s*\)$`)
	quarterRe = regexp.MustCompile(
		`^strftime\(\s*'%Y'\s*,\s*\{\{\s*Table\s*\}\}\.([A-Za-z_][A-Za-z0-9_]*)\s*\)\s*\|\|\s*'-Q'\s*\|\|\s*\(\s*\(\s*strftime\(\s*'%m'\s*,\s*\{\{\s*Table\s*\}\}\.([A-Za-z_][A-Za-z0-9_]*)\s*\)\s*\+\s*2\s*\)\s*/\s*3\s*\)$`)
)

// ParseTemplate recognizes the two supported template shapes. The quarter
// shape is matched first because it embeds strftime calls.
func ParseTemplate(tmpl string) (*Template, error) {
	if m := quarterRe.FindStringSubmatch(tmpl); m != nil {
		if m[1] != m[2] {
			return nil, errs.New(errs.KindCatalogInvalid, "quarter template references two different columns").
				WithValue(m[1] + " vs " + m[2])
		}
		if err := grammar.ValidateIdent(m[1]); err != nil {
			return nil, err
		}
		return &Template{Kind: TemplateQuarter, Column: m[1]}, nil
	}
	if m := strftimeRe.FindStringSubmatch(tmpl); m != nil {
		if err := grammar.ValidateIdent(m[2]); err != nil {
			return nil, err
		}
		return &Template{Kind: TemplateStrftime, Format: m[1], Column: m[2]}, nil
	}
	return nil, errs.New(errs.KindCatalogInvalid, "unsupported sql_template shape").
		WithValue(tmpl).
		WithHint("supported shapes: strftime('<fmt>', {{ Table }}.<col>) and the year || '-Q' || quarter form")
}
