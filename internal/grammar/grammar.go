// Package grammar enforces the restricted surface syntax for everything a
// user can type that ends up near a query: identifiers, filter predicates,
// and the literals inside them. Anything the grammar rejects never reaches
// the driver.
package grammar

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"datanerd/internal/errs"
)

const (
	maxIdentLen = 64
)

// IdentPattern is the identifier regexp in source form; tool boundaries
// stamp it onto their input schemas.
const IdentPattern = `^[A-Za-z_][A-Za-z0-9_]*$`

var identRe = regexp.MustCompile(IdentPattern)

// numberRe accepts signed decimal literals only. No exponents, no hex.
var numberRe = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)

// Operators accepted inside a filter predicate, longest first so the
// two-character forms win during scanning.
var operators = []string{"!=", ">=", "<=", "=", ">", "<"}

// Predicate is one validated filter clause. Value is the bind parameter
// the driver receives; it never travels as text.
type Predicate struct {
	Column string
	Op     string
	Value  any    // float64 or string
	Raw    string // trimmed original form, used for fingerprinting
}

// ValidateIdent checks a metric, dimension, column, or alias name.
func ValidateIdent(s string) error {
	if len(s) == 0 || len(s) > maxIdentLen {
		return errs.New(errs.KindInvalidInput, "Identifier rejected").
			WithValue(s).
			WithHint("identifiers are 1-64 characters, letters, digits, and underscores")
	}
	if !identRe.MatchString(s) {
		return errs.New(errs.KindInvalidInput, "Identifier rejected").
			WithValue(s).
			WithHint("identifiers start with a letter or underscore and contain only letters, digits, and underscores")
	}
	return nil
}

// forbidden substrings scanned before any parsing. Each entry names the
// token echoed back to the user.
var forbidden = []struct {
	seq  string
	name string
}{
	{"\x00", "null byte"},
	{";", ";"},
	{"--", "--"},
	{"/*", "/*"},
	{"*/", "*/"},
	{"`", "`"},
	{"\\", `\`},
}

// ValidatePredicate parses one filter clause of the form
// <identifier> <op> <literal>. The literal is either a signed decimal
// number or a single-quoted string where the only escape is a doubled
// quote. Anything else fails with InvalidInput carrying the offending
// token.
func ValidatePredicate(s string) (Predicate, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Predicate{}, reject("empty predicate")
	}
	for _, f := range forbidden {
		if strings.Contains(trimmed, f.seq) {
			return Predicate{}, reject(f.name)
		}
	}
	for _, r := range trimmed {
		if r < 0x20 || r == 0x7f {
			return Predicate{}, reject("control character")
		}
	}

	col, rest := scanIdent(trimmed)
	if col == "" {
		return Predicate{}, reject(firstToken(trimmed))
	}
	if err := ValidateIdent(col); err != nil {
		return Predicate{}, reject(col)
	}

	rest = strings.TrimLeft(rest, " \t")
	op := ""
	for _, cand := range operators {
		if strings.HasPrefix(rest, cand) {
			op = cand
			rest = rest[len(cand):]
			break
		}
	}
	if op == "" {
		return Predicate{}, reject(firstToken(rest))
	}

	rest = strings.TrimLeft(rest, " \t")
	value, err := parseLiteral(rest)
	if err != nil {
		return Predicate{}, reject(firstToken(rest))
	}

	return Predicate{Column: col, Op: op, Value: value, Raw: trimmed}, nil
}

// ValidatePredicates validates a full filter list, failing on the first
// bad clause. Clauses are AND-combined by the planner.
func ValidatePredicates(filters []string) ([]Predicate, error) {
	preds := make([]Predicate, 0, len(filters))
	for _, f := range filters {
		p, err := ValidatePredicate(f)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func scanIdent(s string) (ident, rest string) {
	i := 0
	for i < len(s) {
		c := s[i]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 0 && c >= '0' && c <= '9') {
			i++
			continue
		}
		break
	}
	return s[:i], s[i:]
}

// parseLiteral consumes the remainder of a predicate. It must be exactly
// one literal; trailing garbage is an error.
func parseLiteral(s string) (any, error) {
	if s == "" {
		return nil, errEmpty
	}
	if s[0] == '\'' {
		return parseQuoted(s)
	}
	if !numberRe.MatchString(s) {
		return nil, errBadLiteral
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errBadLiteral
	}
	return n, nil
}

// parseQuoted unquotes a single-quoted string where '' is the only escape.
// The literal must span the whole remaining input.
func parseQuoted(s string) (string, error) {
	var b strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		if c == '\'' {
			if i+1 < len(s) && s[i+1] == '\'' {
				b.WriteByte('\'')
				i += 2
				continue
			}
			if i != len(s)-1 {
				return "", errBadLiteral // closing quote before end of input
			}
			return b.String(), nil
		}
		b.WriteByte(c)
		i++
	}
	return "", errBadLiteral // unterminated
}

var (
	errEmpty      = errors.New("empty literal")
	errBadLiteral = errors.New("bad literal")
)

func reject(token string) error {
	return errs.New(errs.KindInvalidInput, "Filter rejected").
		WithValue(token).
		WithHint("filters take the form <column> <op> <literal>, ops = != > >= < <=, literal a number or 'quoted string'")
}

func firstToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(empty)"
	}
	if i := strings.IndexAny(s, " \t"); i > 0 {
		return s[:i]
	}
	return s
}
