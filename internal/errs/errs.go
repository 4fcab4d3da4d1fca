// Package errs defines the typed error taxonomy shared by every layer of
// the analytics service. Components return *Error values carrying a Kind;
// the orchestrator and the protocol adapters render them as user-facing
// messages without re-inspecting error strings.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure. The zero value is KindUnknown.
type Kind int

const (
	KindUnknown Kind = iota

	// KindCatalogInvalid covers malformed YAML, missing required fields,
	// grammar violations inside the catalog, and formula cycles. Fatal at
	// load; recoverable at runtime only through a reload.
	KindCatalogInvalid

	// KindCatalogMiss is a lookup of a metric, dimension, or dataset that
	// is not defined. Carries closest-name alternatives.
	KindCatalogMiss

	// KindInvalidInput is a user-supplied predicate, identifier, limit, or
	// order-by rejected by the grammar.
	KindInvalidInput

	// KindUnsafeExpression is a derived formula violating the restricted
	// arithmetic rules.
	KindUnsafeExpression

	// KindJoinUnresolvable means the planner found no join path between
	// two tables.
	KindJoinUnresolvable

	// KindDimensionUnresolvable means a templated dimension references a
	// column missing from its table.
	KindDimensionUnresolvable

	// KindBackend is a driver-reported failure. Carries the emitted
	// dialect text for diagnostics.
	KindBackend

	// KindTimeout is a deadline exceeded inside the driver call or the
	// conversation pipeline.
	KindTimeout

	// KindToolUnknown is a tool name missing from the adapter registry.
	KindToolUnknown

	// KindDashboardMissing references a dashboard artifact that does not
	// exist.
	KindDashboardMissing

	// KindRateLimited and KindUnauthorized surface only from the optional
	// role hook on the HTTP side.
	KindRateLimited
	KindUnauthorized
)

// String returns the canonical taxonomy name.
func (k Kind) String() string {
	switch k {
	case KindCatalogInvalid:
		return "CatalogInvalid"
	case KindCatalogMiss:
		return "CatalogMiss"
	case KindInvalidInput:
		return "InvalidInput"
	case KindUnsafeExpression:
		return "UnsafeExpression"
	case KindJoinUnresolvable:
		return "JoinUnresolvable"
	case KindDimensionUnresolvable:
		return "DimensionUnresolvable"
	case KindBackend:
		return "BackendError"
	case KindTimeout:
		return "Timeout"
	case KindToolUnknown:
		return "ToolUnknown"
	case KindDashboardMissing:
		return "DashboardMissing"
	case KindRateLimited:
		return "RateLimited"
	case KindUnauthorized:
		return "Unauthorized"
	default:
		return "Unknown"
	}
}

// Error is the typed failure value produced by the core.
type Error struct {
	Kind  Kind
	Title string // concise, user-facing headline
	Value string // the triggering value, already sanitized
	Hint  string // one actionable suggestion

	// Alternatives lists valid choices when the failure is a bad name
	// (closest metrics, defined dimensions, and so on).
	Alternatives []string

	err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Title != "" {
		b.WriteString(": ")
		b.WriteString(e.Title)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, " (%s)", e.Value)
	}
	if e.err != nil {
		b.WriteString(": ")
		b.WriteString(e.err.Error())
	}
	return b.String()
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.err }

// UserMessage renders the failure for end users: title, triggering value,
// one suggestion, and valid alternatives when known.
func (e *Error) UserMessage() string {
	var b strings.Builder
	title := e.Title
	if title == "" {
		title = e.Kind.String()
	}
	b.WriteString("**")
	b.WriteString(title)
	b.WriteString("**")
	if e.Value != "" {
		fmt.Fprintf(&b, "\n\nOffending value: `%s`", e.Value)
	}
	if e.Hint != "" {
		fmt.Fprintf(&b, "\n\nSuggestion: %s", e.Hint)
	}
	if len(e.Alternatives) > 0 {
		fmt.Fprintf(&b, "\n\nDid you mean: %s", strings.Join(e.Alternatives, ", "))
	}
	return b.String()
}

// New builds a typed error with no underlying cause.
func New(kind Kind, title string) *Error {
	return &Error{Kind: kind, Title: title}
}

// Newf builds a typed error with a formatted title.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Title: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and title to an underlying cause. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(err error, kind Kind, title string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Title: title, err: err}
}

// WithValue records the sanitized triggering value.
func (e *Error) WithValue(v string) *Error {
	e.Value = Sanitize(v)
	return e
}

// WithHint records the recovery suggestion.
func (e *Error) WithHint(h string) *Error {
	e.Hint = h
	return e
}

// WithAlternatives records the valid-choice list.
func (e *Error) WithAlternatives(alts ...string) *Error {
	e.Alternatives = alts
	return e
}

// KindOf walks the chain and reports the Kind of the outermost *Error,
// or KindUnknown when none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// AsError extracts the typed error from a chain, wrapping foreign errors
// as KindUnknown so callers always get a renderable value.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnknown, Title: "internal error", err: err}
}

const maxEchoLen = 120

// Sanitize caps and cleans a value before it is echoed back to the user.
// Control characters are stripped so log lines and markdown stay intact.
func Sanitize(v string) string {
	v = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, v)
	if len(v) > maxEchoLen {
		v = v[:maxEchoLen] + "…"
	}
	return v
}
