package grammar

import (
	"reflect"
	"strings"
	"testing"

	"datanerd/internal/errs"
)

func TestValidateIdent(t *testing.T) {
	valid := []string{"a", "total_mrr", "_private", "Col9", "snapshot_month"}
	for _, s := range valid {
		if err := ValidateIdent(s); err != nil {
			t.Errorf("ValidateIdent(%q) = %v, want nil", s, err)
		}
	}

	invalid := []string{"", "9lives", "with-dash", "a b", "tbl.col", strings.Repeat("x", 65), "semi;colon"}
	for _, s := range invalid {
		err := ValidateIdent(s)
		if err == nil {
			t.Errorf("ValidateIdent(%q) = nil, want error", s)
			continue
		}
		if got, want := errs.KindOf(err), errs.KindInvalidInput; got != want {
			t.Errorf("ValidateIdent(%q) kind = %v, want %v", s, got, want)
		}
	}
}

func TestValidatePredicateAccepts(t *testing.T) {
	cases := []struct {
		in   string
		want Predicate
	}{
		{
			in:   "subscription_status = 'active'",
			want: Predicate{Column: "subscription_status", Op: "=", Value: "active", Raw: "subscription_status = 'active'"},
		},
		{
			in:   "amount >= 100.5",
			want: Predicate{Column: "amount", Op: ">=", Value: 100.5, Raw: "amount >= 100.5"},
		},
		{
			in:   "delta != -3",
			want: Predicate{Column: "delta", Op: "!=", Value: -3.0, Raw: "delta != -3"},
		},
		{
			in:   "name = 'O''Brien'",
			want: Predicate{Column: "name", Op: "=", Value: "O'Brien", Raw: "name = 'O''Brien'"},
		},
		{
			in:   "  padded < 7  ",
			want: Predicate{Column: "padded", Op: "<", Value: 7.0, Raw: "padded < 7"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ValidatePredicate(tc.in)
			if err != nil {
				t.Fatalf("ValidatePredicate(%q) error: %v", tc.in, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ValidatePredicate(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestValidatePredicateRejects(t *testing.T) {
	bad := []string{
		"name = 'test'; DROP TABLE users; --",
		"a = 1 OR 1=1",
		"a = 'unterminated",
		"a = 'trailing' x",
		"a == 2",
		"a LIKE 'x'",
		"a = b",
		"a = 0x10",
		"a = 1e5",
		"col = '\\n'",
		"`quoted` = 1",
		"a /* c */ = 1",
		"= 5",
		"name='a' AND 'b'",
		"a = 'x\x00y'",
	}
	for _, s := range bad {
		t.Run(s, func(t *testing.T) {
			_, err := ValidatePredicate(s)
			if err == nil {
				t.Fatalf("ValidatePredicate(%q) = nil, want error", s)
			}
			e := errs.AsError(err)
			if e.Kind != errs.KindInvalidInput {
				t.Fatalf("kind = %v, want InvalidInput", e.Kind)
			}
			if e.Title != "Filter rejected" {
				t.Fatalf("title = %q, want %q", e.Title, "Filter rejected")
			}
		})
	}
}

func TestValidatePredicateEchoesOffendingToken(t *testing.T) {
	_, err := ValidatePredicate("name = 'test'; DROP TABLE users; --")
	e := errs.AsError(err)
	if e.Value == "" {
		t.Fatalf("offending token not echoed: %#v", e)
	}
}

func TestValidatePredicatesFailsFast(t *testing.T) {
	preds, err := ValidatePredicates([]string{"a = 1", "b; = 2", "c = 3"})
	if err == nil {
		t.Fatalf("ValidatePredicates = nil error, want rejection of second clause")
	}
	if preds != nil {
		t.Fatalf("ValidatePredicates returned partial result %#v, want nil", preds)
	}
}

func TestParseQuotedWholeInputOnly(t *testing.T) {
	if _, err := parseQuoted("'a' "); err == nil {
		t.Fatalf("parseQuoted with trailing byte accepted, want error")
	}
	got, err := parseQuoted("'it''s'")
	if err != nil {
		t.Fatalf("parseQuoted error: %v", err)
	}
	if want := "it's"; got != want {
		t.Fatalf("parseQuoted = %q, want %q", got, want)
	}
}
