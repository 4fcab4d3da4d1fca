package interpret

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// formatNumber renders narrative values: whole numbers without decimals,
// fractional ones with two, and thousands separators either way.
func formatNumber(v float64) string {
	var s string
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		s = strconv.FormatFloat(v, 'f', 0, 64)
	} else {
		s = strconv.FormatFloat(v, 'f', 2, 64)
	}
	return groupThousands(s)
}

// formatPercent always carries a sign, one decimal: "+0.0%", "-10.7%".
func formatPercent(p float64) string {
	return fmt.Sprintf("%+.1f%%", p)
}

// formatCell renders table cells plainly: no separators, floats with two
// decimals, everything else via Sprint.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatFloat(x, 'f', 0, 64)
		}
		return strconv.FormatFloat(x, 'f', 2, 64)
	case float32:
		return formatCell(float64(x))
	default:
		return fmt.Sprint(v)
	}
}

// groupThousands inserts commas into the integer part of a formatted
// number, leaving sign and decimals alone.
func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	if len(intPart) <= 3 {
		return sign + intPart + frac
	}
	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	return sign + b.String() + frac
}

// numeric coerces a scanned cell to float64, zero when it cannot.
func numeric(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return x
	case float32:
		return float64(x)
	case int64:
		return float64(x)
	case int:
		return float64(x)
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
