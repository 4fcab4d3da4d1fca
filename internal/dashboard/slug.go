package dashboard

import (
	"regexp"
	"strings"
)

const maxSlugLen = 80

var slugStrip = regexp.MustCompile(`[^a-z0-9-]+`)

// Slugify lowers the input, folds runs of foreign characters into single
// hyphens, and caps the length. An input with nothing usable yields
// "dashboard".
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	s = slugStrip.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	if s == "" {
		return "dashboard"
	}
	return s
}

// generatedSuffix matches the {YYYYMMDD}-{HHMMSS} tail that marks an
// auto-generated artifact.
var generatedSuffix = regexp.MustCompile(`-[0-9]{8}-[0-9]{6}$`)

// Generated reports whether the name carries the auto-save timestamp tail.
func Generated(name string) bool {
	return generatedSuffix.MatchString(name)
}
