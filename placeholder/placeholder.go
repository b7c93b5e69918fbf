// Package placeholder replaces delimited markers in template text.
//
// Two marker forms share the same ${...} delimiter:
//
//	${name}   named marker, filled from a name -> value mapping
//	${1}      positional marker, filled from an ordered fragment list (1-based)
//
// Markers without a value are left untouched. Callers that must not deploy
// text with leftover markers check the result with Unresolved.
package placeholder

import (
	"regexp"
	"strconv"
)

// markerPattern matches ${name}; the captured group is the marker name.
var markerPattern = regexp.MustCompile(`\$\{([^{}\s]+)\}`)

// positionalPattern matches ${N} where N is a decimal index.
var positionalPattern = regexp.MustCompile(`\$\{([0-9]+)\}`)

// Substitute replaces every ${name} marker that has an entry in values.
// Unknown markers are retained verbatim. Replacement is a single pass, so a
// value that itself contains a marker is not expanded again.
func Substitute(text string, values map[string]string) string {
	if text == "" || len(values) == 0 {
		return text
	}

	return markerPattern.ReplaceAllStringFunc(text, func(marker string) string {
		name := marker[2 : len(marker)-1]
		if v, ok := values[name]; ok {
			return v
		}
		return marker
	})
}

// SubstitutePositional replaces ${1}, ${2}, ... with fragments[0], fragments[1], ...
// Indexes outside the fragment list are retained verbatim.
func SubstitutePositional(text string, fragments []string) string {
	if text == "" || len(fragments) == 0 {
		return text
	}

	return positionalPattern.ReplaceAllStringFunc(text, func(marker string) string {
		idx, err := strconv.Atoi(marker[2 : len(marker)-1])
		if err != nil || idx < 1 || idx > len(fragments) {
			return marker
		}
		return fragments[idx-1]
	})
}

// Unresolved returns the distinct marker names still present in text, in
// order of first appearance.
func Unresolved(text string) []string {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		names = append(names, m[1])
	}
	return names
}

// UnresolvedPositional returns the positional markers still present in text.
func UnresolvedPositional(text string) []string {
	var names []string
	for _, m := range positionalPattern.FindAllStringSubmatch(text, -1) {
		names = append(names, m[1])
	}
	return names
}
