package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// appNamePattern matches the @App:name('...') annotation of an application
// together with the whitespace that follows it.
var appNamePattern = regexp.MustCompile(`@App:name\(\s*['"](.*?)['"]\s*\)\s*`)

// AppName returns the name declared by content's @App:name annotation.
func AppName(content string) (string, bool) {
	m := appNamePattern.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// renameApp rewrites every @App:name annotation in content to name.
func renameApp(content, name string) (string, error) {
	if !appNamePattern.MatchString(content) {
		return "", fmt.Errorf("application has no @App:name annotation")
	}
	return appNamePattern.ReplaceAllLiteralString(content, "@App:name('"+name+"') "), nil
}

// stripAppName removes the first @App:name annotation from content.
func stripAppName(content string) string {
	loc := appNamePattern.FindStringIndex(content)
	if loc == nil {
		return content
	}
	return content[:loc[0]] + content[loc[1]:]
}

// StreamName extracts the stream name from an exposed stream definition such
// as "define stream TradeInput (symbol string);": the third
// whitespace-delimited token, cut at the first '('.
func StreamName(definition string) (string, error) {
	fields := strings.Fields(definition)
	if len(fields) < 3 {
		return "", fmt.Errorf("%w: cannot read stream name from %q", ErrComposition, definition)
	}

	name, _, _ := strings.Cut(fields[2], "(")
	if name == "" {
		return "", fmt.Errorf("%w: empty stream name in %q", ErrComposition, definition)
	}
	return name, nil
}
