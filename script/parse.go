package script

import (
	"fmt"
	"regexp"
	"strings"
)

// statement is a single parsed assignment.
type statement struct {
	index      int
	name       string
	expression string
}

var (
	assignmentPattern = regexp.MustCompile(`^(?s)(?:(?:var|let|const)\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*=([^=].*)$`)
	// statementStart detects a line that opens a new assignment when a
	// semicolon-free script spreads several statements over lines.
	statementStart = regexp.MustCompile(`^(?:(?:var|let|const)\s+[A-Za-z_]|[A-Za-z_][A-Za-z0-9_]*\s*=[^=])`)
)

// parse splits script into assignments. Statements are terminated by ';' or
// by a line that starts a new assignment. Line comments are stripped.
func parse(script string) ([]statement, error) {
	var statements []statement
	for _, raw := range splitStatements(script) {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}

		idx := len(statements) + 1
		m := assignmentPattern.FindStringSubmatch(text)
		if m == nil {
			return nil, &Error{Statement: idx, Err: fmt.Errorf("unsupported statement %q: expected an assignment", text)}
		}

		name := m[1]
		if IsReservedWord(name) {
			return nil, &Error{Statement: idx, Variable: name, Err: fmt.Errorf("cannot assign to reserved word %q", name)}
		}

		expr := strings.TrimSpace(m[2])
		if expr == "" {
			return nil, &Error{Statement: idx, Variable: name, Err: fmt.Errorf("missing expression")}
		}

		statements = append(statements, statement{index: idx, name: name, expression: expr})
	}
	return statements, nil
}

// splitStatements breaks script on ';' outside string literals, strips '//'
// comments, and further splits a segment at lines that begin a new assignment.
func splitStatements(script string) []string {
	var segments []string
	var current strings.Builder
	var quote rune
	escaped := false

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if quote != 0 {
			current.WriteRune(r)
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == quote:
				quote = 0
			}
			continue
		}

		switch {
		case r == '"' || r == '\'':
			quote = r
			current.WriteRune(r)
		case r == '/' && i+1 < len(runes) && runes[i+1] == '/':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			if i < len(runes) {
				current.WriteRune('\n')
			}
		case r == ';':
			segments = append(segments, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	segments = append(segments, current.String())

	var statements []string
	for _, seg := range segments {
		statements = append(statements, splitLines(seg)...)
	}
	return statements
}

// splitLines joins continuation lines and starts a new statement at every
// line that opens an assignment.
func splitLines(segment string) []string {
	lines := strings.Split(segment, "\n")

	var out []string
	var current []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if len(current) > 0 && statementStart.MatchString(trimmed) {
			out = append(out, strings.Join(current, " "))
			current = nil
		}
		current = append(current, trimmed)
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, " "))
	}
	return out
}
