package script

import (
	"fmt"
	"regexp"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateIdentifier checks that name can be bound as a script variable.
// Names must match ^[a-zA-Z_][a-zA-Z0-9_]*$, be 1-100 characters long and must
// not be a reserved word.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(name))
	}

	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}

	if IsReservedWord(name) {
		return fmt.Errorf("cannot use reserved word %q as identifier", name)
	}

	return nil
}

// IsReservedWord reports whether name is reserved by the expression language
// or by the statement syntax around it.
func IsReservedWord(name string) bool {
	return reservedWords[name]
}

var reservedWords = map[string]bool{
	// Literals
	"true":  true,
	"false": true,
	"null":  true,
	// Control flow
	"if":       true,
	"else":     true,
	"for":      true,
	"while":    true,
	"break":    true,
	"continue": true,
	"return":   true,
	// Declarations
	"var":      true,
	"let":      true,
	"const":    true,
	"function": true,
	// Other keywords
	"in":        true,
	"as":        true,
	"import":    true,
	"package":   true,
	"namespace": true,
	"loop":      true,
	"void":      true,
}
