// Package script runs the small assignment scripts attached to rule templates.
//
// A script is a sequence of assignments:
//
//	var topic = "orders_" + region;
//	let threshold = limit * 2
//	alertStream = topic + "_alerts";
//
// Each right-hand side is an expression evaluated in a sandbox seeded with the
// bound values plus every variable assigned by an earlier statement. The
// result of Evaluate is every assigned variable rendered as a string.
package script

import (
	"context"
	"fmt"
)

// Evaluator evaluates script text against bound values and returns the
// variables the script assigns. Implementations must be deterministic.
type Evaluator interface {
	Evaluate(ctx context.Context, script string, bindings map[string]string) (map[string]string, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, script string, bindings map[string]string) (map[string]string, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, script string, bindings map[string]string) (map[string]string, error) {
	return f(ctx, script, bindings)
}

// Error reports a parse or runtime failure of a script.
type Error struct {
	// Statement is the 1-based index of the failing statement, 0 when the
	// failure is not tied to a single statement.
	Statement int
	// Variable is the variable being assigned, if known.
	Variable string
	Err      error
}

func (e *Error) Error() string {
	if e.Statement > 0 && e.Variable != "" {
		return fmt.Sprintf("script statement %d (%s): %v", e.Statement, e.Variable, e.Err)
	}
	if e.Statement > 0 {
		return fmt.Sprintf("script statement %d: %v", e.Statement, e.Err)
	}
	return fmt.Sprintf("script: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
