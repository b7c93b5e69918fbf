package script

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
)

// DefaultCostLimit bounds the work a single statement may perform.
const DefaultCostLimit = 1000000

// CELEvaluator evaluates each assignment's expression as a CEL program.
// Every bound value is declared as a dynamically typed string variable;
// assigned variables carry their native CEL value into later statements.
type CELEvaluator struct {
	costLimit uint64
}

// Option configures a CELEvaluator.
type Option func(*CELEvaluator)

// WithCostLimit overrides DefaultCostLimit.
func WithCostLimit(limit uint64) Option {
	return func(e *CELEvaluator) {
		e.costLimit = limit
	}
}

// NewCELEvaluator creates an evaluator with the given options.
func NewCELEvaluator(opts ...Option) *CELEvaluator {
	e := &CELEvaluator{costLimit: DefaultCostLimit}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs script against bindings and returns every assigned variable.
// Bindings whose names are not valid identifiers cannot be referenced from
// the script and are not declared.
func (e *CELEvaluator) Evaluate(ctx context.Context, script string, bindings map[string]string) (map[string]string, error) {
	statements, err := parse(script)
	if err != nil {
		return nil, err
	}
	if len(statements) == 0 {
		return map[string]string{}, nil
	}

	env, err := e.newEnv(bindings, statements)
	if err != nil {
		return nil, &Error{Err: err}
	}

	activation := make(map[string]any, len(bindings)+len(statements))
	for name, value := range bindings {
		if ValidateIdentifier(name) == nil {
			activation[name] = value
		}
	}

	generated := make(map[string]string, len(statements))
	for _, st := range statements {
		out, err := e.evalStatement(ctx, env, st, activation)
		if err != nil {
			return nil, &Error{Statement: st.index, Variable: st.name, Err: err}
		}

		activation[st.name] = out
		generated[st.name] = stringify(out)
	}

	return generated, nil
}

// newEnv declares the bound names plus every assigned name. Declaration
// order is sorted so identical inputs always produce the same environment.
func (e *CELEvaluator) newEnv(bindings map[string]string, statements []statement) (*cel.Env, error) {
	declared := make(map[string]bool, len(bindings)+len(statements))
	for name := range bindings {
		if ValidateIdentifier(name) == nil {
			declared[name] = true
		}
	}
	for _, st := range statements {
		declared[st.name] = true
	}

	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := make([]cel.EnvOption, 0, len(names))
	for _, name := range names {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func (e *CELEvaluator) evalStatement(ctx context.Context, env *cel.Env, st statement, activation map[string]any) (ref.Val, error) {
	ast, issues := env.Compile(st.expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := env.Program(ast,
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	out, _, err := prog.ContextEval(ctx, activation)
	if err != nil {
		return nil, fmt.Errorf("evaluation error: %w", err)
	}
	return out, nil
}

// stringify renders a CEL value the way it is substituted into templates.
func stringify(v ref.Val) string {
	switch native := v.Value().(type) {
	case string:
		return native
	case bool:
		return strconv.FormatBool(native)
	case int64:
		return strconv.FormatInt(native, 10)
	case uint64:
		return strconv.FormatUint(native, 10)
	case float64:
		return strconv.FormatFloat(native, 'f', -1, 64)
	case []byte:
		return string(native)
	default:
		return fmt.Sprint(native)
	}
}
