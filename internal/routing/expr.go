package routing

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"relay/pkg/models"
)

// newExprEnv builds the CEL environment expression rules are compiled
// against. The variables mirror the InboundEvent fields routing can see.
func newExprEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("eventType", cel.StringType),
		cel.Variable("parameters", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func compileExpr(env *cel.Env, expression string) (cel.Program, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", expression, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression %q must return bool, got %v", expression, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for %q: %w", expression, err)
	}

	return program, nil
}

func evalExpr(program cel.Program, event models.InboundEvent) bool {
	params := event.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}

	result, _, err := program.Eval(map[string]interface{}{
		"id":         event.ID,
		"source":     event.Source,
		"eventType":  event.EventType,
		"parameters": params,
	})
	if err != nil {
		// Evaluation errors (missing keys and the like) mean "no match",
		// never a routing failure.
		return false
	}

	matched, ok := result.Value().(bool)
	return ok && matched
}
