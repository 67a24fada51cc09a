package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"usagerelay/pkg/models"
)

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("message_id", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("publisher_id", cel.StringType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("notification", cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

func (e *Evaluator) CompileExpression(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

// CompileFilter compiles an expression that must evaluate to bool.
func (e *Evaluator) CompileFilter(expression string) (cel.Program, error) {
	if err := e.ValidateFilterExpression(expression); err != nil {
		return nil, err
	}
	return e.CompileExpression(expression)
}

// Activation binds the environment variables for one notification.
func Activation(n models.Notification) map[string]interface{} {
	payload := n.Payload()
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return map[string]interface{}{
		"message_id":   n.MessageID(),
		"event_type":   n.EventType(),
		"publisher_id": n.String("publisher_id"),
		"payload":      payload,
		"notification": map[string]interface{}(n),
	}
}

func Evaluate(ctx context.Context, program cel.Program, n models.Notification) (interface{}, error) {
	result, _, err := program.ContextEval(ctx, Activation(n))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}
	return result.Value(), nil
}

func EvaluateBool(ctx context.Context, program cel.Program, n models.Notification) (bool, error) {
	v, err := Evaluate(ctx, program, n)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", v)
	}
	return b, nil
}

func (e *Evaluator) EvaluateFilter(ctx context.Context, expression string, n models.Notification) (bool, error) {
	program, err := e.CompileFilter(expression)
	if err != nil {
		return false, err
	}
	return EvaluateBool(ctx, program, n)
}

func (e *Evaluator) EvaluateTransform(ctx context.Context, expression string, n models.Notification) (interface{}, error) {
	program, err := e.CompileExpression(expression)
	if err != nil {
		return nil, err
	}
	return Evaluate(ctx, program, n)
}
