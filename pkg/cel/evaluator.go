package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"triage/pkg/models"
)

// Evaluator compiles and runs CEL match expressions against notification
// events. Rule configs may carry such an expression to refine their match
// condition beyond static type/priority lists.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("title", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("priority_hint", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateMatchExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("match expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

func (e *Evaluator) EvaluateMatch(ctx context.Context, expression string, event models.NotificationEvent) (bool, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return false, fmt.Errorf("match expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("failed to create CEL program: %w", err)
	}

	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	vars := map[string]interface{}{
		"user_id":       event.UserID,
		"event_type":    event.EventType,
		"title":         event.Title,
		"source":        event.Source,
		"priority_hint": event.PriorityHint,
		"channel":       event.Channel,
		"timestamp":     event.Timestamp,
		"metadata":      metadata,
	}

	result, _, err := program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}
