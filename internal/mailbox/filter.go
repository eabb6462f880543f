package mailbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"abuseflow/pkg/models"
)

// Filter gates parsed reports on the configured sender allow-list and an
// optional CEL expression over {sender, subject}.
type Filter struct {
	allowedSenders []string
	program        cel.Program
}

func NewFilter(allowedSenders []string, filterExpr string) (*Filter, error) {
	f := &Filter{
		allowedSenders: make([]string, 0, len(allowedSenders)),
	}
	for _, s := range allowedSenders {
		f.allowedSenders = append(f.allowedSenders, strings.ToLower(strings.TrimSpace(s)))
	}

	if filterExpr != "" {
		env, err := cel.NewEnv(
			cel.Variable("sender", cel.StringType),
			cel.Variable("subject", cel.StringType),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create CEL environment: %w", err)
		}

		ast, issues := env.Compile(filterExpr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile filter expression: %w", issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create CEL program: %w", err)
		}
		f.program = program
	}

	return f, nil
}

// Matches reports whether the report passes the allow-list and, when
// configured, the CEL expression.
func (f *Filter) Matches(ctx context.Context, report models.AbuseReport) (bool, error) {
	if !f.senderAllowed(report.Sender) {
		return false, nil
	}

	if f.program == nil {
		return true, nil
	}

	result, _, err := f.program.ContextEval(ctx, map[string]interface{}{
		"sender":  report.Sender,
		"subject": report.Subject,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate filter expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter expression did not return bool, got %T", result.Value())
	}
	return boolVal, nil
}

func (f *Filter) senderAllowed(sender string) bool {
	s := strings.ToLower(sender)
	for _, allowed := range f.allowedSenders {
		if strings.Contains(s, allowed) {
			return true
		}
	}
	return false
}
