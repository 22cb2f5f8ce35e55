package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// compiledScript holds a pre-compiled CEL program for one expression rule.
type compiledScript struct {
	cfg     *domain.RuleScript
	program cel.Program
}

// scriptEnv is the shared CEL environment declaring the evaluation
// variables, built once at package init.
var scriptEnv = mustEnv()

func mustEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("country", cel.StringType),
		cel.Variable("new_device", cel.BoolType),
		cel.Variable("new_country", cel.BoolType),
		cel.Variable("avg_amount", cel.DoubleType),
		cel.Variable("daily_volume", cel.DoubleType),
		cel.Variable("weekly_volume", cel.DoubleType),
		cel.Variable("monthly_volume", cel.DoubleType),
		cel.Variable("tx_count_1h", cel.IntType),
		cel.Variable("tx_count_5m", cel.IntType),
		cel.Variable("failed_count", cel.IntType),
	)
	if err != nil {
		panic(fmt.Sprintf("rules: failed to create CEL environment: %v", err))
	}
	return env
}

// compileScript compiles an expression rule, rejecting expressions that
// do not produce a boolean or numeric score.
func compileScript(cfg *domain.RuleScript) (*compiledScript, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rule script is required")
	}
	if cfg.Expression == "" {
		return nil, fmt.Errorf("rule %s: expression is required", cfg.ID)
	}

	ast, issues := scriptEnv.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := scriptEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &compiledScript{
		cfg:     cfg,
		program: program,
	}, nil
}

// evaluate runs the program and converts the output to a score.
func (s *compiledScript) evaluate(activation map[string]any) (float64, error) {
	out, _, err := s.program.Eval(activation)
	if err != nil {
		return 0, err
	}
	return clampScore(toScore(out)), nil
}

// toScore converts a CEL value to a numeric score. Booleans map to the
// extremes so threshold semantics stay uniform across rule types.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 100.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
