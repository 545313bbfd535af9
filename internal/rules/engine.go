// Package rules compiles and evaluates custom CEL boost rules over billing
// records.
package rules

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/billguard/internal/domain"
	"github.com/opensource-finance/billguard/internal/scoring"
)

// Engine owns the CEL environment that every custom rule is compiled against.
// It is safe for concurrent use.
type Engine struct {
	env *cel.Env
}

// NewEngine creates the CEL environment with the billing record variables.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("discount", cel.DoubleType),
		cel.Variable("net", cel.DoubleType),
		cel.Variable("business_type", cel.StringType),
		cel.Variable("operator_id", cel.StringType),
		cel.Variable("branch_id", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("is_weekend", cel.BoolType),
		cel.Variable("daily_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Engine{env: env}, nil
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  domain.CustomRule
	Program cel.Program
}

// RuleSet is an immutable list of compiled rules, kept in configuration order.
type RuleSet struct {
	rules []*CompiledRule
}

// Compile compiles every enabled rule. The first failure aborts.
func (e *Engine) Compile(configs []domain.CustomRule) (*RuleSet, error) {
	set := &RuleSet{}
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return nil, err
		}
		set.rules = append(set.rules, compiled)
	}
	return set, nil
}

// ValidateRule compiles a rule without keeping it.
func (e *Engine) ValidateRule(cfg domain.CustomRule) error {
	_, err := e.compileRule(cfg)
	return err
}

func (e *Engine) compileRule(cfg domain.CustomRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{Config: cfg, Program: program}, nil
}

// Len returns the number of compiled rules. A nil set is empty.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Input carries the per-record values exposed to rule expressions.
type Input struct {
	Record     *domain.BillingRecord
	DailyCount int
}

func (in Input) activation() map[string]any {
	r := in.Record
	wd := r.OperationTime.Weekday()
	return map[string]any{
		"amount":        r.ChargedAmount.InexactFloat64(),
		"discount":      r.DiscountAmount.InexactFloat64(),
		"net":           r.NetAmount.InexactFloat64(),
		"business_type": string(r.BusinessType),
		"operator_id":   r.OperatorID,
		"branch_id":     r.BranchID,
		"hour":          int64(r.Hour()),
		"weekday":       int64(wd),
		"is_weekend":    scoring.IsWeekend(r.OperationTime),
		"daily_count":   int64(in.DailyCount),
	}
}

// Boost evaluates every rule and sums risk_boost times the rule score, with
// the score clamped to [0, 1]. A rule that fails to evaluate contributes 0.
func (s *RuleSet) Boost(in Input) float64 {
	if s.Len() == 0 {
		return 0
	}

	activation := in.activation()
	var boost float64
	for _, rule := range s.rules {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			slog.Debug("custom rule evaluation failed",
				"rule_id", rule.Config.ID,
				"bill_id", in.Record.BillID,
				"error", err,
			)
			continue
		}
		boost += rule.Config.RiskBoost * clamp01(toScore(out))
	}
	return boost
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
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

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
