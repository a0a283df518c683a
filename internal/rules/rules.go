// Package rules compiles operator-defined CEL checks that run alongside
// the built-in velocity checks.
package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CustomCheck is one compiled CEL expression over transaction fields.
// A true result contributes the configured score adjustment to the
// velocity aggregation; anything else leaves the check untriggered.
type CustomCheck struct {
	id         string
	reason     string
	adjustment float64
	program    cel.Program
	loc        *time.Location
}

// Compile builds custom checks from configuration. Expressions are
// compiled once here; a bad expression is a startup error, not a
// per-transaction one. Disabled entries are skipped entirely.
func Compile(configs []domain.CustomCheckConfig, loc *time.Location) ([]*CustomCheck, error) {
	if len(configs) == 0 {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("category", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("balance", cel.DoubleType),
		cel.Variable("device_id", cel.StringType),
		cel.Variable("ip_address", cel.StringType),
		cel.Variable("status", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	var checks []*CustomCheck
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		ast, issues := env.Compile(cfg.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile check %s: %w", cfg.ID, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("check %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for check %s: %w", cfg.ID, err)
		}

		reason := cfg.Reason
		if reason == "" {
			reason = fmt.Sprintf("custom check %s triggered", cfg.ID)
		}

		checks = append(checks, &CustomCheck{
			id:         cfg.ID,
			reason:     reason,
			adjustment: cfg.ScoreAdjustment,
			program:    program,
			loc:        loc,
		})
	}

	return checks, nil
}

// Type tags results so individual custom checks stay identifiable in
// the audit trail.
func (c *CustomCheck) Type() string {
	return domain.CheckCustom + ":" + c.id
}

// Run evaluates the expression against the transaction.
func (c *CustomCheck) Run(ctx context.Context, tx *domain.Transaction) (domain.VelocityCheckResult, error) {
	result := domain.VelocityCheckResult{CheckType: c.Type()}

	var balance float64
	if tx.WalletBalance != nil {
		balance = *tx.WalletBalance
	}
	ts := tx.Timestamp.In(c.loc)

	activation := map[string]any{
		"amount":      tx.Amount,
		"category":    string(tx.Category),
		"hour":        ts.Hour(),
		"day_of_week": int(ts.Weekday()),
		"balance":     balance,
		"device_id":   tx.DeviceID,
		"ip_address":  tx.IPAddress,
		"status":      tx.Status,
	}

	out, _, err := c.program.Eval(activation)
	if err != nil {
		return result, fmt.Errorf("check %s: %w", c.id, err)
	}

	if triggered, ok := out.(types.Bool); ok && bool(triggered) {
		result.Triggered = true
		result.Score = c.adjustment
		result.Reasons = []string{c.reason}
	}

	return result, nil
}
