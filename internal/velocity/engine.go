// Package velocity runs behavioral-anomaly rule checks over the
// transaction history and aggregates their scores.
package velocity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Check is one independent rule check. Run returns a zero-score,
// untriggered result for "no data" situations; an error means the
// backing store failed.
type Check interface {
	Type() string
	Run(ctx context.Context, tx *domain.Transaction) (domain.VelocityCheckResult, error)
}

// Engine evaluates the enabled checks concurrently and aggregates their
// results. Checks share no mutable state; a failure in one degrades to a
// zero-score stand-in without cancelling the others.
type Engine struct {
	checks        []Check
	maxConcurrent int
}

// NewEngine builds the engine from configuration. Disabled checks are
// not constructed at all, so they are never queried. Extra checks
// (operator-defined rules) run after the built-in ones.
func NewEngine(cfg domain.VelocityConfig, store domain.HistoryStore, extra ...Check) *Engine {
	var checks []Check
	if cfg.Frequency.Enabled && len(cfg.Frequency.Windows) > 0 {
		checks = append(checks, &frequencyCheck{store: store, windows: cfg.Frequency.Windows})
	}
	if cfg.Amount.Enabled {
		checks = append(checks, &amountCheck{store: store, cfg: cfg.Amount})
	}
	if cfg.FailedTx.Enabled && len(cfg.FailedTx.Windows) > 0 {
		checks = append(checks, &failedCheck{store: store, windows: cfg.FailedTx.Windows})
	}
	checks = append(checks, extra...)

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	return &Engine{checks: checks, maxConcurrent: maxConcurrent}
}

// CheckCount returns the number of active checks.
func (e *Engine) CheckCount() int {
	return len(e.checks)
}

// Evaluate runs all checks concurrently and aggregates. Results keep
// the configured check order regardless of completion order.
func (e *Engine) Evaluate(ctx context.Context, tx *domain.Transaction) *domain.VelocityResult {
	if len(e.checks) == 0 {
		return &domain.VelocityResult{}
	}

	results := make([]domain.VelocityCheckResult, len(e.checks))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxConcurrent)

	for i, check := range e.checks {
		wg.Add(1)
		go func(idx int, c Check) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := c.Run(ctx, tx)
			if err != nil {
				// One misbehaving rule must not block fraud scoring.
				slog.Warn("velocity check failed",
					"check", c.Type(),
					"tx_id", tx.ID,
					"error", err,
				)
				results[idx] = domain.VelocityCheckResult{CheckType: c.Type()}
				return
			}
			results[idx] = result
		}(i, check)
	}

	wg.Wait()

	return Aggregate(results)
}

// Aggregate combines per-check results into one velocity score: the max
// over check scores, never their sum, so correlated penalties do not
// double-count. Reasons are the union of triggered checks' reasons in
// evaluation order.
func Aggregate(results []domain.VelocityCheckResult) *domain.VelocityResult {
	agg := &domain.VelocityResult{Checks: results}
	for _, r := range results {
		if r.Score > agg.Score {
			agg.Score = r.Score
		}
		if r.Triggered {
			agg.Reasons = append(agg.Reasons, r.Reasons...)
		}
	}
	return agg
}
