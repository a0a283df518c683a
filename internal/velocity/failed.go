package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// failedCheck counts failed-status transactions for the customer across
// the configured windows.
type failedCheck struct {
	store   domain.HistoryStore
	windows []domain.FailedWindow
}

func (c *failedCheck) Type() string {
	return domain.CheckFailedTx
}

func (c *failedCheck) Run(ctx context.Context, tx *domain.Transaction) (domain.VelocityCheckResult, error) {
	result := domain.VelocityCheckResult{CheckType: domain.CheckFailedTx}

	if tx.CustomerID == "" {
		return result, nil
	}

	for _, w := range c.windows {
		limit := w.MaxFailed
		if limit <= 0 {
			limit = domain.DefaultMaxFailed
		}
		window := time.Duration(w.PeriodMinutes) * time.Minute

		count, err := c.store.CountFailed(ctx, tx.CustomerID, window)
		if err != nil {
			return domain.VelocityCheckResult{CheckType: domain.CheckFailedTx}, err
		}

		if count > limit {
			result.Reasons = append(result.Reasons, fmt.Sprintf(
				"%d failed transactions in %d minutes (limit %d)",
				count, w.PeriodMinutes, limit))
			if w.ScoreAdjustment > result.Score {
				result.Score = w.ScoreAdjustment
			}
		}
	}

	result.Triggered = result.Score > 0
	if !result.Triggered {
		result.Reasons = nil
	}
	return result, nil
}
