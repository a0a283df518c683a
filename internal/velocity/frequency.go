package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// frequencyCheck counts recent transactions per subject dimension
// (customer, device, IP) across the configured windows.
type frequencyCheck struct {
	store   domain.HistoryStore
	windows []domain.TimeWindow
}

func (c *frequencyCheck) Type() string {
	return domain.CheckFrequency
}

type subject struct {
	kind  domain.SubjectKind
	value string
}

// Run applies a two-level max: within one window, the max adjustment
// among the dimensions that exceeded their limit (several dimensions
// tripping on the same window are one behavioral event, not three);
// across windows, the max of per-window scores. Reasons are still
// emitted per triggered dimension.
func (c *frequencyCheck) Run(ctx context.Context, tx *domain.Transaction) (domain.VelocityCheckResult, error) {
	result := domain.VelocityCheckResult{CheckType: domain.CheckFrequency}

	subjects := subjectsOf(tx)
	if len(subjects) == 0 {
		return result, nil
	}

	for _, w := range c.windows {
		limit := w.MaxTransactions
		if limit <= 0 {
			limit = domain.DefaultMaxTransactions
		}
		window := time.Duration(w.PeriodMinutes) * time.Minute

		var windowScore float64
		for _, s := range subjects {
			count, err := c.store.CountBySubject(ctx, s.kind, s.value, window)
			if err != nil {
				return domain.VelocityCheckResult{CheckType: domain.CheckFrequency}, err
			}
			if count > limit {
				result.Reasons = append(result.Reasons, fmt.Sprintf(
					"%s made %d transactions in %d minutes (limit %d)",
					s.kind, count, w.PeriodMinutes, limit))
				if w.ScoreAdjustment > windowScore {
					windowScore = w.ScoreAdjustment
				}
			}
		}

		if windowScore > result.Score {
			result.Score = windowScore
		}
	}

	result.Triggered = result.Score > 0
	if !result.Triggered {
		result.Reasons = nil
	}
	return result, nil
}

// subjectsOf lists the dimensions present on the transaction.
func subjectsOf(tx *domain.Transaction) []subject {
	var out []subject
	if tx.CustomerID != "" {
		out = append(out, subject{domain.SubjectCustomer, tx.CustomerID})
	}
	if tx.DeviceID != "" {
		out = append(out, subject{domain.SubjectDevice, tx.DeviceID})
	}
	if tx.IPAddress != "" {
		out = append(out, subject{domain.SubjectIP, tx.IPAddress})
	}
	return out
}
