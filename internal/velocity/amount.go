package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// amountCheck compares windowed spend totals against ceilings and runs
// the daily-spend spike sub-check for established customers.
type amountCheck struct {
	store domain.HistoryStore
	cfg   domain.AmountCheckConfig
}

func (c *amountCheck) Type() string {
	return domain.CheckAmount
}

// Run combines window scores and the spike score via max, not sum.
// The current transaction's amount counts toward each window: it is
// part of the window's spend even though it is not persisted yet.
func (c *amountCheck) Run(ctx context.Context, tx *domain.Transaction) (domain.VelocityCheckResult, error) {
	result := domain.VelocityCheckResult{CheckType: domain.CheckAmount}

	if tx.CustomerID == "" {
		return result, nil
	}

	for _, w := range c.cfg.Windows {
		limit := w.MaxAmount
		if limit <= 0 {
			limit = domain.DefaultMaxAmount
		}
		window := time.Duration(w.PeriodMinutes) * time.Minute

		sum, err := c.store.SumAmount(ctx, tx.CustomerID, window)
		if err != nil {
			return domain.VelocityCheckResult{CheckType: domain.CheckAmount}, err
		}

		total := sum + tx.Amount
		if total > limit {
			result.Reasons = append(result.Reasons, fmt.Sprintf(
				"spend of %.2f in %d minutes exceeds limit %.2f",
				total, w.PeriodMinutes, limit))
			if w.ScoreAdjustment > result.Score {
				result.Score = w.ScoreAdjustment
			}
		}
	}

	if c.cfg.Spike.Enabled {
		spikeScore, spikeReason, err := c.runSpike(ctx, tx)
		if err != nil {
			return domain.VelocityCheckResult{CheckType: domain.CheckAmount}, err
		}
		if spikeScore > 0 {
			result.Reasons = append(result.Reasons, spikeReason)
			if spikeScore > result.Score {
				result.Score = spikeScore
			}
		}
	}

	result.Triggered = result.Score > 0
	if !result.Triggered {
		result.Reasons = nil
	}
	return result, nil
}

// runSpike compares today's spend to the customer's daily baseline.
// Customers younger than the minimum history length are skipped: with
// no baseline, every purchase looks like a spike.
func (c *amountCheck) runSpike(ctx context.Context, tx *domain.Transaction) (float64, string, error) {
	spike := c.cfg.Spike

	age, err := c.store.SubjectAgeDays(ctx, tx.CustomerID)
	if err != nil {
		return 0, "", err
	}
	if age < spike.MinHistoryDays {
		return 0, "", nil
	}

	avg, err := c.store.AverageDailyAmount(ctx, tx.CustomerID, spike.LookbackDays)
	if err != nil {
		return 0, "", err
	}
	if avg <= 0 {
		return 0, "", nil
	}

	today, err := c.store.TodayAmount(ctx, tx.CustomerID)
	if err != nil {
		return 0, "", err
	}

	multiplier := (today + tx.Amount) / avg
	if multiplier >= spike.Multiplier {
		reason := fmt.Sprintf("today's spend is %.1fx the %d-day daily average", multiplier, spike.LookbackDays)
		return spike.ScoreAdjustment, reason, nil
	}
	return 0, "", nil
}
