// Package decision maps fraud scores to risk tiers and actions and
// assembles the final check result.
package decision

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Thresholds partition [0,1] into the three risk bands. The ordering
// invariant 0 <= Review < Reject <= 1 is enforced by Config.Validate at
// startup; a violation reaching Decide is a programming error.
type Thresholds struct {
	Review float64
	Reject float64
}

// Decide maps a score to a tier and action. Each band is closed on its
// upper side: score == Review resolves to medium/review and score ==
// Reject resolves to high/reject, so the partition is total and
// non-overlapping.
func (t Thresholds) Decide(score float64) (domain.RiskTier, domain.Action) {
	switch {
	case score >= t.Reject:
		return domain.TierHigh, domain.ActionReject
	case score >= t.Review:
		return domain.TierMedium, domain.ActionReview
	default:
		return domain.TierLow, domain.ActionAccept
	}
}

// Weights configures the convex blend of model and velocity scores.
type Weights struct {
	Model    float64
	Velocity float64
}

// Fuse combines the model and velocity scores. A zero velocity score
// leaves the model score untouched regardless of weights, so disabling
// velocity never shifts decisions.
func Fuse(modelScore, velocityScore float64, w Weights) float64 {
	if velocityScore <= 0 {
		return modelScore
	}
	return modelScore*w.Model + velocityScore*w.Velocity
}

// Clamp bounds a score to [0,1].
func Clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
