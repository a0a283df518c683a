package decision

import (
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// BuildInput carries everything the result builder needs. Velocity may
// be nil when the velocity path is disabled.
type BuildInput struct {
	Tx           *domain.Transaction
	ModelScore   float64
	ModelVersion string
	Velocity     *domain.VelocityResult
	Thresholds   Thresholds
	Weights      Weights
	Adjustments  []Adjustment
}

// Build fuses the signals, applies context adjustments, clamps and
// derives tier/action from the final score. The returned result is
// internally consistent: the tier and action always correspond to the
// score field, even when an adjustment pushed it across a boundary.
func Build(in BuildInput) *domain.FraudCheckResult {
	var velocityScore float64
	var reasons []string
	if in.Velocity != nil {
		velocityScore = in.Velocity.Score
		reasons = append(reasons, in.Velocity.Reasons...)
	}

	score := Fuse(in.ModelScore, velocityScore, in.Weights)

	delta, adjustReasons := SumAdjustments(in.Adjustments)
	score = Clamp(score + delta)
	reasons = append(reasons, adjustReasons...)

	tier, action := in.Thresholds.Decide(score)

	return &domain.FraudCheckResult{
		ID:            uuid.New().String(),
		TxID:          in.Tx.ID,
		CustomerID:    in.Tx.CustomerID,
		Timestamp:     time.Now().UTC(),
		ModelScore:    in.ModelScore,
		VelocityScore: velocityScore,
		Score:         score,
		Tier:          tier,
		Action:        action,
		Reasons:       reasons,
		ModelVersion:  in.ModelVersion,
	}
}
