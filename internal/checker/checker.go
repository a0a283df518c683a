// Package checker orchestrates the scoring pipeline: feature
// extraction, inference, velocity checks, fusion and decisioning.
package checker

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Checker is the sole entry point the core exposes: Check scores one
// transaction. Stateless per call; the loaded model and scaler are
// shared read-only across concurrent invocations.
type Checker struct {
	models      *model.Registry
	velocity    *velocity.Engine // nil when the velocity path is disabled
	thresholds  decision.Thresholds
	weights     decision.Weights
	adjustments bool
}

// New wires the pipeline. Pass a nil velocity engine to score on the
// model alone.
func New(models *model.Registry, vel *velocity.Engine, scoring domain.ScoringConfig) *Checker {
	return &Checker{
		models:   models,
		velocity: vel,
		thresholds: decision.Thresholds{
			Review: scoring.ReviewThreshold,
			Reject: scoring.RejectThreshold,
		},
		weights: decision.Weights{
			Model:    scoring.ModelWeight,
			Velocity: scoring.VelocityWeight,
		},
		adjustments: scoring.ContextAdjustments,
	}
}

// Check scores a transaction. Validation and model errors propagate to
// the caller; velocity storage failures are contained inside the engine
// and degrade to zero-score stand-ins.
func (c *Checker) Check(ctx context.Context, tx *domain.Transaction) (*domain.FraudCheckResult, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction is required", domain.ErrValidation)
	}
	if c.velocity != nil {
		if err := tx.ValidateForHistory(); err != nil {
			return nil, err
		}
	}

	m, err := c.models.Current()
	if err != nil {
		return nil, err
	}

	fv, err := m.Features.Extract(tx)
	if err != nil {
		return nil, err
	}
	std, err := m.Features.Standardize(fv)
	if err != nil {
		return nil, err
	}
	pred, err := m.Predictor.Predict(std)
	if err != nil {
		return nil, err
	}

	// Velocity runs after the model score is available and before the
	// decision policy sees the fused score.
	var velocityResult *domain.VelocityResult
	if c.velocity != nil {
		velocityResult = c.velocity.Evaluate(ctx, tx)
	}

	var adjustments []decision.Adjustment
	if c.adjustments {
		adjustments = decision.ContextAdjustments(tx)
	}

	return decision.Build(decision.BuildInput{
		Tx:           tx,
		ModelScore:   pred.FraudProb,
		ModelVersion: m.Version,
		Velocity:     velocityResult,
		Thresholds:   c.thresholds,
		Weights:      c.weights,
		Adjustments:  adjustments,
	}), nil
}

// ModelVersion reports the active model generation.
func (c *Checker) ModelVersion() string {
	m, err := c.models.Current()
	if err != nil {
		return ""
	}
	return m.Version
}
