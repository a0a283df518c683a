package model

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// logisticPredictor is the bundled inference implementation: a logistic
// model over the standardized feature vector. Weights are read-only
// after construction so Predict is safe for concurrent calls.
type logisticPredictor struct {
	coefficients []float64
	intercept    float64
	threshold    float64
}

func newLogisticPredictor(w Weights, threshold float64) *logisticPredictor {
	return &logisticPredictor{
		coefficients: w.Coefficients,
		intercept:    w.Intercept,
		threshold:    threshold,
	}
}

// Predict computes the fraud probability via the logistic link. Output
// outside [0,1] or non-finite fails closed; no fallback probability is
// ever synthesized.
func (p *logisticPredictor) Predict(features []float64) (domain.Prediction, error) {
	if len(features) != len(p.coefficients) {
		return domain.Prediction{}, fmt.Errorf("%w: expected %d features, got %d",
			domain.ErrModel, len(p.coefficients), len(features))
	}

	z := p.intercept
	for i, x := range features {
		z += p.coefficients[i] * x
	}

	fraud := 1 / (1 + math.Exp(-z))
	if math.IsNaN(fraud) || fraud < 0 || fraud > 1 {
		return domain.Prediction{}, fmt.Errorf("%w: inference produced invalid probability %v", domain.ErrModel, fraud)
	}

	return domain.Prediction{
		NotFraudProb: 1 - fraud,
		FraudProb:    fraud,
		IsFraud:      fraud >= p.threshold,
	}, nil
}

// Close releases model resources. The logistic predictor holds none.
func (p *logisticPredictor) Close() error {
	return nil
}
