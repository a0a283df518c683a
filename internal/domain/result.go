package domain

import (
	"time"
)

// RiskTier is the discrete risk bucket derived from the final score.
type RiskTier string

const (
	TierLow    RiskTier = "low"
	TierMedium RiskTier = "medium"
	TierHigh   RiskTier = "high"
)

// Action is the recommended handling for the transaction.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReview Action = "review"
	ActionReject Action = "reject"
)

// Prediction is the predictor's raw output: complementary class
// probabilities and the label derived by thresholding the fraud
// probability at 0.5. Internal intermediate, never exposed to callers.
type Prediction struct {
	NotFraudProb float64
	FraudProb    float64
	IsFraud      bool
}

// Velocity check types.
const (
	CheckFrequency = "frequency"
	CheckAmount    = "amount"
	CheckFailedTx  = "failed_transactions"
	CheckCustom    = "custom"
)

// VelocityCheckResult is the outcome of one rule check.
type VelocityCheckResult struct {
	CheckType string   `json:"checkType"`
	Score     float64  `json:"score"` // in [0,1], 0 = not triggered
	Triggered bool     `json:"triggered"`
	Reasons   []string `json:"reasons,omitempty"`
}

// VelocityResult aggregates all check results for one transaction.
// Score is the max over check scores, never their sum.
type VelocityResult struct {
	Score   float64               `json:"score"`
	Reasons []string              `json:"reasons,omitempty"`
	Checks  []VelocityCheckResult `json:"checks"`
}

// FraudCheckResult is the terminal output of a check. Immutable after
// construction; score, tier and action are always mutually consistent.
type FraudCheckResult struct {
	ID            string    `json:"id"`
	TxID          string    `json:"txId,omitempty"`
	CustomerID    string    `json:"customerId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	ModelScore    float64   `json:"modelScore"`
	VelocityScore float64   `json:"velocityScore"`
	Score         float64   `json:"score"`
	Tier          RiskTier  `json:"tier"`
	Action        Action    `json:"action"`
	Reasons       []string  `json:"reasons,omitempty"`
	ModelVersion  string    `json:"modelVersion"`
}

// Feedback is a ground-truth label reported after the fact, consumed by
// the retraining workflow.
type Feedback struct {
	CheckID     string    `json:"checkId"`
	TxID        string    `json:"txId,omitempty"`
	ActualFraud bool      `json:"actualFraud"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
