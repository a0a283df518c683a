package domain

import (
	"fmt"
	"math"
	"time"
)

// Transaction statuses recorded in the behavioral history.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Transaction represents an incoming transaction to be scored.
type Transaction struct {
	// Optional identifiers. ID and CustomerID become mandatory when the
	// check persists history or runs velocity checks.
	ID         string `json:"id,omitempty"`
	CustomerID string `json:"customerId,omitempty"`

	// Financial details
	Amount   float64  `json:"amount"`
	Category Category `json:"category"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`

	// Optional context used by the secondary adjustment path
	WalletBalance *float64 `json:"walletBalance,omitempty"`
	IPAddress     string   `json:"ipAddress,omitempty"`
	DeviceID      string   `json:"deviceId,omitempty"`

	// Outcome reported by the caller, defaults to completed.
	Status string `json:"status,omitempty"`
}

// Validate checks the fields every scoring path depends on.
func (t *Transaction) Validate() error {
	if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) {
		return fmt.Errorf("%w: amount must be finite", ErrValidation)
	}
	if t.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative, got %v", ErrValidation, t.Amount)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	if !t.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, t.Category)
	}
	if t.Status != "" && t.Status != StatusCompleted && t.Status != StatusFailed {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, t.Status)
	}
	return nil
}

// ValidateForHistory enforces the stricter contract required when the
// transaction is persisted or velocity checks run against it.
func (t *Transaction) ValidateForHistory() error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		return fmt.Errorf("%w: transaction id is required when history is enabled", ErrValidation)
	}
	if t.CustomerID == "" {
		return fmt.Errorf("%w: customer id is required when history is enabled", ErrValidation)
	}
	return nil
}
