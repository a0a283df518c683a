// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// SubjectKind identifies the entity a velocity check counts against.
type SubjectKind string

const (
	SubjectCustomer SubjectKind = "customer"
	SubjectDevice   SubjectKind = "device"
	SubjectIP       SubjectKind = "ip"
)

// HistoryStore is the read-only query contract the velocity engine
// consumes. Implementations report failures as ErrStorage-wrapped errors.
type HistoryStore interface {
	// CountBySubject counts history transactions for a subject within the window.
	CountBySubject(ctx context.Context, kind SubjectKind, value string, window time.Duration) (int, error)

	// SumAmount totals a customer's spend within the window.
	SumAmount(ctx context.Context, customerID string, window time.Duration) (float64, error)

	// AverageDailyAmount is the customer's mean daily spend over the lookback.
	AverageDailyAmount(ctx context.Context, customerID string, lookbackDays int) (float64, error)

	// TodayAmount totals the customer's spend since local midnight.
	TodayAmount(ctx context.Context, customerID string) (float64, error)

	// CountFailed counts failed-status transactions within the window.
	CountFailed(ctx context.Context, customerID string, window time.Duration) (int, error)

	// SubjectAgeDays is the age of the customer's oldest history record.
	// Returns 0 for unknown customers.
	SubjectAgeDays(ctx context.Context, customerID string) (int, error)
}

// Repository extends the history read contract with the write side used
// after a check completes, plus feedback and maintenance operations.
type Repository interface {
	HistoryStore

	// Append-only history of scored transactions.
	SaveTransaction(ctx context.Context, tx *Transaction) error

	// Check result persistence.
	SaveCheckResult(ctx context.Context, result *FraudCheckResult) error
	GetCheckResult(ctx context.Context, checkID string) (*FraudCheckResult, error)

	// Feedback for retraining.
	SaveFeedback(ctx context.Context, fb *Feedback) error
	CountFeedback(ctx context.Context) (int, error)

	// PruneBefore removes history rows older than the cutoff and returns
	// the number of rows deleted.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
