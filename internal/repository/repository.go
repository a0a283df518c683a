// Package repository provides the SQL-backed behavioral history store.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository backed by SQLite or
// PostgreSQL. Day-boundary queries use the configured location so the
// notion of "today" matches the model's feature clock.
type SQLRepository struct {
	db     *sql.DB
	driver string
	loc    *time.Location
}

// New creates a repository from configuration.
func New(cfg domain.RepositoryConfig, loc *time.Location) (*SQLRepository, error) {
	if loc == nil {
		loc = time.Local
	}

	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite", "":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", domain.ErrInit, cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInit, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
		loc:    loc,
	}
	if repo.driver == "" {
		repo.driver = "sqlite"
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return fmt.Errorf("%w: failed to apply schema: %v", domain.ErrInit, err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $1, $2, ... for postgres.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func subjectColumn(kind domain.SubjectKind) (string, error) {
	switch kind {
	case domain.SubjectCustomer:
		return "customer_id", nil
	case domain.SubjectDevice:
		return "device_id", nil
	case domain.SubjectIP:
		return "ip_address", nil
	default:
		return "", fmt.Errorf("%w: unknown subject kind %q", domain.ErrStorage, kind)
	}
}

// CountBySubject counts history transactions for the subject inside the
// trailing window.
func (r *SQLRepository) CountBySubject(ctx context.Context, kind domain.SubjectKind, value string, window time.Duration) (int, error) {
	col, err := subjectColumn(kind)
	if err != nil {
		return 0, err
	}

	since := time.Now().Add(-window)
	query := r.rebind(fmt.Sprintf(
		"SELECT COUNT(*) FROM transactions WHERE %s = ? AND timestamp >= ?", col))

	var count int
	if err := r.db.QueryRowContext(ctx, query, value, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count by %s: %v", domain.ErrStorage, kind, err)
	}
	return count, nil
}

// SumAmount totals the customer's spend inside the trailing window.
func (r *SQLRepository) SumAmount(ctx context.Context, customerID string, window time.Duration) (float64, error) {
	since := time.Now().Add(-window)
	query := r.rebind(
		"SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE customer_id = ? AND timestamp >= ?")

	var sum float64
	if err := r.db.QueryRowContext(ctx, query, customerID, since).Scan(&sum); err != nil {
		return 0, fmt.Errorf("%w: sum amount: %v", domain.ErrStorage, err)
	}
	return sum, nil
}

// AverageDailyAmount is the customer's mean daily spend over the
// lookback period. Divides by the full lookback, not by active days,
// so sparse history averages down.
func (r *SQLRepository) AverageDailyAmount(ctx context.Context, customerID string, lookbackDays int) (float64, error) {
	if lookbackDays <= 0 {
		return 0, nil
	}

	since := time.Now().AddDate(0, 0, -lookbackDays)
	query := r.rebind(
		"SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE customer_id = ? AND timestamp >= ?")

	var sum float64
	if err := r.db.QueryRowContext(ctx, query, customerID, since).Scan(&sum); err != nil {
		return 0, fmt.Errorf("%w: average daily amount: %v", domain.ErrStorage, err)
	}
	return sum / float64(lookbackDays), nil
}

// TodayAmount totals the customer's spend since local midnight.
func (r *SQLRepository) TodayAmount(ctx context.Context, customerID string) (float64, error) {
	now := time.Now().In(r.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc)

	query := r.rebind(
		"SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE customer_id = ? AND timestamp >= ?")

	var sum float64
	if err := r.db.QueryRowContext(ctx, query, customerID, midnight).Scan(&sum); err != nil {
		return 0, fmt.Errorf("%w: today amount: %v", domain.ErrStorage, err)
	}
	return sum, nil
}

// CountFailed counts failed-status transactions inside the window.
func (r *SQLRepository) CountFailed(ctx context.Context, customerID string, window time.Duration) (int, error) {
	since := time.Now().Add(-window)
	query := r.rebind(
		"SELECT COUNT(*) FROM transactions WHERE customer_id = ? AND status = ? AND timestamp >= ?")

	var count int
	if err := r.db.QueryRowContext(ctx, query, customerID, domain.StatusFailed, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count failed: %v", domain.ErrStorage, err)
	}
	return count, nil
}

// SubjectAgeDays is the age of the customer's oldest history record.
func (r *SQLRepository) SubjectAgeDays(ctx context.Context, customerID string) (int, error) {
	query := r.rebind(
		"SELECT timestamp FROM transactions WHERE customer_id = ? ORDER BY timestamp ASC LIMIT 1")

	var oldest time.Time
	err := r.db.QueryRowContext(ctx, query, customerID).Scan(&oldest)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: subject age: %v", domain.ErrStorage, err)
	}

	age := int(time.Since(oldest).Hours() / 24)
	if age < 0 {
		age = 0
	}
	return age, nil
}

// SaveTransaction appends the transaction to the behavioral history.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := tx.ValidateForHistory(); err != nil {
		return err
	}

	status := tx.Status
	if status == "" {
		status = domain.StatusCompleted
	}

	query := r.rebind(`
		INSERT INTO transactions (id, customer_id, device_id, ip_address, amount, category, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		tx.ID, tx.CustomerID, tx.DeviceID, tx.IPAddress,
		tx.Amount, string(tx.Category), status, tx.Timestamp, time.Now())
	if err != nil {
		return fmt.Errorf("%w: save transaction: %v", domain.ErrStorage, err)
	}
	return nil
}

// SaveCheckResult persists a completed check. Reasons are stored as a
// JSON array so the audit trail survives round trips unchanged.
func (r *SQLRepository) SaveCheckResult(ctx context.Context, result *domain.FraudCheckResult) error {
	reasons, err := json.Marshal(result.Reasons)
	if err != nil {
		return fmt.Errorf("%w: marshal reasons: %v", domain.ErrStorage, err)
	}

	query := r.rebind(`
		INSERT INTO checks (id, tx_id, customer_id, model_score, velocity_score, score, tier, action, reasons, model_version, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = r.db.ExecContext(ctx, query,
		result.ID, result.TxID, result.CustomerID,
		result.ModelScore, result.VelocityScore, result.Score,
		string(result.Tier), string(result.Action),
		string(reasons), result.ModelVersion, result.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: save check result: %v", domain.ErrStorage, err)
	}
	return nil
}

// GetCheckResult loads a check by id. Returns ErrStorage-wrapped
// sql.ErrNoRows when the id is unknown.
func (r *SQLRepository) GetCheckResult(ctx context.Context, checkID string) (*domain.FraudCheckResult, error) {
	query := r.rebind(`
		SELECT id, tx_id, customer_id, model_score, velocity_score, score, tier, action, reasons, model_version, timestamp
		FROM checks WHERE id = ?`)

	var result domain.FraudCheckResult
	var tier, action, reasons string
	err := r.db.QueryRowContext(ctx, query, checkID).Scan(
		&result.ID, &result.TxID, &result.CustomerID,
		&result.ModelScore, &result.VelocityScore, &result.Score,
		&tier, &action, &reasons, &result.ModelVersion, &result.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: check %s not found", domain.ErrStorage, checkID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get check result: %v", domain.ErrStorage, err)
	}

	result.Tier = domain.RiskTier(tier)
	result.Action = domain.Action(action)
	if reasons != "" {
		if err := json.Unmarshal([]byte(reasons), &result.Reasons); err != nil {
			return nil, fmt.Errorf("%w: unmarshal reasons: %v", domain.ErrStorage, err)
		}
	}
	return &result, nil
}

// SaveFeedback records a ground-truth label for a past check.
func (r *SQLRepository) SaveFeedback(ctx context.Context, fb *domain.Feedback) error {
	if fb.CheckID == "" {
		return fmt.Errorf("%w: check id is required", domain.ErrValidation)
	}

	createdAt := fb.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	fraud := 0
	if fb.ActualFraud {
		fraud = 1
	}

	query := r.rebind(`
		INSERT INTO feedback (check_id, tx_id, actual_fraud, notes, created_at)
		VALUES (?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query, fb.CheckID, fb.TxID, fraud, fb.Notes, createdAt)
	if err != nil {
		return fmt.Errorf("%w: save feedback: %v", domain.ErrStorage, err)
	}
	return nil
}

// CountFeedback counts accumulated feedback rows.
func (r *SQLRepository) CountFeedback(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback").Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count feedback: %v", domain.ErrStorage, err)
	}
	return count, nil
}

// PruneBefore removes transactions and checks older than the cutoff.
func (r *SQLRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64

	res, err := r.db.ExecContext(ctx,
		r.rebind("DELETE FROM transactions WHERE timestamp < ?"), cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: prune transactions: %v", domain.ErrStorage, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = r.db.ExecContext(ctx,
		r.rebind("DELETE FROM checks WHERE timestamp < ?"), cutoff)
	if err != nil {
		return total, fmt.Errorf("%w: prune checks: %v", domain.ErrStorage, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}

// Ping verifies database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return nil
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// DB exposes the underlying handle for maintenance tooling.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}
