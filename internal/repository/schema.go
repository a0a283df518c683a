package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    device_id TEXT,
    ip_address TEXT,
    amount REAL NOT NULL,
    category TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'completed',
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_device ON transactions(device_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_ip ON transactions(ip_address, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(customer_id, status, timestamp);
`

const schemaChecks = `
CREATE TABLE IF NOT EXISTS checks (
    id TEXT PRIMARY KEY,
    tx_id TEXT,
    customer_id TEXT,
    model_score REAL NOT NULL,
    velocity_score REAL NOT NULL,
    score REAL NOT NULL,
    tier TEXT NOT NULL,
    action TEXT NOT NULL,
    reasons TEXT,
    model_version TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checks_tx ON checks(tx_id);
CREATE INDEX IF NOT EXISTS idx_checks_customer ON checks(customer_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_checks_timestamp ON checks(timestamp);
`

// Feedback rows feed the external retraining workflow; the trainer
// reads this table directly through the database path it is handed.
const schemaFeedback = `
CREATE TABLE IF NOT EXISTS feedback (
    check_id TEXT PRIMARY KEY,
    tx_id TEXT,
    actual_fraud INTEGER NOT NULL,
    notes TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaChecks,
		schemaFeedback,
	}
}
