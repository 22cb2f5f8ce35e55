package repository

// Schema definitions for the Kestrel transaction log.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    destination_account_id TEXT,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    kind TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    ip_address TEXT,
    client_id TEXT,
    country TEXT,
    region TEXT,
    latitude REAL,
    longitude REAL,
    device_fingerprint TEXT,
    session_id TEXT,
    decision TEXT NOT NULL,
    status TEXT NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_subject ON transactions(subject_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(subject_id, status, timestamp);
`

const schemaScores = `
CREATE TABLE IF NOT EXISTS risk_scores (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    overall_risk INTEGER NOT NULL,
    fraud_probability REAL NOT NULL,
    ml_unavailable INTEGER NOT NULL DEFAULT 0,
    rule_score REAL NOT NULL,
    behavior_score REAL NOT NULL,
    velocity_score REAL NOT NULL,
    account_risk REAL NOT NULL,
    decision TEXT NOT NULL,
    confidence REAL NOT NULL,
    requires_authentication INTEGER NOT NULL DEFAULT 0,
    requires_manual_review INTEGER NOT NULL DEFAULT 0,
    factors TEXT NOT NULL,
    reasons TEXT NOT NULL,
    evaluated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_scores_tx ON risk_scores(transaction_id);
CREATE INDEX IF NOT EXISTS idx_risk_scores_subject ON risk_scores(subject_id, evaluated_at);
`

const schemaRuleScripts = `
CREATE TABLE IF NOT EXISTS rule_scripts (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    threshold REAL NOT NULL DEFAULT 0,
    suggested_action TEXT NOT NULL DEFAULT 'flag',
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_scripts_enabled ON rule_scripts(enabled);
`

// AllSchemas returns schemas in dependency order for migration.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaScores,
		schemaRuleScripts,
	}
}
