package repository

// Schema definitions for the BillGuard archive.
// Compatible with both SQLite and PostgreSQL.

// Amounts are stored as decimal strings. operation_unix carries the
// operation instant for range queries; operation_time keeps the original
// offset so hour-of-day is preserved on reload.
const schemaBillingRecords = `
CREATE TABLE IF NOT EXISTS billing_records (
    bill_id TEXT PRIMARY KEY,
    branch_id TEXT NOT NULL,
    bill_date TEXT NOT NULL,
    operator_id TEXT NOT NULL,
    business_type TEXT NOT NULL,
    charged_amount TEXT NOT NULL,
    discount_amount TEXT NOT NULL,
    net_amount TEXT NOT NULL,
    operation_time TEXT NOT NULL,
    operation_unix BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_billing_records_operation ON billing_records(operation_unix);
CREATE INDEX IF NOT EXISTS idx_billing_records_operator ON billing_records(operator_id, operation_unix);
`

const schemaDetectionRuns = `
CREATE TABLE IF NOT EXISTS detection_runs (
    id TEXT PRIMARY KEY,
    created_at BIGINT NOT NULL,
    summary TEXT NOT NULL,
    breakdown TEXT NOT NULL,
    skipped TEXT,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_detection_runs_created ON detection_runs(created_at);
`

// schemaRiskScores holds one row per scored record of a run. position keeps
// the input order of the batch.
const schemaRiskScores = `
CREATE TABLE IF NOT EXISTS risk_scores (
    run_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    bill_id TEXT NOT NULL,
    operator_id TEXT NOT NULL,
    business_type TEXT NOT NULL,
    score REAL NOT NULL,
    band TEXT NOT NULL,
    dimensions TEXT NOT NULL,
    boosts TEXT NOT NULL,
    PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_risk_scores_band ON risk_scores(run_id, band);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBillingRecords,
		schemaDetectionRuns,
		schemaRiskScores,
	}
}
