// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/billguard/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

const billDateLayout = "2006-01-02"

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
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
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRecords upserts billing records by bill id in a single transaction.
func (r *SQLRepository) SaveRecords(ctx context.Context, records []domain.BillingRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO billing_records (
			bill_id, branch_id, bill_date, operator_id, business_type,
			charged_amount, discount_amount, net_amount,
			operation_time, operation_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bill_id) DO UPDATE SET
			branch_id = excluded.branch_id,
			bill_date = excluded.bill_date,
			operator_id = excluded.operator_id,
			business_type = excluded.business_type,
			charged_amount = excluded.charged_amount,
			discount_amount = excluded.discount_amount,
			net_amount = excluded.net_amount,
			operation_time = excluded.operation_time,
			operation_unix = excluded.operation_unix
	`

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range records {
		rec := &records[i]
		if rec.BillID == "" {
			return fmt.Errorf("%w: record %d has no bill id", ErrInvalidInput, i)
		}
		_, err := stmt.ExecContext(ctx,
			rec.BillID, rec.BranchID, rec.BillDay().Format(billDateLayout),
			rec.OperatorID, string(rec.BusinessType),
			rec.ChargedAmount.String(), rec.DiscountAmount.String(), rec.NetAmount.String(),
			rec.OperationTime.Format(time.RFC3339Nano), rec.OperationTime.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("save record %s: %w", rec.BillID, err)
		}
	}

	return tx.Commit()
}

// ListRecords returns the archived records with from <= operation time < to,
// oldest first. A zero bound is open.
func (r *SQLRepository) ListRecords(ctx context.Context, from, to time.Time) ([]domain.BillingRecord, error) {
	lo := int64(-1 << 63)
	hi := int64(1<<63 - 1)
	if !from.IsZero() {
		lo = from.UnixNano()
	}
	if !to.IsZero() {
		hi = to.UnixNano()
	}

	query := `
		SELECT bill_id, branch_id, bill_date, operator_id, business_type,
			   charged_amount, discount_amount, net_amount, operation_time
		FROM billing_records
		WHERE operation_unix >= ? AND operation_unix < ?
		ORDER BY operation_unix, bill_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.BillingRecord
	for rows.Next() {
		var rec domain.BillingRecord
		var billDate, businessType, charged, discount, net, opTime string

		if err := rows.Scan(
			&rec.BillID, &rec.BranchID, &billDate, &rec.OperatorID, &businessType,
			&charged, &discount, &net, &opTime,
		); err != nil {
			return nil, err
		}

		if err := decodeRecord(&rec, billDate, businessType, charged, discount, net, opTime); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", rec.BillID, err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func decodeRecord(rec *domain.BillingRecord, billDate, businessType, charged, discount, net, opTime string) error {
	var err error
	if rec.OperationTime, err = time.Parse(time.RFC3339Nano, opTime); err != nil {
		return err
	}
	if rec.BillDate, err = time.ParseInLocation(billDateLayout, billDate, rec.OperationTime.Location()); err != nil {
		return err
	}
	if rec.ChargedAmount, err = decimal.NewFromString(charged); err != nil {
		return err
	}
	if rec.DiscountAmount, err = decimal.NewFromString(discount); err != nil {
		return err
	}
	if rec.NetAmount, err = decimal.NewFromString(net); err != nil {
		return err
	}
	rec.BusinessType = domain.BusinessType(businessType)
	return nil
}

// SaveRun stores a detection run and its scored records.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.DetectionRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	summary, _ := json.Marshal(run.Summary)
	breakdown, _ := json.Marshal(run.Breakdown)
	skipped, _ := json.Marshal(run.Skipped)
	metadata, _ := json.Marshal(run.Metadata)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO detection_runs (
			id, created_at, summary, breakdown, skipped, metadata
		) VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(query),
		run.ID, run.CreatedAt.UnixNano(),
		string(summary), string(breakdown), string(skipped), string(metadata),
	); err != nil {
		return err
	}

	scoreQuery := `
		INSERT INTO risk_scores (
			run_id, position, bill_id, operator_id, business_type,
			score, band, dimensions, boosts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, r.rebind(scoreQuery))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, s := range run.Scores {
		dims, _ := json.Marshal(s.Dimensions)
		boosts, _ := json.Marshal(s.Boosts)
		if _, err := stmt.ExecContext(ctx,
			run.ID, i, s.BillID, s.OperatorID, string(s.BusinessType),
			s.Score, string(s.Band), string(dims), string(boosts),
		); err != nil {
			return fmt.Errorf("save score %s: %w", s.BillID, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a detection run with its scores in batch order.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.DetectionRun, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, created_at, summary, breakdown, skipped, metadata
		FROM detection_runs
		WHERE id = ?
	`

	var run domain.DetectionRun
	var createdAt int64
	var summary, breakdown, metadata string
	var skipped sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), runID).Scan(
		&run.ID, &createdAt, &summary, &breakdown, &skipped, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.CreatedAt = time.Unix(0, createdAt).UTC()
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return nil, fmt.Errorf("failed to parse run summary: %w", err)
	}
	json.Unmarshal([]byte(breakdown), &run.Breakdown)
	json.Unmarshal([]byte(metadata), &run.Metadata)
	if skipped.Valid && skipped.String != "" {
		json.Unmarshal([]byte(skipped.String), &run.Skipped)
	}

	scores, err := r.listScores(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Scores = scores

	return &run, nil
}

func (r *SQLRepository) listScores(ctx context.Context, runID string) ([]domain.ScoredRecord, error) {
	query := `
		SELECT bill_id, operator_id, business_type, score, band, dimensions, boosts
		FROM risk_scores
		WHERE run_id = ?
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make([]domain.ScoredRecord, 0)
	for rows.Next() {
		var s domain.ScoredRecord
		var businessType, band, dims, boosts string

		if err := rows.Scan(
			&s.BillID, &s.OperatorID, &businessType, &s.Score, &band, &dims, &boosts,
		); err != nil {
			return nil, err
		}

		s.BusinessType = domain.BusinessType(businessType)
		s.Band = domain.Band(band)
		json.Unmarshal([]byte(dims), &s.Dimensions)
		json.Unmarshal([]byte(boosts), &s.Boosts)
		scores = append(scores, s)
	}

	return scores, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
