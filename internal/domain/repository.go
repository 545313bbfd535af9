// Package domain defines the core interfaces and types for BillGuard.
package domain

import (
	"context"
	"time"
)

// Repository archives billing records and detection runs.
type Repository interface {
	// Billing record archive
	SaveRecords(ctx context.Context, records []BillingRecord) error
	ListRecords(ctx context.Context, from, to time.Time) ([]BillingRecord, error)

	// Detection runs
	SaveRun(ctx context.Context, run *DetectionRun) error
	GetRun(ctx context.Context, runID string) (*DetectionRun, error)

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
