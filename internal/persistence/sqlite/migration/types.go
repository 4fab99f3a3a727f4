package migration

import (
	"context"
	"time"
)

// Migration represents a database migration with its metadata and SQL content.
type Migration struct {
	Version     string // Version identifier (e.g., "001", "002")
	Description string
	SQL         string
	FilePath    string
	Checksum    string
}

// AppliedMigration represents a migration that has been successfully applied.
type AppliedMigration struct {
	Version       string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}

// Status provides information about the current migration state.
type Status struct {
	CurrentVersion    string
	PendingCount      int
	AppliedMigrations []AppliedMigration
	PendingMigrations []Migration
}

// Scanner discovers migration files.
type Scanner interface {
	ScanMigrations() ([]Migration, error)
}

// Executor handles the actual execution of migrations against the database.
type Executor interface {
	// ExecuteMigration runs a single migration and records it in one transaction.
	ExecuteMigration(ctx context.Context, migration Migration) error
	// InitializeVersionTable creates the schema_migrations table if it doesn't exist.
	InitializeVersionTable(ctx context.Context) error
	GetAppliedVersions(ctx context.Context) ([]AppliedMigration, error)
}
