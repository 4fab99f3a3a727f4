package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteExecutor implements the Executor interface for SQLite databases.
type SQLiteExecutor struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteExecutor creates a new SQLite migration executor.
func NewSQLiteExecutor(db *sql.DB) *SQLiteExecutor {
	return &SQLiteExecutor{db: db, now: time.Now}
}

// ExecuteMigration runs a single migration within a transaction.
func (e *SQLiteExecutor) ExecuteMigration(ctx context.Context, migration Migration) (err error) {
	start := e.now()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return NewMigrationError(migration.Version, migration.FilePath, "begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	statements := SplitStatements(migration.SQL)
	if len(statements) == 0 {
		return NewMigrationError(migration.Version, migration.FilePath, "parse SQL", ErrEmptyMigration)
	}

	for i, stmt := range statements {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			return NewMigrationError(migration.Version, migration.FilePath,
				fmt.Sprintf("execute statement %d", i+1), fmt.Errorf("%w: %v", ErrMigrationFailed, execErr))
		}
	}

	elapsed := e.now().Sub(start)
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms) VALUES (?, ?, ?, ?)`,
		migration.Version,
		e.now().UTC().Format(time.RFC3339),
		migration.Checksum,
		elapsed.Milliseconds(),
	); err != nil {
		return NewMigrationError(migration.Version, migration.FilePath, "record migration", err)
	}

	if err = tx.Commit(); err != nil {
		return NewMigrationError(migration.Version, migration.FilePath, "commit transaction", err)
	}
	return nil
}

// InitializeVersionTable creates the schema_migrations table if it doesn't exist.
func (e *SQLiteExecutor) InitializeVersionTable(ctx context.Context) error {
	const createTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			execution_time_ms INTEGER NOT NULL DEFAULT 0
		)`

	if _, err := e.db.ExecContext(ctx, createTableSQL); err != nil {
		return NewMigrationError("", "", "create schema_migrations table", err)
	}
	return nil
}

// GetAppliedVersions returns all applied migration versions with timestamps.
func (e *SQLiteExecutor) GetAppliedVersions(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT version, applied_at, execution_time_ms, checksum
		FROM schema_migrations
		ORDER BY version ASC`)
	if err != nil {
		return nil, NewMigrationError("", "", "get applied versions", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			m               AppliedMigration
			appliedAtStr    string
			executionTimeMs int64
		)
		if err := rows.Scan(&m.Version, &appliedAtStr, &executionTimeMs, &m.Checksum); err != nil {
			return nil, NewMigrationError("", "", "scan applied migration", err)
		}
		if m.AppliedAt, err = time.Parse(time.RFC3339, appliedAtStr); err != nil {
			return nil, NewMigrationError(m.Version, "", "parse applied_at", err)
		}
		m.ExecutionTime = time.Duration(executionTimeMs) * time.Millisecond
		applied = append(applied, m)
	}
	if err := rows.Err(); err != nil {
		return nil, NewMigrationError("", "", "iterate applied migrations", err)
	}

	return applied, nil
}
