package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Manager orchestrates the migration process.
type Manager struct {
	scanner  Scanner
	executor Executor
	logger   *slog.Logger
}

// NewManager creates a new Manager.
func NewManager(scanner Scanner, executor Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{scanner: scanner, executor: executor, logger: logger.With("component", "migration")}
}

// RunMigrations executes all pending migrations in sequential order.
func (m *Manager) RunMigrations(ctx context.Context) error {
	start := time.Now()

	pending, err := m.PendingMigrations(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		m.logger.DebugContext(ctx, "schema up to date")
		return nil
	}

	for i, migration := range pending {
		m.logger.InfoContext(ctx, "applying migration",
			"version", migration.Version,
			"description", migration.Description,
			"position", fmt.Sprintf("%d/%d", i+1, len(pending)),
		)
		if err := m.executor.ExecuteMigration(ctx, migration); err != nil {
			m.logger.ErrorContext(ctx, "migration failed", "version", migration.Version, "error", err)
			return err
		}
	}

	m.logger.InfoContext(ctx, "migrations applied", "count", len(pending), "duration", time.Since(start))
	return nil
}

// PendingMigrations returns the migrations that still need to be applied.
// Applied migrations whose file content changed are reported as ErrChecksumMismatch.
func (m *Manager) PendingMigrations(ctx context.Context) ([]Migration, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, err
	}

	available, err := m.scanner.ScanMigrations()
	if err != nil {
		return nil, err
	}

	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	appliedChecksums := make(map[string]string, len(applied))
	for _, a := range applied {
		appliedChecksums[a.Version] = a.Checksum
	}

	pending := make([]Migration, 0, len(available))
	for _, migration := range available {
		sum, ok := appliedChecksums[migration.Version]
		if !ok {
			pending = append(pending, migration)
			continue
		}
		if sum != "" && sum != migration.Checksum {
			return nil, NewMigrationError(migration.Version, migration.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}

	return pending, nil
}

// Status reports applied and pending migrations.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	pending, err := m.PendingMigrations(ctx)
	if err != nil {
		return Status{}, err
	}

	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return Status{}, err
	}

	status := Status{
		PendingCount:      len(pending),
		AppliedMigrations: applied,
		PendingMigrations: pending,
	}
	for _, a := range applied {
		if versionNumber(a.Version) > versionNumber(status.CurrentVersion) {
			status.CurrentVersion = a.Version
		}
	}
	return status, nil
}
