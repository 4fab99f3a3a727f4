package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/example/attendance-engine/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Storage bundles the SQLite repositories over one connection pool.
type Storage struct {
	*SessionRepository
	*RecordRepository
	*CatalogRepository

	pool   *ConnectionPool
	logger *slog.Logger
}

// Open connects to the database described by cfg. Call Migrate before use.
func Open(cfg Config, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := NewConnectionPool(cfg)
	if err != nil {
		return nil, err
	}

	return &Storage{
		SessionRepository: NewSessionRepository(pool),
		RecordRepository:  NewRecordRepository(pool),
		CatalogRepository: NewCatalogRepository(pool),
		pool:              pool,
		logger:            logger,
	}, nil
}

// Migrate applies pending schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	manager := migration.NewManager(
		migration.NewScanner(migrationFiles, "migrations"),
		migration.NewSQLiteExecutor(s.pool.DB()),
		s.logger,
	)
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Ping tests the database connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}
