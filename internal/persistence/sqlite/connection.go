package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/attendance-engine/internal/persistence"
	_ "modernc.org/sqlite"
)

// Config holds SQLite connection settings.
type Config struct {
	// Path is the database file path. A value containing "?" is used verbatim as DSN.
	Path            string
	BusyTimeout     time.Duration
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns production settings for the database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		BusyTimeout:     5 * time.Second,
		MaxOpenConns:    4,
		ConnMaxLifetime: time.Hour,
	}
}

// DSN renders the modernc.org/sqlite connection string. Transactions begin
// IMMEDIATE so that a status check and the writes it guards share one write lock.
func (c Config) DSN() string {
	if strings.Contains(c.Path, "?") {
		return c.Path
	}
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate",
		strings.TrimPrefix(c.Path, "file:"), busy.Milliseconds())
}

// ConnectionPool manages SQLite database connections with transaction support.
type ConnectionPool struct {
	db *sql.DB
}

// NewConnectionPool opens the database described by cfg.
func NewConnectionPool(cfg Config) (*ConnectionPool, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite: database path is required")
	}

	db, err := sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &ConnectionPool{db: db}, nil
}

// DB returns the underlying database connection.
func (cp *ConnectionPool) DB() *sql.DB {
	return cp.db
}

// Close closes the connection pool.
func (cp *ConnectionPool) Close() error {
	if cp.db != nil {
		return cp.db.Close()
	}
	return nil
}

// Ping tests the database connection.
func (cp *ConnectionPool) Ping(ctx context.Context) error {
	return cp.db.PingContext(ctx)
}

// TransactionFunc represents a function that executes within a transaction.
type TransactionFunc func(tx *sql.Tx) error

// WithTransaction executes fn within a database transaction. The transaction is
// rolled back when fn returns an error or panics, and committed otherwise.
func (cp *ConnectionPool) WithTransaction(ctx context.Context, fn TransactionFunc) (err error) {
	tx, err := cp.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

// mapError maps SQLite errors to persistence layer errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}

	errStr := err.Error()
	switch {
	case containsAny(errStr, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
	case containsAny(errStr, "CHECK constraint failed", "NOT NULL constraint failed", "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	}
	return err
}

func containsAny(s string, substrings ...string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

const (
	dateLayout      = "2006-01-02"
	timestampLayout = time.RFC3339Nano
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(timestampLayout, value)
}

type rowScanner interface {
	Scan(dest ...any) error
}
