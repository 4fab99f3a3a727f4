package migration

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFileName is returned for files that do not follow {version}_{description}.sql.
	ErrInvalidFileName = errors.New("migration: invalid file name")
	// ErrDuplicateVersion is returned when two files share a version.
	ErrDuplicateVersion = errors.New("migration: duplicate version")
	// ErrEmptyMigration is returned for files without SQL statements.
	ErrEmptyMigration = errors.New("migration: no SQL statements")
	// ErrChecksumMismatch is returned when an applied migration file changed afterwards.
	ErrChecksumMismatch = errors.New("migration: checksum mismatch")
	// ErrMigrationFailed is returned when a migration could not be applied.
	ErrMigrationFailed = errors.New("migration: execution failed")
)

// MigrationError carries the version and operation that failed.
type MigrationError struct {
	Version   string
	FilePath  string
	Operation string
	Err       error
}

// Error implements the error interface.
func (e *MigrationError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("migration %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("migration %s (%s) %s: %v", e.Version, e.FilePath, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// NewMigrationError wraps err with migration context.
func NewMigrationError(version, filePath, operation string, err error) *MigrationError {
	return &MigrationError{Version: version, FilePath: filePath, Operation: operation, Err: err}
}
