// Package migration applies versioned schema changes to a SQLite database.
//
// Migrations are read from an fs.FS (normally an embedded directory) and must be
// named {version}_{description}.sql, e.g. "001_initial_schema.sql". Each file is
// executed in its own transaction together with the row recording it in the
// schema_migrations table, so a failed migration leaves no trace.
//
// Example usage:
//
//	manager := NewManager(NewScanner(migrationsFS, "migrations"), NewSQLiteExecutor(db), logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
