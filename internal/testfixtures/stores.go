package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/attendance-engine/internal/persistence"
	"github.com/example/attendance-engine/internal/persistence/memory"
	"github.com/example/attendance-engine/internal/persistence/sqlite"
)

// StoreHarness wraps one storage backend for contract and integration tests.
type StoreHarness struct {
	Name  string
	Store persistence.Store

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *StoreHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// SeedCourse loads fixture into the harness catalog.
func (h *StoreHarness) SeedCourse(tb testing.TB, fixture CourseFixture) {
	tb.Helper()
	if err := h.Store.PutCourse(context.Background(), fixture.Course, fixture.Students); err != nil {
		tb.Fatalf("%s: seed course %s: %v", h.Name, fixture.Course.ID, err)
	}
}

// OpenSession stores session with one ABSENT record per student.
func (h *StoreHarness) OpenSession(tb testing.TB, session persistence.Session, students []string) persistence.Session {
	tb.Helper()
	if err := h.Store.CreateSession(context.Background(), session, SeedRecords(session, students)); err != nil {
		tb.Fatalf("%s: create session %s: %v", h.Name, session.ID, err)
	}
	stored, err := h.Store.GetSession(context.Background(), session.ID)
	if err != nil {
		tb.Fatalf("%s: reload session %s: %v", h.Name, session.ID, err)
	}
	return stored
}

// NewSQLiteHarness constructs a harness over a temporary, migrated SQLite file.
// The helper registers a cleanup callback with tb; calling Close is optional.
func NewSQLiteHarness(tb testing.TB) *StoreHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "attendance.db")
	storage, err := sqlite.Open(sqlite.DefaultConfig(path), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &StoreHarness{
		Name:  "sqlite",
		Store: storage,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}

// NewMemoryHarness constructs a harness over a fresh in-memory store.
func NewMemoryHarness(tb testing.TB) *StoreHarness {
	tb.Helper()

	storage := memory.Open()
	harness := &StoreHarness{
		Name:  "memory",
		Store: storage,
		cleanup: func() {
			_ = storage.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}

// ForEachStore runs fn as a subtest against every storage backend.
func ForEachStore(t *testing.T, fn func(t *testing.T, h *StoreHarness)) {
	t.Helper()

	for name, build := range map[string]func(testing.TB) *StoreHarness{
		"memory": NewMemoryHarness,
		"sqlite": NewSQLiteHarness,
	} {
		t.Run(name, func(t *testing.T) {
			fn(t, build(t))
		})
	}
}
