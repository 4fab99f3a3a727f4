package persistence

import (
	"context"
	"time"
)

// SessionRepository stores session metadata and guards the OPEN to CLOSED transition.
type SessionRepository interface {
	// CreateSession persists an OPEN session together with its seeded records.
	// Either both are stored or neither is.
	CreateSession(ctx context.Context, session Session, records []AttendanceRecord) error
	GetSession(ctx context.Context, id string) (Session, error)
	// CloseSession atomically moves an OPEN session at expectedVersion to CLOSED
	// and writes its aggregate. It returns ErrVersionConflict or ErrAlreadyClosed
	// without side effects when the guard fails.
	CloseSession(ctx context.Context, id string, expectedVersion int64, aggregate Aggregate, closedAt time.Time) (Session, error)
	// ListSessionsByTeacher orders by lecture date desc, lecture number desc, id asc.
	ListSessionsByTeacher(ctx context.Context, teacherID string) ([]Session, error)
	ListSessionsByDepartment(ctx context.Context, departmentID string) ([]Session, error)
}

// RecordRepository stores per-student marks.
type RecordRepository interface {
	// UpsertRecords applies writes to an OPEN session and returns the number of
	// records whose status actually changed. The session status is checked in
	// the same atomic step as the writes. A changed batch bumps the session version.
	UpsertRecords(ctx context.Context, sessionID string, writes []RecordWrite, markedAt time.Time) (int, error)
	// ListRecordsBySession orders by student id.
	ListRecordsBySession(ctx context.Context, sessionID string) ([]AttendanceRecord, error)
}

// CourseCatalog exposes the externally maintained courses and enrollments.
type CourseCatalog interface {
	GetCourse(ctx context.Context, id string) (Course, error)
	ListEnrollments(ctx context.Context, courseID string) ([]string, error)
}

// CatalogWriter loads courses and their enrollments into a backend.
type CatalogWriter interface {
	// PutCourse inserts or replaces course and its ordered enrollment list.
	PutCourse(ctx context.Context, course Course, studentIDs []string) error
	// PutCourses writes every entry or none of them.
	PutCourses(ctx context.Context, entries []CourseEntry) error
}

// Store is a complete storage backend.
type Store interface {
	SessionRepository
	RecordRepository
	CourseCatalog
	CatalogWriter
	Ping(ctx context.Context) error
	Close() error
}
