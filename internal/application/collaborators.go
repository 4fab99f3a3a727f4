package application

import (
	"context"
	"time"
)

// SessionStore captures the session persistence operations needed by the services.
type SessionStore interface {
	// CreateSession stores an OPEN session together with its seeded records atomically.
	CreateSession(ctx context.Context, session Session, records []AttendanceRecord) error
	GetSession(ctx context.Context, id string) (Session, error)
	// CloseSession is the compare-and-set transition from OPEN at expectedVersion to CLOSED.
	CloseSession(ctx context.Context, id string, expectedVersion int64, aggregate Aggregate, closedAt time.Time) (Session, error)
	ListSessionsByTeacher(ctx context.Context, teacherID string) ([]Session, error)
	ListSessionsByDepartment(ctx context.Context, departmentID string) ([]Session, error)
}

// RecordStore captures the attendance record persistence operations.
type RecordStore interface {
	UpsertRecords(ctx context.Context, sessionID string, writes []RecordWrite, markedAt time.Time) (int, error)
	ListRecordsBySession(ctx context.Context, sessionID string) ([]AttendanceRecord, error)
}

// RosterProvider returns the ordered student ids enrolled in a course.
type RosterProvider interface {
	EnrolledStudents(ctx context.Context, courseID string) ([]string, error)
}

// CourseDirectory resolves course metadata used to label sessions.
type CourseDirectory interface {
	GetCourse(ctx context.Context, courseID string) (Course, error)
}

// EventPublisher receives lifecycle events. Publish must not block.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}
