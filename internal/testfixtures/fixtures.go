package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/attendance-engine/internal/persistence"
)

var (
	courseCounter  uint64
	sessionCounter uint64
)

var referenceTime = time.Date(2026, time.April, 6, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Course fixtures -----------------------------

// CourseFixture is a deterministic catalog course with its ordered roster.
type CourseFixture struct {
	Course   persistence.Course
	Students []string
}

// CourseOption configures the generated course fixture.
type CourseOption func(*CourseFixture)

// NewCourseFixture returns a course in department "dept-cs" with a five student roster.
func NewCourseFixture(opts ...CourseOption) CourseFixture {
	idx := atomic.AddUint64(&courseCounter, 1)
	id := fmt.Sprintf("course-%03d", idx)
	fixture := CourseFixture{
		Course: persistence.Course{
			ID:             id,
			Name:           fmt.Sprintf("Course %03d", idx),
			Subject:        "Operating Systems",
			SubjectCode:    fmt.Sprintf("CS%03d", 300+idx),
			DepartmentID:   "dept-cs",
			DepartmentName: "Computer Science",
		},
		Students: Roster(id, 5),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithCourseID overrides the generated course ID. The roster keeps its ids.
func WithCourseID(id string) CourseOption {
	return func(f *CourseFixture) {
		f.Course.ID = id
	}
}

// WithCourseDepartment sets the department id and display name.
func WithCourseDepartment(id, name string) CourseOption {
	return func(f *CourseFixture) {
		f.Course.DepartmentID = id
		f.Course.DepartmentName = name
	}
}

// WithCourseStudents replaces the roster.
func WithCourseStudents(students ...string) CourseOption {
	return func(f *CourseFixture) {
		f.Students = append([]string(nil), students...)
	}
}

// WithCourseRosterSize replaces the roster with n generated students.
func WithCourseRosterSize(n int) CourseOption {
	return func(f *CourseFixture) {
		f.Students = Roster(f.Course.ID, n)
	}
}

// Roster returns n student ids of the form "<prefix>-s01" in ascending order.
func Roster(prefix string, n int) []string {
	students := make([]string, n)
	for i := range students {
		students[i] = fmt.Sprintf("%s-s%02d", prefix, i+1)
	}
	return students
}

// ----------------------------- Session fixtures -----------------------------

// SessionOption configures a generated session.
type SessionOption func(*persistence.Session)

// NewSession returns an OPEN session for course taught by teacherID.
func NewSession(course persistence.Course, teacherID string, opts ...SessionOption) persistence.Session {
	idx := atomic.AddUint64(&sessionCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	session := persistence.Session{
		ID:             fmt.Sprintf("fixture-session-%03d", idx),
		CourseID:       course.ID,
		TeacherID:      teacherID,
		DepartmentID:   course.DepartmentID,
		CourseName:     course.Name,
		Subject:        course.Subject,
		SubjectCode:    course.SubjectCode,
		DepartmentName: course.DepartmentName,
		LectureDate:    time.Date(2026, time.April, 6, 0, 0, 0, 0, time.UTC),
		LectureNumber:  1,
		Status:         persistence.SessionStatusOpen,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	for _, opt := range opts {
		opt(&session)
	}
	return session
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) SessionOption {
	return func(s *persistence.Session) {
		s.ID = id
	}
}

// WithLecture sets the lecture date and number.
func WithLecture(date time.Time, number int) SessionOption {
	return func(s *persistence.Session) {
		s.LectureDate = date
		s.LectureNumber = number
	}
}

// SeedRecords builds the ABSENT record set a freshly opened session carries.
func SeedRecords(session persistence.Session, students []string) []persistence.AttendanceRecord {
	records := make([]persistence.AttendanceRecord, len(students))
	for i, student := range students {
		records[i] = persistence.AttendanceRecord{
			SessionID: session.ID,
			StudentID: student,
			Status:    persistence.AttendanceAbsent,
			MarkedAt:  session.CreatedAt,
			MarkedBy:  session.TeacherID,
		}
	}
	return records
}

// Writes builds one RecordWrite per student with the same status.
func Writes(status, markedBy string, students ...string) []persistence.RecordWrite {
	writes := make([]persistence.RecordWrite, len(students))
	for i, student := range students {
		writes[i] = persistence.RecordWrite{StudentID: student, Status: status, MarkedBy: markedBy}
	}
	return writes
}
