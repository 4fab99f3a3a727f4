package application

import (
	"strings"
	"time"
)

// Principal represents the authenticated actor invoking a service method.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// SessionStatus is the lifecycle state of a session. OPEN is initial, CLOSED terminal.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "OPEN"
	SessionClosed SessionStatus = "CLOSED"
)

// AttendanceStatus is a student's mark within a session.
type AttendanceStatus string

const (
	Present AttendanceStatus = "PRESENT"
	Absent  AttendanceStatus = "ABSENT"
)

// ParseAttendanceStatus accepts PRESENT or ABSENT in any letter case.
func ParseAttendanceStatus(value string) (AttendanceStatus, bool) {
	switch AttendanceStatus(strings.ToUpper(strings.TrimSpace(value))) {
	case Present:
		return Present, true
	case Absent:
		return Absent, true
	default:
		return "", false
	}
}

// Aggregate is the tally of a session. It is frozen onto the session at close.
type Aggregate struct {
	TotalStudents int
	Present       int
	Absent        int
}

// Session is one lecture's attendance-taking unit.
type Session struct {
	ID             string
	CourseID       string
	TeacherID      string
	DepartmentID   string
	CourseName     string
	Subject        string
	SubjectCode    string
	DepartmentName string
	LectureDate    time.Time
	LectureNumber  int
	Status         SessionStatus
	Version        int64
	// Aggregate is nil while the session is OPEN.
	Aggregate *Aggregate
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OwnedBy reports whether principal may act on the session.
func (s Session) OwnedBy(principal Principal) bool {
	return principal.IsAdmin || (principal.UserID != "" && principal.UserID == s.TeacherID)
}

// AttendanceRecord is a single student's mark within a session.
type AttendanceRecord struct {
	SessionID string
	StudentID string
	Status    AttendanceStatus
	MarkedAt  time.Time
	MarkedBy  string
}

// RecordWrite is a mark handed to the record store.
type RecordWrite struct {
	StudentID string
	Status    AttendanceStatus
	MarkedBy  string
}

// Mark is a requested status for one student.
type Mark struct {
	StudentID string
	Status    AttendanceStatus
}

// Course describes a course as known to the external course directory.
type Course struct {
	ID             string
	Name           string
	Subject        string
	SubjectCode    string
	DepartmentID   string
	DepartmentName string
}

// OpenSessionParams wraps the data required to open a session.
type OpenSessionParams struct {
	Principal Principal
	// TeacherID defaults to the principal.
	TeacherID     string
	CourseID      string
	LectureDate   time.Time
	LectureNumber int
}

// MarkAttendanceParams wraps a bulk mark or edit request.
type MarkAttendanceParams struct {
	Principal Principal
	SessionID string
	Marks     []Mark
}

// ReportRow is the per-session projection produced by the report service.
type ReportRow struct {
	SessionID            string
	LectureDate          time.Time
	LectureNumber        int
	Subject              string
	SubjectCode          string
	Course               string
	Department           string
	Status               SessionStatus
	TotalStudents        int
	Present              int
	Absent               int
	AttendancePercentage int
}

// ReportSummary is the student-weighted roll-up across all rows.
type ReportSummary struct {
	TotalStudents        int
	Present              int
	Absent               int
	AttendancePercentage int
}

// Report is the output of BuildReport.
type Report struct {
	TotalLectures int
	Rows          []ReportRow
	Summary       ReportSummary
}

// EventType names a lifecycle event published to subscribers.
type EventType string

const (
	EventSessionOpened    EventType = "session.opened"
	EventAttendanceMarked EventType = "attendance.marked"
	EventSessionClosed    EventType = "session.closed"
)

// Event describes a lifecycle change of one session.
type Event struct {
	Type      EventType
	SessionID string
	TeacherID string
	Status    SessionStatus
	Tally     Aggregate
	Changed   int
	At        time.Time
}
