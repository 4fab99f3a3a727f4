package persistence

import "time"

// Session status values as stored.
const (
	SessionStatusOpen   = "OPEN"
	SessionStatusClosed = "CLOSED"
)

// Attendance status values as stored.
const (
	AttendancePresent = "PRESENT"
	AttendanceAbsent  = "ABSENT"
)

// Aggregate holds the frozen tally written when a session closes.
type Aggregate struct {
	TotalStudents int
	Present       int
	Absent        int
}

// Session represents one lecture's attendance-taking unit.
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
	Status         string
	Version        int64
	Aggregate      *Aggregate
	ClosedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AttendanceRecord represents one student's mark inside a session.
type AttendanceRecord struct {
	SessionID string
	StudentID string
	Status    string
	MarkedAt  time.Time
	MarkedBy  string
}

// RecordWrite is a single requested mark passed to UpsertRecords.
type RecordWrite struct {
	StudentID string
	Status    string
	MarkedBy  string
}

// Course is a read-only catalog entry maintained outside the engine.
type Course struct {
	ID             string
	Name           string
	Subject        string
	SubjectCode    string
	DepartmentID   string
	DepartmentName string
}

// CourseEntry is a course together with its ordered enrollment list.
type CourseEntry struct {
	Course   Course
	Students []string
}
