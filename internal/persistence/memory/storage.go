package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/attendance-engine/internal/persistence"
)

// Storage provides an in-process implementation of the persistence repositories.
// The session map is guarded by a single RWMutex while every session carries its
// own mutex, so writes to different sessions never contend.
type Storage struct {
	mu          sync.RWMutex
	sessions    map[string]*sessionEntry
	courses     map[string]persistence.Course
	enrollments map[string][]string
}

type sessionEntry struct {
	mu      sync.Mutex
	session persistence.Session
	records map[string]persistence.AttendanceRecord
}

// Open returns a new, empty Storage instance.
func Open() *Storage {
	return &Storage{
		sessions:    make(map[string]*sessionEntry),
		courses:     make(map[string]persistence.Course),
		enrollments: make(map[string][]string),
	}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// Ping reports storage health. Always healthy.
func (s *Storage) Ping(context.Context) error {
	return nil
}

// --- SessionRepository implementation ---

// CreateSession stores a new OPEN session with its seeded records.
func (s *Storage) CreateSession(ctx context.Context, session persistence.Session, records []persistence.AttendanceRecord) error {
	if session.ID == "" || session.CourseID == "" || session.TeacherID == "" {
		return persistence.ErrConstraintViolation
	}

	entry := &sessionEntry{
		session: cloneSession(session),
		records: make(map[string]persistence.AttendanceRecord, len(records)),
	}
	entry.session.Status = persistence.SessionStatusOpen
	entry.session.Aggregate = nil
	entry.session.ClosedAt = nil
	for _, record := range records {
		if record.SessionID != session.ID || record.StudentID == "" {
			return persistence.ErrConstraintViolation
		}
		if _, ok := entry.records[record.StudentID]; ok {
			return persistence.ErrDuplicate
		}
		entry.records[record.StudentID] = record
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return persistence.ErrDuplicate
	}
	s.sessions[session.ID] = entry
	return nil
}

// GetSession retrieves a session by ID.
func (s *Storage) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	entry, ok := s.entry(id)
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneSession(entry.session), nil
}

// CloseSession performs the version-guarded OPEN to CLOSED transition.
func (s *Storage) CloseSession(ctx context.Context, id string, expectedVersion int64, aggregate persistence.Aggregate, closedAt time.Time) (persistence.Session, error) {
	entry, ok := s.entry(id)
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.session.Status != persistence.SessionStatusOpen {
		return persistence.Session{}, persistence.ErrAlreadyClosed
	}
	if entry.session.Version != expectedVersion {
		return persistence.Session{}, persistence.ErrVersionConflict
	}

	agg := aggregate
	closed := closedAt
	entry.session.Status = persistence.SessionStatusClosed
	entry.session.Aggregate = &agg
	entry.session.ClosedAt = &closed
	entry.session.Version++
	entry.session.UpdatedAt = closedAt

	return cloneSession(entry.session), nil
}

// ListSessionsByTeacher returns the sessions owned by teacherID.
func (s *Storage) ListSessionsByTeacher(ctx context.Context, teacherID string) ([]persistence.Session, error) {
	return s.listSessions(func(session persistence.Session) bool {
		return session.TeacherID == teacherID
	}), nil
}

// ListSessionsByDepartment returns the sessions recorded for departmentID.
func (s *Storage) ListSessionsByDepartment(ctx context.Context, departmentID string) ([]persistence.Session, error) {
	return s.listSessions(func(session persistence.Session) bool {
		return session.DepartmentID == departmentID
	}), nil
}

func (s *Storage) listSessions(match func(persistence.Session) bool) []persistence.Session {
	s.mu.RLock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, entry := range s.sessions {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	sessions := make([]persistence.Session, 0)
	for _, entry := range entries {
		entry.mu.Lock()
		session := cloneSession(entry.session)
		entry.mu.Unlock()
		if match(session) {
			sessions = append(sessions, session)
		}
	}

	SortSessions(sessions)
	return sessions
}

// --- RecordRepository implementation ---

// UpsertRecords applies writes while the session is OPEN.
func (s *Storage) UpsertRecords(ctx context.Context, sessionID string, writes []persistence.RecordWrite, markedAt time.Time) (int, error) {
	entry, ok := s.entry(sessionID)
	if !ok {
		return 0, persistence.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.session.Status != persistence.SessionStatusOpen {
		return 0, persistence.ErrSessionClosed
	}

	var unknown []string
	for _, write := range writes {
		if _, ok := entry.records[write.StudentID]; !ok {
			unknown = append(unknown, write.StudentID)
		}
	}
	if len(unknown) > 0 {
		return 0, &persistence.UnknownStudentsError{StudentIDs: unknown}
	}

	changed := 0
	for _, write := range writes {
		current := entry.records[write.StudentID]
		if current.Status == write.Status {
			continue
		}
		current.Status = write.Status
		current.MarkedAt = markedAt
		current.MarkedBy = write.MarkedBy
		entry.records[write.StudentID] = current
		changed++
	}

	if changed > 0 {
		entry.session.Version++
		entry.session.UpdatedAt = markedAt
	}

	return changed, nil
}

// ListRecordsBySession returns the records of a session ordered by student ID.
func (s *Storage) ListRecordsBySession(ctx context.Context, sessionID string) ([]persistence.AttendanceRecord, error) {
	entry, ok := s.entry(sessionID)
	if !ok {
		return []persistence.AttendanceRecord{}, nil
	}

	entry.mu.Lock()
	records := make([]persistence.AttendanceRecord, 0, len(entry.records))
	for _, record := range entry.records {
		records = append(records, record)
	}
	entry.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].StudentID < records[j].StudentID
	})
	return records, nil
}

// --- CourseCatalog implementation ---

// PutCourse registers a course and its enrollment list, replacing any earlier entry.
func (s *Storage) PutCourse(ctx context.Context, course persistence.Course, studentIDs []string) error {
	return s.PutCourses(ctx, []persistence.CourseEntry{{Course: course, Students: studentIDs}})
}

// PutCourses registers every entry, or none when any entry lacks an ID.
func (s *Storage) PutCourses(ctx context.Context, entries []persistence.CourseEntry) error {
	for _, entry := range entries {
		if entry.Course.ID == "" {
			return persistence.ErrConstraintViolation
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		enrolled := make([]string, len(entry.Students))
		copy(enrolled, entry.Students)
		s.courses[entry.Course.ID] = entry.Course
		s.enrollments[entry.Course.ID] = enrolled
	}
	return nil
}

// GetCourse retrieves a course by ID.
func (s *Storage) GetCourse(ctx context.Context, id string) (persistence.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	course, ok := s.courses[id]
	if !ok {
		return persistence.Course{}, persistence.ErrNotFound
	}
	return course, nil
}

// ListEnrollments returns the enrolled student IDs of a course in enrollment order.
func (s *Storage) ListEnrollments(ctx context.Context, courseID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.courses[courseID]; !ok {
		return nil, persistence.ErrNotFound
	}

	enrolled := s.enrollments[courseID]
	out := make([]string, len(enrolled))
	copy(out, enrolled)
	return out, nil
}

// --- Helpers ---

func (s *Storage) entry(id string) (*sessionEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[id]
	return entry, ok
}

// SortSessions orders sessions by lecture date desc, lecture number desc, then ID.
func SortSessions(sessions []persistence.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.LectureDate.Equal(b.LectureDate) {
			return a.LectureDate.After(b.LectureDate)
		}
		if a.LectureNumber != b.LectureNumber {
			return a.LectureNumber > b.LectureNumber
		}
		return a.ID < b.ID
	})
}

func cloneSession(session persistence.Session) persistence.Session {
	clone := session

	if session.Aggregate != nil {
		agg := *session.Aggregate
		clone.Aggregate = &agg
	}

	if session.ClosedAt != nil {
		closedAt := *session.ClosedAt
		clone.ClosedAt = &closedAt
	}

	return clone
}
