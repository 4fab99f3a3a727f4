package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/example/attendance-engine/internal/persistence"
)

// storeStub is a map-backed SessionStore and RecordStore mirroring the storage
// contract: version bumps on changed marks, compare-and-set on close.
type storeStub struct {
	mu       sync.Mutex
	sessions map[string]Session
	records  map[string]map[string]AttendanceRecord

	createErr error
	// conflictCloses forces the next n CloseSession calls to report a version conflict.
	conflictCloses int
	closeCalls     int
	// beforeClose runs inside CloseSession before the compare-and-set.
	beforeClose func()
}

func newStoreStub() *storeStub {
	return &storeStub{
		sessions: make(map[string]Session),
		records:  make(map[string]map[string]AttendanceRecord),
	}
}

func (s *storeStub) CreateSession(ctx context.Context, session Session, records []AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.sessions[session.ID]; ok {
		return persistence.ErrDuplicate
	}
	s.sessions[session.ID] = session
	byStudent := make(map[string]AttendanceRecord, len(records))
	for _, record := range records {
		byStudent[record.StudentID] = record
	}
	s.records[session.ID] = byStudent
	return nil
}

func (s *storeStub) GetSession(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return Session{}, persistence.ErrNotFound
	}
	return session, nil
}

func (s *storeStub) CloseSession(ctx context.Context, id string, expectedVersion int64, aggregate Aggregate, closedAt time.Time) (Session, error) {
	if s.beforeClose != nil {
		s.beforeClose()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeCalls++
	session, ok := s.sessions[id]
	if !ok {
		return Session{}, persistence.ErrNotFound
	}
	if session.Status != SessionOpen {
		return Session{}, persistence.ErrAlreadyClosed
	}
	if s.conflictCloses > 0 {
		s.conflictCloses--
		return Session{}, persistence.ErrVersionConflict
	}
	if session.Version != expectedVersion {
		return Session{}, persistence.ErrVersionConflict
	}

	agg := aggregate
	session.Status = SessionClosed
	session.Aggregate = &agg
	session.ClosedAt = &closedAt
	session.Version++
	s.sessions[id] = session
	return session, nil
}

func (s *storeStub) ListSessionsByTeacher(ctx context.Context, teacherID string) ([]Session, error) {
	return s.list(func(session Session) bool { return session.TeacherID == teacherID }), nil
}

func (s *storeStub) ListSessionsByDepartment(ctx context.Context, departmentID string) ([]Session, error) {
	return s.list(func(session Session) bool { return session.DepartmentID == departmentID }), nil
}

func (s *storeStub) list(match func(Session) bool) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Session
	for _, session := range s.sessions {
		if match(session) {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LectureDate.Equal(out[j].LectureDate) {
			return out[i].LectureDate.After(out[j].LectureDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *storeStub) UpsertRecords(ctx context.Context, sessionID string, writes []RecordWrite, markedAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return 0, persistence.ErrNotFound
	}
	if session.Status != SessionOpen {
		return 0, persistence.ErrSessionClosed
	}

	records := s.records[sessionID]
	var unknown []string
	for _, write := range writes {
		if _, ok := records[write.StudentID]; !ok {
			unknown = append(unknown, write.StudentID)
		}
	}
	if len(unknown) > 0 {
		return 0, &persistence.UnknownStudentsError{StudentIDs: unknown}
	}

	changed := 0
	for _, write := range writes {
		record := records[write.StudentID]
		if record.Status == write.Status {
			continue
		}
		record.Status = write.Status
		record.MarkedAt = markedAt
		record.MarkedBy = write.MarkedBy
		records[write.StudentID] = record
		changed++
	}
	if changed > 0 {
		session.Version++
		s.sessions[sessionID] = session
	}
	return changed, nil
}

func (s *storeStub) ListRecordsBySession(ctx context.Context, sessionID string) ([]AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AttendanceRecord, 0, len(s.records[sessionID]))
	for _, record := range s.records[sessionID] {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (s *storeStub) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

type rosterStub struct {
	students map[string][]string
	err      error
}

func (r rosterStub) EnrolledStudents(ctx context.Context, courseID string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return append([]string(nil), r.students[courseID]...), nil
}

type courseStub struct {
	courses map[string]Course
	err     error
}

func (c courseStub) GetCourse(ctx context.Context, courseID string) (Course, error) {
	if c.err != nil {
		return Course{}, c.err
	}
	course, ok := c.courses[courseID]
	if !ok {
		return Course{}, persistence.ErrNotFound
	}
	return course, nil
}

type publisherStub struct {
	mu     sync.Mutex
	events []Event
}

func (p *publisherStub) Publish(ctx context.Context, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *publisherStub) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, len(p.events))
	for i, event := range p.events {
		out[i] = event.Type
	}
	return out
}

var errUpstream = errors.New("upstream down")
