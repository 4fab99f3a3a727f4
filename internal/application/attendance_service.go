package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/attendance-engine/internal/persistence"
)

// DefaultCloseAttempts bounds how often CloseSession re-reads after losing a version race.
const DefaultCloseAttempts = 3

// AttendanceService is the session lifecycle state machine: it opens sessions,
// applies marks while they are OPEN and closes them exactly once.
type AttendanceService struct {
	sessions      SessionStore
	records       RecordStore
	roster        RosterProvider
	courses       CourseDirectory
	events        EventPublisher
	idGenerator   func() string
	now           func() time.Time
	closeAttempts int
	logger        *slog.Logger
}

// AttendanceOption customises an AttendanceService.
type AttendanceOption func(*AttendanceService)

// WithCourseDirectory labels new sessions with course metadata.
func WithCourseDirectory(courses CourseDirectory) AttendanceOption {
	return func(s *AttendanceService) {
		s.courses = courses
	}
}

// WithEventPublisher publishes lifecycle events after each successful change.
func WithEventPublisher(events EventPublisher) AttendanceOption {
	return func(s *AttendanceService) {
		s.events = events
	}
}

// WithCloseAttempts overrides DefaultCloseAttempts. Values below one are ignored.
func WithCloseAttempts(attempts int) AttendanceOption {
	return func(s *AttendanceService) {
		if attempts > 0 {
			s.closeAttempts = attempts
		}
	}
}

// WithAttendanceLogger sets the base logger.
func WithAttendanceLogger(logger *slog.Logger) AttendanceOption {
	return func(s *AttendanceService) {
		s.logger = defaultLogger(logger)
	}
}

// NewAttendanceService constructs the lifecycle service with the provided dependencies.
func NewAttendanceService(sessions SessionStore, records RecordStore, roster RosterProvider, idGenerator func() string, now func() time.Time, opts ...AttendanceOption) *AttendanceService {
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	s := &AttendanceService{
		sessions:      sessions,
		records:       records,
		roster:        roster,
		idGenerator:   idGenerator,
		now:           now,
		closeAttempts: DefaultCloseAttempts,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *AttendanceService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AttendanceService", operation, attrs...)
}

// OpenSession creates an OPEN session and seeds one ABSENT record per roster student.
func (s *AttendanceService) OpenSession(ctx context.Context, params OpenSessionParams) (session Session, err error) {
	if s == nil {
		err = fmt.Errorf("AttendanceService is nil")
		return
	}

	teacherID := strings.TrimSpace(params.TeacherID)
	if teacherID == "" {
		teacherID = params.Principal.UserID
	}

	logger := s.loggerWith(ctx, "OpenSession",
		"actor_id", params.Principal.UserID,
		"teacher_id", teacherID,
		"course_id", params.CourseID,
	)
	rosterSize := 0
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to open session", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("session_id", session.ID, "roster_size", rosterSize).InfoContext(ctx, "session opened")
	}()

	if vErr := validateOpenParams(params, teacherID); vErr.HasErrors() {
		err = vErr
		return
	}
	if params.Principal.UserID == "" || (!params.Principal.IsAdmin && params.Principal.UserID != teacherID) {
		err = ErrForbidden
		return
	}
	if s.sessions == nil || s.roster == nil {
		err = fmt.Errorf("attendance service not configured")
		return
	}

	courseID := strings.TrimSpace(params.CourseID)
	var course Course
	if s.courses != nil {
		course, err = s.courses.GetCourse(ctx, courseID)
		if err != nil {
			if isNotFound(err) {
				err = ErrCourseNotFound
				return
			}
			err = fmt.Errorf("%w: course directory: %v", ErrRosterUnavailable, err)
			return
		}
	}

	var enrolled []string
	enrolled, err = s.roster.EnrolledStudents(ctx, courseID)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrRosterUnavailable, err)
		return
	}
	students := normalizeRoster(enrolled)

	now := s.now()
	session = Session{
		ID:             s.idGenerator(),
		CourseID:       courseID,
		TeacherID:      teacherID,
		DepartmentID:   course.DepartmentID,
		CourseName:     course.Name,
		Subject:        course.Subject,
		SubjectCode:    course.SubjectCode,
		DepartmentName: course.DepartmentName,
		LectureDate:    lectureDay(params.LectureDate),
		LectureNumber:  params.LectureNumber,
		Status:         SessionOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	records := make([]AttendanceRecord, 0, len(students))
	for _, studentID := range students {
		records = append(records, AttendanceRecord{
			SessionID: session.ID,
			StudentID: studentID,
			Status:    Absent,
			MarkedAt:  now,
			MarkedBy:  params.Principal.UserID,
		})
	}

	if err = s.sessions.CreateSession(ctx, session, records); err != nil {
		err = mapStoreError(err)
		session = Session{}
		return
	}

	rosterSize = len(records)
	s.publish(ctx, Event{
		Type:      EventSessionOpened,
		SessionID: session.ID,
		TeacherID: session.TeacherID,
		Status:    SessionOpen,
		Tally:     Aggregate{TotalStudents: len(records), Absent: len(records)},
		At:        now,
	})
	return
}

// ListSessions returns the sessions of teacherID, newest lecture first. An empty
// teacherID lists the principal's own sessions.
func (s *AttendanceService) ListSessions(ctx context.Context, principal Principal, teacherID string) (sessions []Session, err error) {
	if s == nil {
		err = fmt.Errorf("AttendanceService is nil")
		return
	}
	if teacherID == "" {
		teacherID = principal.UserID
	}

	logger := s.loggerWith(ctx, "ListSessions",
		"actor_id", principal.UserID,
		"teacher_id", teacherID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list sessions", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(sessions)).DebugContext(ctx, "sessions listed")
	}()

	if principal.UserID == "" || (!principal.IsAdmin && principal.UserID != teacherID) {
		err = ErrForbidden
		return
	}
	if s.sessions == nil {
		return []Session{}, nil
	}

	sessions, err = s.sessions.ListSessionsByTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return sessions, nil
}

// GetSession returns a session visible to principal.
func (s *AttendanceService) GetSession(ctx context.Context, principal Principal, sessionID string) (Session, error) {
	if s == nil {
		return Session{}, fmt.Errorf("AttendanceService is nil")
	}
	return s.ownedSession(ctx, principal, sessionID)
}

// ListRecords returns the records of a session ordered by student id.
func (s *AttendanceService) ListRecords(ctx context.Context, principal Principal, sessionID string) ([]AttendanceRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("AttendanceService is nil")
	}
	if _, err := s.ownedSession(ctx, principal, sessionID); err != nil {
		return nil, err
	}
	records, err := s.records.ListRecordsBySession(ctx, sessionID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if records == nil {
		records = []AttendanceRecord{}
	}
	return records, nil
}

// MarkAttendance applies a bulk upsert of marks to an OPEN session and returns
// the number of records whose status actually changed.
func (s *AttendanceService) MarkAttendance(ctx context.Context, params MarkAttendanceParams) (changed int, err error) {
	if s == nil {
		err = fmt.Errorf("AttendanceService is nil")
		return
	}

	logger := s.loggerWith(ctx, "MarkAttendance",
		"actor_id", params.Principal.UserID,
		"session_id", params.SessionID,
		"mark_count", len(params.Marks),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to mark attendance", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("changed", changed).InfoContext(ctx, "attendance marked")
	}()

	writes, vErr := buildWrites(params)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var session Session
	session, err = s.ownedSession(ctx, params.Principal, params.SessionID)
	if err != nil {
		return
	}
	// CLOSED never reverts, so an early rejection is safe; the store re-checks atomically.
	if session.Status != SessionOpen {
		err = ErrSessionClosed
		return
	}

	markedAt := s.now()
	changed, err = s.records.UpsertRecords(ctx, session.ID, writes, markedAt)
	if err != nil {
		changed = 0
		err = mapStoreError(err)
		return
	}

	if changed > 0 && s.events != nil {
		event := Event{
			Type:      EventAttendanceMarked,
			SessionID: session.ID,
			TeacherID: session.TeacherID,
			Status:    SessionOpen,
			Changed:   changed,
			At:        markedAt,
		}
		if records, listErr := s.records.ListRecordsBySession(ctx, session.ID); listErr == nil {
			event.Tally = Tally(records)
		} else {
			logger.WarnContext(ctx, "failed to compute live tally for event", "error", listErr)
		}
		s.publish(ctx, event)
	}
	return
}

// EditAttendance is MarkAttendance under the name used later in the workflow.
// Both are the same idempotent bulk upsert.
func (s *AttendanceService) EditAttendance(ctx context.Context, params MarkAttendanceParams) (int, error) {
	return s.MarkAttendance(ctx, params)
}

// CloseSession freezes the session aggregate and moves it to CLOSED exactly once.
//
// The record set is read and the close committed under the version observed
// before the read. A mark that lands in between bumps the version, so the
// compare-and-set fails and the close starts over with a fresh read.
//
// Closing a session that is already closed returns ErrSessionAlreadyClosed
// together with the aggregate frozen by the first close.
func (s *AttendanceService) CloseSession(ctx context.Context, principal Principal, sessionID string) (aggregate Aggregate, err error) {
	if s == nil {
		err = fmt.Errorf("AttendanceService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CloseSession",
		"actor_id", principal.UserID,
		"session_id", sessionID,
	)
	attempts := 0
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to close session", "error", err, "error_kind", ErrorKind(err), "attempts", attempts)
			return
		}
		logger.With(
			"total_students", aggregate.TotalStudents,
			"present", aggregate.Present,
			"absent", aggregate.Absent,
			"attempts", attempts,
		).InfoContext(ctx, "session closed")
	}()

	for attempts < s.closeAttempts {
		if err = ctx.Err(); err != nil {
			return
		}
		attempts++

		var session Session
		session, err = s.ownedSession(ctx, principal, sessionID)
		if err != nil {
			return
		}
		if session.Status != SessionOpen {
			aggregate = frozenAggregate(session)
			err = ErrSessionAlreadyClosed
			return
		}

		var records []AttendanceRecord
		records, err = s.records.ListRecordsBySession(ctx, sessionID)
		if err != nil {
			err = mapStoreError(err)
			return
		}
		tally := Tally(records)

		closedAt := s.now()
		var closed Session
		closed, err = s.sessions.CloseSession(ctx, sessionID, session.Version, tally, closedAt)
		switch {
		case err == nil:
			aggregate = tally
			if closed.Aggregate != nil {
				aggregate = *closed.Aggregate
			}
			s.publish(ctx, Event{
				Type:      EventSessionClosed,
				SessionID: sessionID,
				TeacherID: session.TeacherID,
				Status:    SessionClosed,
				Tally:     aggregate,
				At:        closedAt,
			})
			return
		case errors.Is(err, persistence.ErrVersionConflict):
			logger.DebugContext(ctx, "close lost version race, retrying", "attempt", attempts, "version", session.Version)
			continue
		default:
			err = mapStoreError(err)
			if errors.Is(err, ErrSessionAlreadyClosed) {
				if stored, getErr := s.sessions.GetSession(ctx, sessionID); getErr == nil {
					aggregate = frozenAggregate(stored)
				}
			}
			return
		}
	}

	err = ErrCloseConflict
	return
}

func frozenAggregate(session Session) Aggregate {
	if session.Aggregate == nil {
		return Aggregate{}
	}
	return *session.Aggregate
}

func (s *AttendanceService) ownedSession(ctx context.Context, principal Principal, sessionID string) (Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Session{}, ErrSessionNotFound
	}
	if s.sessions == nil || s.records == nil {
		return Session{}, fmt.Errorf("attendance service not configured")
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, mapStoreError(err)
	}
	if !session.OwnedBy(principal) {
		return Session{}, ErrForbidden
	}
	return session, nil
}

func (s *AttendanceService) publish(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, event)
}

// Tally counts records into an aggregate. Absent is derived so the parts always
// add up to the total.
func Tally(records []AttendanceRecord) Aggregate {
	agg := Aggregate{TotalStudents: len(records)}
	for _, record := range records {
		if record.Status == Present {
			agg.Present++
		}
	}
	agg.Absent = agg.TotalStudents - agg.Present
	return agg
}

func validateOpenParams(params OpenSessionParams, teacherID string) *ValidationError {
	vErr := &ValidationError{}

	if strings.TrimSpace(params.CourseID) == "" {
		vErr.add("course_id", "course id is required")
	}
	if teacherID == "" {
		vErr.add("teacher_id", "teacher id is required")
	}
	if params.LectureDate.IsZero() {
		vErr.add("lecture_date", "lecture date is required")
	}
	if params.LectureNumber < 1 {
		vErr.add("lecture_number", "lecture number must be positive")
	}

	return vErr
}

func buildWrites(params MarkAttendanceParams) ([]RecordWrite, *ValidationError) {
	vErr := &ValidationError{}

	if len(params.Marks) == 0 {
		vErr.add("marks", "at least one mark is required")
		return nil, vErr
	}

	seen := make(map[string]struct{}, len(params.Marks))
	writes := make([]RecordWrite, 0, len(params.Marks))
	for i, mark := range params.Marks {
		studentID := strings.TrimSpace(mark.StudentID)
		if studentID == "" {
			vErr.add(fmt.Sprintf("marks[%d].student_id", i), "student id is required")
			continue
		}
		status, ok := ParseAttendanceStatus(string(mark.Status))
		if !ok {
			vErr.add(fmt.Sprintf("marks[%d].status", i), "status must be PRESENT or ABSENT")
			continue
		}
		if _, dup := seen[studentID]; dup {
			vErr.add(fmt.Sprintf("marks[%d].student_id", i), "student listed more than once")
			continue
		}
		seen[studentID] = struct{}{}
		writes = append(writes, RecordWrite{
			StudentID: studentID,
			Status:    status,
			MarkedBy:  params.Principal.UserID,
		})
	}

	return writes, vErr
}

func normalizeRoster(students []string) []string {
	seen := make(map[string]struct{}, len(students))
	result := make([]string, 0, len(students))
	for _, student := range students {
		student = strings.TrimSpace(student)
		if student == "" {
			continue
		}
		if _, ok := seen[student]; ok {
			continue
		}
		seen[student] = struct{}{}
		result = append(result, student)
	}
	return result
}

func lectureDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound)
}

func mapStoreError(err error) error {
	if err == nil {
		return nil
	}

	var unknown *persistence.UnknownStudentsError
	switch {
	case errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, persistence.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, persistence.ErrSessionClosed):
		return ErrSessionClosed
	case errors.Is(err, persistence.ErrAlreadyClosed):
		return ErrSessionAlreadyClosed
	case errors.Is(err, persistence.ErrVersionConflict):
		return ErrCloseConflict
	case errors.As(err, &unknown):
		return &StudentNotInSessionError{StudentIDs: unknown.StudentIDs}
	case errors.Is(err, persistence.ErrUnknownStudent):
		return ErrStudentNotInSession
	case errors.Is(err, persistence.ErrConstraintViolation), errors.Is(err, persistence.ErrDuplicate):
		vErr := &ValidationError{}
		vErr.add("session", "session could not be stored")
		return fmt.Errorf("%w: %v", vErr, err)
	}
	return err
}
