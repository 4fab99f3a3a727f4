package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/example/attendance-engine/internal/persistence"
)

var (
	teacher   = Principal{UserID: "teacher-1"}
	otherUser = Principal{UserID: "teacher-2"}
	admin     = Principal{UserID: "admin-1", IsAdmin: true}
	lecture   = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
)

type serviceHarness struct {
	svc    *AttendanceService
	store  *storeStub
	events *publisherStub
	now    time.Time
}

func newServiceHarness(t *testing.T, opts ...AttendanceOption) *serviceHarness {
	t.Helper()

	h := &serviceHarness{
		store:  newStoreStub(),
		events: &publisherStub{},
		now:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}

	var (
		mu      sync.Mutex
		counter int
	)
	idGen := func() string {
		mu.Lock()
		defer mu.Unlock()
		counter++
		return fmt.Sprintf("session-%d", counter)
	}

	roster := rosterStub{students: map[string][]string{
		"course-1": {"s-3", "s-1", "s-2", "s-5", "s-4"},
		"empty":    {},
	}}
	courses := courseStub{courses: map[string]Course{
		"course-1": {ID: "course-1", Name: "Databases", Subject: "Database Systems", SubjectCode: "CS301", DepartmentID: "dept-cs", DepartmentName: "Computer Science"},
		"empty":    {ID: "empty", Name: "Seminar", DepartmentID: "dept-cs"},
	}}

	base := []AttendanceOption{
		WithCourseDirectory(courses),
		WithEventPublisher(h.events),
		WithAttendanceLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	h.svc = NewAttendanceService(h.store, h.store, roster, idGen, func() time.Time { return h.now }, append(base, opts...)...)
	return h
}

func (h *serviceHarness) open(t *testing.T, courseID string) Session {
	t.Helper()
	session, err := h.svc.OpenSession(context.Background(), OpenSessionParams{
		Principal:     teacher,
		CourseID:      courseID,
		LectureDate:   lecture,
		LectureNumber: 1,
	})
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	return session
}

func (h *serviceHarness) mark(t *testing.T, sessionID string, status AttendanceStatus, students ...string) int {
	t.Helper()
	marks := make([]Mark, len(students))
	for i, student := range students {
		marks[i] = Mark{StudentID: student, Status: status}
	}
	changed, err := h.svc.MarkAttendance(context.Background(), MarkAttendanceParams{
		Principal: teacher,
		SessionID: sessionID,
		Marks:     marks,
	})
	if err != nil {
		t.Fatalf("MarkAttendance failed: %v", err)
	}
	return changed
}

func TestAttendanceService_OpenSession(t *testing.T) {
	t.Run("seeds one absent record per roster student", func(t *testing.T) {
		h := newServiceHarness(t)
		session := h.open(t, "course-1")

		if session.Status != SessionOpen || session.Aggregate != nil || session.ClosedAt != nil {
			t.Fatalf("expected open session without aggregate, got %#v", session)
		}
		if session.DepartmentID != "dept-cs" || session.SubjectCode != "CS301" || session.CourseName != "Databases" {
			t.Fatalf("expected course labels to be denormalized, got %#v", session)
		}
		if !session.LectureDate.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("expected lecture date truncated to the day, got %v", session.LectureDate)
		}

		records, err := h.svc.ListRecords(context.Background(), teacher, session.ID)
		if err != nil {
			t.Fatalf("ListRecords failed: %v", err)
		}
		if len(records) != 5 {
			t.Fatalf("expected 5 records, got %d", len(records))
		}
		for i, record := range records {
			if record.Status != Absent {
				t.Fatalf("expected ABSENT default, got %#v", record)
			}
			if want := fmt.Sprintf("s-%d", i+1); record.StudentID != want {
				t.Fatalf("expected records ordered by student id, got %s at %d", record.StudentID, i)
			}
		}

		if got := h.events.types(); !slices.Equal(got, []EventType{EventSessionOpened}) {
			t.Fatalf("expected opened event, got %v", got)
		}
	})

	t.Run("drops duplicate and blank roster entries", func(t *testing.T) {
		h := newServiceHarness(t)
		h.svc.roster = rosterStub{students: map[string][]string{"course-1": {"s-1", " ", "s-1", "s-2"}}}

		session := h.open(t, "course-1")
		records, err := h.store.ListRecordsBySession(context.Background(), session.ID)
		if err != nil {
			t.Fatalf("ListRecordsBySession failed: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 unique records, got %d", len(records))
		}
	})

	t.Run("validates lecture fields", func(t *testing.T) {
		h := newServiceHarness(t)

		_, err := h.svc.OpenSession(context.Background(), OpenSessionParams{
			Principal:     teacher,
			CourseID:      "  ",
			LectureNumber: 0,
		})

		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		for _, field := range []string{"course_id", "lecture_date", "lecture_number"} {
			if _, ok := vErr.FieldErrors[field]; !ok {
				t.Fatalf("expected %s validation error, got %v", field, vErr.FieldErrors)
			}
		}
	})

	t.Run("rejects opening for another teacher", func(t *testing.T) {
		h := newServiceHarness(t)

		_, err := h.svc.OpenSession(context.Background(), OpenSessionParams{
			Principal:     otherUser,
			TeacherID:     teacher.UserID,
			CourseID:      "course-1",
			LectureDate:   lecture,
			LectureNumber: 1,
		})
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("allows administrators to open on behalf of a teacher", func(t *testing.T) {
		h := newServiceHarness(t)

		session, err := h.svc.OpenSession(context.Background(), OpenSessionParams{
			Principal:     admin,
			TeacherID:     teacher.UserID,
			CourseID:      "course-1",
			LectureDate:   lecture,
			LectureNumber: 2,
		})
		if err != nil {
			t.Fatalf("OpenSession failed: %v", err)
		}
		if session.TeacherID != teacher.UserID {
			t.Fatalf("expected session owned by teacher, got %s", session.TeacherID)
		}
	})

	t.Run("roster failure aborts without persisting", func(t *testing.T) {
		h := newServiceHarness(t)
		h.svc.roster = rosterStub{err: errUpstream}

		_, err := h.svc.OpenSession(context.Background(), OpenSessionParams{
			Principal:     teacher,
			CourseID:      "course-1",
			LectureDate:   lecture,
			LectureNumber: 1,
		})
		if !errors.Is(err, ErrRosterUnavailable) {
			t.Fatalf("expected ErrRosterUnavailable, got %v", err)
		}
		if n := h.store.sessionCount(); n != 0 {
			t.Fatalf("expected no session to be stored, got %d", n)
		}
		if len(h.events.types()) != 0 {
			t.Fatalf("expected no events on failure")
		}
	})

	t.Run("unknown course is not found", func(t *testing.T) {
		h := newServiceHarness(t)

		_, err := h.svc.OpenSession(context.Background(), OpenSessionParams{
			Principal:     teacher,
			CourseID:      "missing",
			LectureDate:   lecture,
			LectureNumber: 1,
		})
		if !errors.Is(err, ErrCourseNotFound) || !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrCourseNotFound, got %v", err)
		}
	})

	t.Run("store rejection surfaces as validation error", func(t *testing.T) {
		h := newServiceHarness(t)
		h.store.createErr = fmt.Errorf("insert session: %w", persistence.ErrConstraintViolation)

		_, err := h.svc.OpenSession(context.Background(), OpenSessionParams{
			Principal:     teacher,
			CourseID:      "course-1",
			LectureDate:   lecture,
			LectureNumber: 1,
		})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("duplicate lecture slots are allowed", func(t *testing.T) {
		h := newServiceHarness(t)
		first := h.open(t, "course-1")
		second := h.open(t, "course-1")
		if first.ID == second.ID {
			t.Fatalf("expected distinct sessions, got %s twice", first.ID)
		}
	})
}

func TestAttendanceService_MarkAttendance(t *testing.T) {
	t.Run("is idempotent", func(t *testing.T) {
		h := newServiceHarness(t)
		session := h.open(t, "course-1")

		if changed := h.mark(t, session.ID, Present, "s-1", "s-2"); changed != 2 {
			t.Fatalf("expected 2 changes, got %d", changed)
		}
		before, _ := h.store.ListRecordsBySession(context.Background(), session.ID)
		versionBefore, _ := h.store.GetSession(context.Background(), session.ID)

		if changed := h.mark(t, session.ID, Present, "s-1", "s-2"); changed != 0 {
			t.Fatalf("expected 0 changes on repeat, got %d", changed)
		}
		after, _ := h.store.ListRecordsBySession(context.Background(), session.ID)
		versionAfter, _ := h.store.GetSession(context.Background(), session.ID)

		if !slices.Equal(before, after) {
			t.Fatalf("expected identical records after repeat, got %#v vs %#v", before, after)
		}
		if versionBefore.Version != versionAfter.Version {
			t.Fatalf("expected no version bump for no-op marks")
		}
	})

	t.Run("edit toggles back to absent", func(t *testing.T) {
		h := newServiceHarness(t)
		session := h.open(t, "course-1")
		h.mark(t, session.ID, Present, "s-1", "s-2", "s-3")

		changed, err := h.svc.EditAttendance(context.Background(), MarkAttendanceParams{
			Principal: teacher,
			SessionID: session.ID,
			Marks:     []Mark{{StudentID: "s-3", Status: "absent"}, {StudentID: "s-1", Status: "PRESENT"}},
		})
		if err != nil {
			t.Fatalf("EditAttendance failed: %v", err)
		}
		if changed != 1 {
			t.Fatalf("expected 1 change, got %d", changed)
		}

		records, _ := h.store.ListRecordsBySession(context.Background(), session.ID)
		if got := Tally(records); got.Present != 2 {
			t.Fatalf("expected 2 present after edit, got %#v", got)
		}
	})

	t.Run("rejects unknown students without partial writes", func(t *testing.T) {
		h := newServiceHarness(t)
		session := h.open(t, "course-1")

		_, err := h.svc.MarkAttendance(context.Background(), MarkAttendanceParams{
			Principal: teacher,
			SessionID: session.ID,
			Marks:     []Mark{{StudentID: "s-1", Status: Present}, {StudentID: "ghost", Status: Present}},
		})
		if !errors.Is(err, ErrStudentNotInSession) {
			t.Fatalf("expected ErrStudentNotInSession, got %v", err)
		}
		var notIn *StudentNotInSessionError
		if !errors.As(err, &notIn) || !slices.Equal(notIn.StudentIDs, []string{"ghost"}) {
			t.Fatalf("expected offending ids, got %v", err)
		}

		records, _ := h.store.ListRecordsBySession(context.Background(), session.ID)
		if got := Tally(records); got.Present != 0 {
			t.Fatalf("expected no marks applied, got %#v", got)
		}
	})

	t.Run("validates marks", func(t *testing.T) {
		h := newServiceHarness(t)
		session := h.open(t, "course-1")

		cases := map[string][]Mark{
			"marks":               nil,
			"marks[0].status":     {{StudentID: "s-1", Status: "LATE"}},
			"marks[0].student_id": {{StudentID: " ", Status: Present}},
			"marks[1].student_id": {{StudentID: "s-1", Status: Present}, {StudentID: "s-1", Status: Absent}},
		}
		for field, marks := range cases {
			_, err := h.svc.MarkAttendance(context.Background(), MarkAttendanceParams{
				Principal: teacher,
				SessionID: session.ID,
				Marks:     marks,
			})
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("%s: expected ValidationError, got %v", field, err)
			}
			if _, ok := vErr.FieldErrors[field]; !ok {
				t.Fatalf("%s: expected field error, got %v", field, vErr.FieldErrors)
			}
		}
	})

	t.Run("enforces ownership", func(t *testing.T) {
		h := newServiceHarness(t)
		session := h.open(t, "course-1")

		_, err := h.svc.MarkAttendance(context.Background(), MarkAttendanceParams{
			Principal: otherUser,
			SessionID: session.ID,
			Marks:     []Mark{{StudentID: "s-1", Status: Present}},
		})
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}

		records, _ := h.store.ListRecordsBySession(context.Background(), session.ID)
		if got := Tally(records); got.Present != 0 {
			t.Fatalf("expected state unchanged, got %#v", got)
		}

		changed, err := h.svc.MarkAttendance(context.Background(), MarkAttendanceParams{
			Principal: admin,
			SessionID: session.ID,
			Marks:     []Mark{{StudentID: "s-1", Status: Present}},
		})
		if err != nil || changed != 1 {
			t.Fatalf("expected admin override to succeed, got %d, %v", changed, err)
		}
		records, _ = h.store.ListRecordsBySession(context.Background(), session.ID)
		if records[0].MarkedBy != admin.UserID {
			t.Fatalf("expected audit actor to be recorded, got %q", records[0].MarkedBy)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		h := newServiceHarness(t)

		_, err := h.svc.MarkAttendance(context.Background(), MarkAttendanceParams{
			Principal: teacher,
			SessionID: "nope",
			Marks:     []Mark{{StudentID: "s-1", Status: Present}},
		})
		if !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("publishes only when something changed", func(t *testing.T) {
		h := newServiceHarness(t)
		session := h.open(t, "course-1")
		h.mark(t, session.ID, Present, "s-1")
		h.mark(t, session.ID, Present, "s-1")

		want := []EventType{EventSessionOpened, EventAttendanceMarked}
		if got := h.events.types(); !slices.Equal(got, want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		last := h.events.events[1]
		if last.Tally != (Aggregate{TotalStudents: 5, Present: 1, Absent: 4}) || last.Changed != 1 {
			t.Fatalf("unexpected marked event: %#v", last)
		}
	})
}

func TestAttendanceService_CloseSession(t *testing.T) {
	t.Run("freezes the aggregate", func(t *testing.T) {
		h := newServiceHarness(t)
		session := h.open(t, "course-1")
		h.mark(t, session.ID, Present, "s-1", "s-2", "s-4")

		agg, err := h.svc.CloseSession(context.Background(), teacher, session.ID)
		if err != nil {
			t.Fatalf("CloseSession failed: %v", err)
		}
		want := Aggregate{TotalStudents: 5, Present: 3, Absent: 2}
		if agg != want {
			t.Fatalf("expected %#v, got %#v", want, agg)
		}

		stored, err := h.svc.GetSession(context.Background(), teacher, session.ID)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if stored.Status != SessionClosed || stored.Aggregate == nil || *stored.Aggregate != want || stored.ClosedAt == nil {
			t.Fatalf("expected closed session with aggregate, got %#v", stored)
		}

		_, err = h.svc.MarkAttendance(context.Background(), MarkAttendanceParams{
			Principal: teacher,
			SessionID: session.ID,
			Marks:     []Mark{{StudentID: "s-5", Status: Present}},
		})
		if !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("expected ErrSessionClosed, got %v", err)
		}

		frozen, err := h.svc.CloseSession(context.Background(), teacher, session.ID)
		if !errors.Is(err, ErrSessionAlreadyClosed) {
			t.Fatalf("expected ErrSessionAlreadyClosed, got %v", err)
		}
		if frozen != want {
			t.Fatalf("expected second close to report the frozen aggregate %#v, got %#v", want, frozen)
		}

		again, _ := h.store.GetSession(context.Background(), session.ID)
		if *again.Aggregate != want {
			t.Fatalf("expected aggregate untouched, got %#v", again.Aggregate)
		}
	})

	t.Run("empty roster closes to zero", func(t *testing.T) {
		h := newServiceHarness(t)
		session := h.open(t, "empty")

		agg, err := h.svc.CloseSession(context.Background(), teacher, session.ID)
		if err != nil {
			t.Fatalf("CloseSession failed: %v", err)
		}
		if agg != (Aggregate{}) {
			t.Fatalf("expected zero aggregate, got %#v", agg)
		}
	})

	t.Run("enforces ownership", func(t *testing.T) {
		h := newServiceHarness(t)
		session := h.open(t, "course-1")

		_, err := h.svc.CloseSession(context.Background(), otherUser, session.ID)
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
		stored, _ := h.store.GetSession(context.Background(), session.ID)
		if stored.Status != SessionOpen {
			t.Fatalf("expected session to stay open")
		}

		if _, err := h.svc.CloseSession(context.Background(), admin, session.ID); err != nil {
			t.Fatalf("expected admin close to succeed, got %v", err)
		}
	})

	t.Run("retries after a racing mark and counts it", func(t *testing.T) {
		h := newServiceHarness(t)
		session := h.open(t, "course-1")

		raced := false
		h.store.beforeClose = func() {
			if raced {
				return
			}
			raced = true
			if _, err := h.store.UpsertRecords(context.Background(), session.ID, []RecordWrite{{StudentID: "s-5", Status: Present, MarkedBy: teacher.UserID}}, h.now); err != nil {
				t.Errorf("racing upsert failed: %v", err)
			}
		}

		agg, err := h.svc.CloseSession(context.Background(), teacher, session.ID)
		if err != nil {
			t.Fatalf("CloseSession failed: %v", err)
		}
		if agg.Present != 1 {
			t.Fatalf("expected racing mark to be counted, got %#v", agg)
		}
		if h.store.closeCalls != 2 {
			t.Fatalf("expected one retry, got %d close calls", h.store.closeCalls)
		}
	})

	t.Run("losing a close race reports the winner's aggregate", func(t *testing.T) {
		h := newServiceHarness(t)
		session := h.open(t, "course-1")
		h.mark(t, session.ID, Present, "s-1")

		winner := Aggregate{TotalStudents: 5, Present: 1, Absent: 4}
		h.store.beforeClose = func() {
			h.store.beforeClose = nil
			stored, err := h.store.GetSession(context.Background(), session.ID)
			if err != nil {
				t.Errorf("GetSession failed: %v", err)
				return
			}
			if _, err := h.store.CloseSession(context.Background(), session.ID, stored.Version, winner, h.now); err != nil {
				t.Errorf("racing close failed: %v", err)
			}
		}

		agg, err := h.svc.CloseSession(context.Background(), teacher, session.ID)
		if !errors.Is(err, ErrSessionAlreadyClosed) {
			t.Fatalf("expected ErrSessionAlreadyClosed, got %v", err)
		}
		if agg != winner {
			t.Fatalf("expected %#v, got %#v", winner, agg)
		}
	})

	t.Run("gives up after the configured attempts", func(t *testing.T) {
		h := newServiceHarness(t, WithCloseAttempts(2))
		session := h.open(t, "course-1")
		h.store.conflictCloses = 5

		_, err := h.svc.CloseSession(context.Background(), teacher, session.ID)
		if !errors.Is(err, ErrCloseConflict) {
			t.Fatalf("expected ErrCloseConflict, got %v", err)
		}
		if errors.Is(err, ErrSessionAlreadyClosed) {
			t.Fatalf("close conflict must be distinct from already closed")
		}
		if h.store.closeCalls != 2 {
			t.Fatalf("expected 2 attempts, got %d", h.store.closeCalls)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		h := newServiceHarness(t)
		if _, err := h.svc.CloseSession(context.Background(), teacher, "missing"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("publishes the closed event", func(t *testing.T) {
		h := newServiceHarness(t)
		session := h.open(t, "course-1")
		if _, err := h.svc.CloseSession(context.Background(), teacher, session.ID); err != nil {
			t.Fatalf("CloseSession failed: %v", err)
		}
		want := []EventType{EventSessionOpened, EventSessionClosed}
		if got := h.events.types(); !slices.Equal(got, want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
	})
}

func TestAttendanceService_ListSessions(t *testing.T) {
	h := newServiceHarness(t)
	older := h.open(t, "course-1")
	newer, err := h.svc.OpenSession(context.Background(), OpenSessionParams{
		Principal:     teacher,
		CourseID:      "course-1",
		LectureDate:   lecture.AddDate(0, 0, 1),
		LectureNumber: 1,
	})
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}

	sessions, err := h.svc.ListSessions(context.Background(), teacher, "")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != newer.ID || sessions[1].ID != older.ID {
		t.Fatalf("expected newest lecture first, got %#v", sessions)
	}

	if _, err := h.svc.ListSessions(context.Background(), otherUser, teacher.UserID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	empty, err := h.svc.ListSessions(context.Background(), otherUser, "")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v, %v", empty, err)
	}
}

func TestTally(t *testing.T) {
	t.Parallel()

	records := []AttendanceRecord{
		{StudentID: "a", Status: Present},
		{StudentID: "b", Status: Absent},
		{StudentID: "c", Status: Present},
	}
	got := Tally(records)
	if got != (Aggregate{TotalStudents: 3, Present: 2, Absent: 1}) {
		t.Fatalf("unexpected tally %#v", got)
	}
	if Tally(nil) != (Aggregate{}) {
		t.Fatalf("expected zero tally for no records")
	}
}
