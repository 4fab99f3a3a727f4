package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func seedSession(t *testing.T, store *storeStub, session Session, present, absent int) {
	t.Helper()

	records := make([]AttendanceRecord, 0, present+absent)
	for i := 0; i < present+absent; i++ {
		status := Absent
		if i < present {
			status = Present
		}
		records = append(records, AttendanceRecord{
			SessionID: session.ID,
			StudentID: fmt.Sprintf("s-%02d", i),
			Status:    status,
		})
	}
	if session.Status == "" {
		session.Status = SessionOpen
	}
	if err := store.CreateSession(context.Background(), session, records); err != nil {
		t.Fatalf("seed session %s: %v", session.ID, err)
	}
}

func closedSession(id, teacherID string, day int, agg Aggregate) Session {
	closedAt := time.Date(2026, 4, day, 12, 0, 0, 0, time.UTC)
	return Session{
		ID:           id,
		TeacherID:    teacherID,
		CourseID:     "course-1",
		CourseName:   "Databases",
		DepartmentID: "dept-cs",
		LectureDate:  time.Date(2026, 4, day, 0, 0, 0, 0, time.UTC),
		Status:       SessionClosed,
		Aggregate:    &agg,
		ClosedAt:     &closedAt,
	}
}

func newTestReportService(store *storeStub) *ReportService {
	return NewReportServiceWithLogger(store, store, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestReportService_BuildReport(t *testing.T) {
	t.Run("computes row percentages from frozen aggregates", func(t *testing.T) {
		store := newStoreStub()
		seedSession(t, store, closedSession("a", "teacher-1", 1, Aggregate{TotalStudents: 10, Present: 6, Absent: 4}), 6, 4)

		report, err := newTestReportService(store).BuildReport(context.Background(), teacher, "")
		if err != nil {
			t.Fatalf("BuildReport failed: %v", err)
		}
		if report.TotalLectures != 1 || len(report.Rows) != 1 {
			t.Fatalf("expected one row, got %#v", report)
		}
		row := report.Rows[0]
		if row.AttendancePercentage != 60 || row.Present != 6 || row.Absent != 4 || row.TotalStudents != 10 {
			t.Fatalf("unexpected row %#v", row)
		}
		if row.Course != "Databases" || row.Department != "dept-cs" {
			t.Fatalf("expected labels with id fallback, got %#v", row)
		}
	})

	t.Run("closed rows ignore record changes after close", func(t *testing.T) {
		store := newStoreStub()
		// Records disagree with the frozen aggregate; the aggregate wins.
		seedSession(t, store, closedSession("a", "teacher-1", 1, Aggregate{TotalStudents: 4, Present: 1, Absent: 3}), 4, 0)

		report, err := newTestReportService(store).BuildReport(context.Background(), teacher, "")
		if err != nil {
			t.Fatalf("BuildReport failed: %v", err)
		}
		if report.Rows[0].Present != 1 || report.Rows[0].AttendancePercentage != 25 {
			t.Fatalf("expected frozen aggregate, got %#v", report.Rows[0])
		}
	})

	t.Run("open sessions report a live tally", func(t *testing.T) {
		store := newStoreStub()
		seedSession(t, store, Session{ID: "live", TeacherID: "teacher-1", LectureDate: time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC)}, 2, 1)

		report, err := newTestReportService(store).BuildReport(context.Background(), teacher, "")
		if err != nil {
			t.Fatalf("BuildReport failed: %v", err)
		}
		row := report.Rows[0]
		if row.Status != SessionOpen || row.Present != 2 || row.TotalStudents != 3 || row.AttendancePercentage != 67 {
			t.Fatalf("unexpected live row %#v", row)
		}
	})

	t.Run("summary is weighted by students", func(t *testing.T) {
		store := newStoreStub()
		seedSession(t, store, closedSession("small", "teacher-1", 1, Aggregate{TotalStudents: 1, Present: 1}), 1, 0)
		seedSession(t, store, closedSession("large", "teacher-1", 2, Aggregate{TotalStudents: 9, Present: 1, Absent: 8}), 1, 8)

		report, err := newTestReportService(store).BuildReport(context.Background(), teacher, "teacher-1")
		if err != nil {
			t.Fatalf("BuildReport failed: %v", err)
		}
		if report.TotalLectures != 2 {
			t.Fatalf("expected 2 lectures, got %d", report.TotalLectures)
		}
		if report.Rows[0].SessionID != "large" {
			t.Fatalf("expected newest lecture first, got %s", report.Rows[0].SessionID)
		}
		want := ReportSummary{TotalStudents: 10, Present: 2, Absent: 8, AttendancePercentage: 20}
		if report.Summary != want {
			t.Fatalf("expected %#v, got %#v", want, report.Summary)
		}
		if OverallPercentage(report.Rows) != 20 {
			t.Fatalf("expected overall percentage 20")
		}
	})

	t.Run("empty roster rows are zero", func(t *testing.T) {
		store := newStoreStub()
		seedSession(t, store, closedSession("empty", "teacher-1", 1, Aggregate{}), 0, 0)

		report, err := newTestReportService(store).BuildReport(context.Background(), teacher, "")
		if err != nil {
			t.Fatalf("BuildReport failed: %v", err)
		}
		if report.Rows[0].AttendancePercentage != 0 || report.Summary.AttendancePercentage != 0 {
			t.Fatalf("expected zero percentages, got %#v", report)
		}
	})

	t.Run("no sessions yields an empty report", func(t *testing.T) {
		report, err := newTestReportService(newStoreStub()).BuildReport(context.Background(), teacher, "")
		if err != nil {
			t.Fatalf("BuildReport failed: %v", err)
		}
		if report.TotalLectures != 0 || report.Rows == nil || report.Summary != (ReportSummary{}) {
			t.Fatalf("expected empty report, got %#v", report)
		}
	})

	t.Run("only owners and administrators", func(t *testing.T) {
		store := newStoreStub()
		seedSession(t, store, closedSession("a", "teacher-1", 1, Aggregate{TotalStudents: 2, Present: 1, Absent: 1}), 1, 1)
		svc := newTestReportService(store)

		if _, err := svc.BuildReport(context.Background(), otherUser, "teacher-1"); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
		report, err := svc.BuildReport(context.Background(), admin, "teacher-1")
		if err != nil || report.TotalLectures != 1 {
			t.Fatalf("expected admin report, got %#v, %v", report, err)
		}
	})
}

func TestReportService_BuildDepartmentReport(t *testing.T) {
	store := newStoreStub()
	seedSession(t, store, closedSession("a", "teacher-1", 1, Aggregate{TotalStudents: 4, Present: 3, Absent: 1}), 3, 1)
	seedSession(t, store, closedSession("b", "teacher-2", 2, Aggregate{TotalStudents: 4, Present: 1, Absent: 3}), 1, 3)
	svc := newTestReportService(store)

	if _, err := svc.BuildDepartmentReport(context.Background(), teacher, "dept-cs"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin, got %v", err)
	}

	report, err := svc.BuildDepartmentReport(context.Background(), admin, "dept-cs")
	if err != nil {
		t.Fatalf("BuildDepartmentReport failed: %v", err)
	}
	if report.TotalLectures != 2 || report.Summary.AttendancePercentage != 50 {
		t.Fatalf("unexpected department report %#v", report)
	}

	empty, err := svc.BuildDepartmentReport(context.Background(), admin, "")
	if err != nil || empty.TotalLectures != 0 {
		t.Fatalf("expected empty report for blank department, got %#v, %v", empty, err)
	}
}

func TestPercentage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		present, total, want int
	}{
		{6, 10, 60},
		{2, 3, 67},
		{1, 3, 33},
		{1, 8, 13},
		{0, 0, 0},
		{5, 5, 100},
	}
	for _, tc := range cases {
		if got := Percentage(tc.present, tc.total); got != tc.want {
			t.Fatalf("Percentage(%d, %d) = %d, want %d", tc.present, tc.total, got, tc.want)
		}
	}
}
