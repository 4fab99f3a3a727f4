package application

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"
)

// DefaultReportConcurrency bounds parallel record reads for OPEN sessions.
const DefaultReportConcurrency = 4

// ReportService projects sessions and their records into attendance statistics.
// It never mutates state.
type ReportService struct {
	sessions    SessionStore
	records     RecordStore
	concurrency int
	logger      *slog.Logger
}

// NewReportService constructs a report service.
func NewReportService(sessions SessionStore, records RecordStore, concurrency int) *ReportService {
	return NewReportServiceWithLogger(sessions, records, concurrency, nil)
}

// NewReportServiceWithLogger constructs a report service with a specified logger.
func NewReportServiceWithLogger(sessions SessionStore, records RecordStore, concurrency int, logger *slog.Logger) *ReportService {
	if concurrency <= 0 {
		concurrency = DefaultReportConcurrency
	}
	return &ReportService{
		sessions:    sessions,
		records:     records,
		concurrency: concurrency,
		logger:      defaultLogger(logger),
	}
}

func (s *ReportService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReportService", operation, attrs...)
}

// BuildReport aggregates every session of teacherID. An empty teacherID reports
// on the principal's own sessions.
func (s *ReportService) BuildReport(ctx context.Context, principal Principal, teacherID string) (report Report, err error) {
	if s == nil {
		err = fmt.Errorf("ReportService is nil")
		return
	}
	if teacherID == "" {
		teacherID = principal.UserID
	}
	if principal.UserID == "" || (!principal.IsAdmin && principal.UserID != teacherID) {
		err = ErrForbidden
		return
	}

	logger := s.loggerWith(ctx, "BuildReport",
		"actor_id", principal.UserID,
		"teacher_id", teacherID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to build report", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("total_lectures", report.TotalLectures).InfoContext(ctx, "report built")
	}()

	if s.sessions == nil {
		return emptyReport(), nil
	}

	var sessions []Session
	sessions, err = s.sessions.ListSessionsByTeacher(ctx, teacherID)
	if err != nil {
		return
	}
	return s.build(ctx, sessions)
}

// BuildDepartmentReport aggregates every session recorded for departmentID.
// Only administrators may request it.
func (s *ReportService) BuildDepartmentReport(ctx context.Context, principal Principal, departmentID string) (report Report, err error) {
	if s == nil {
		err = fmt.Errorf("ReportService is nil")
		return
	}
	if !principal.IsAdmin {
		err = ErrForbidden
		return
	}

	logger := s.loggerWith(ctx, "BuildDepartmentReport",
		"actor_id", principal.UserID,
		"department_id", departmentID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to build department report", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("total_lectures", report.TotalLectures).InfoContext(ctx, "department report built")
	}()

	if s.sessions == nil || departmentID == "" {
		return emptyReport(), nil
	}

	var sessions []Session
	sessions, err = s.sessions.ListSessionsByDepartment(ctx, departmentID)
	if err != nil {
		return
	}
	return s.build(ctx, sessions)
}

func (s *ReportService) build(ctx context.Context, sessions []Session) (Report, error) {
	rows := make([]ReportRow, len(sessions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, session := range sessions {
		rows[i] = newReportRow(session)

		if session.Status == SessionClosed && session.Aggregate != nil {
			rows[i].applyTally(*session.Aggregate)
			continue
		}
		if s.records == nil {
			continue
		}

		g.Go(func() error {
			records, err := s.records.ListRecordsBySession(gctx, session.ID)
			if err != nil {
				return fmt.Errorf("session %s: %w", session.ID, err)
			}
			rows[i].applyTally(Tally(records))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	return Report{
		TotalLectures: len(rows),
		Rows:          rows,
		Summary:       Summarize(rows),
	}, nil
}

func newReportRow(session Session) ReportRow {
	department := session.DepartmentName
	if department == "" {
		department = session.DepartmentID
	}
	course := session.CourseName
	if course == "" {
		course = session.CourseID
	}
	return ReportRow{
		SessionID:     session.ID,
		LectureDate:   session.LectureDate,
		LectureNumber: session.LectureNumber,
		Subject:       session.Subject,
		SubjectCode:   session.SubjectCode,
		Course:        course,
		Department:    department,
		Status:        session.Status,
	}
}

func (r *ReportRow) applyTally(agg Aggregate) {
	r.TotalStudents = agg.TotalStudents
	r.Present = agg.Present
	r.Absent = agg.Absent
	r.AttendancePercentage = Percentage(agg.Present, agg.TotalStudents)
}

// Percentage returns present/total as a rounded whole percentage, or 0 when total is 0.
func Percentage(present, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(present) / float64(total) * 100))
}

// Summarize rolls rows up weighted by students, not by lectures.
func Summarize(rows []ReportRow) ReportSummary {
	var summary ReportSummary
	for _, row := range rows {
		summary.TotalStudents += row.TotalStudents
		summary.Present += row.Present
		summary.Absent += row.Absent
	}
	summary.AttendancePercentage = Percentage(summary.Present, summary.TotalStudents)
	return summary
}

// OverallPercentage is round(sum(present) / sum(totalStudents) * 100) across rows.
func OverallPercentage(rows []ReportRow) int {
	return Summarize(rows).AttendancePercentage
}

func emptyReport() Report {
	return Report{Rows: []ReportRow{}}
}
