package app

import (
	"context"
	"time"

	"github.com/example/attendance-engine/internal/application"
	"github.com/example/attendance-engine/internal/persistence"
)

type sessionStoreAdapter struct {
	repo persistence.SessionRepository
}

func newSessionStoreAdapter(repo persistence.SessionRepository) *sessionStoreAdapter {
	return &sessionStoreAdapter{repo: repo}
}

func (a *sessionStoreAdapter) CreateSession(ctx context.Context, session application.Session, records []application.AttendanceRecord) error {
	models := make([]persistence.AttendanceRecord, len(records))
	for i, record := range records {
		models[i] = toPersistenceRecord(record)
	}
	return a.repo.CreateSession(ctx, toPersistenceSession(session), models)
}

func (a *sessionStoreAdapter) GetSession(ctx context.Context, id string) (application.Session, error) {
	stored, err := a.repo.GetSession(ctx, id)
	if err != nil {
		return application.Session{}, err
	}
	return toApplicationSession(stored), nil
}

func (a *sessionStoreAdapter) CloseSession(ctx context.Context, id string, expectedVersion int64, aggregate application.Aggregate, closedAt time.Time) (application.Session, error) {
	stored, err := a.repo.CloseSession(ctx, id, expectedVersion, persistence.Aggregate(aggregate), closedAt)
	if err != nil {
		return application.Session{}, err
	}
	return toApplicationSession(stored), nil
}

func (a *sessionStoreAdapter) ListSessionsByTeacher(ctx context.Context, teacherID string) ([]application.Session, error) {
	stored, err := a.repo.ListSessionsByTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	return toApplicationSessions(stored), nil
}

func (a *sessionStoreAdapter) ListSessionsByDepartment(ctx context.Context, departmentID string) ([]application.Session, error) {
	stored, err := a.repo.ListSessionsByDepartment(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	return toApplicationSessions(stored), nil
}

type recordStoreAdapter struct {
	repo persistence.RecordRepository
}

func newRecordStoreAdapter(repo persistence.RecordRepository) *recordStoreAdapter {
	return &recordStoreAdapter{repo: repo}
}

func (a *recordStoreAdapter) UpsertRecords(ctx context.Context, sessionID string, writes []application.RecordWrite, markedAt time.Time) (int, error) {
	models := make([]persistence.RecordWrite, len(writes))
	for i, write := range writes {
		models[i] = persistence.RecordWrite{
			StudentID: write.StudentID,
			Status:    string(write.Status),
			MarkedBy:  write.MarkedBy,
		}
	}
	return a.repo.UpsertRecords(ctx, sessionID, models, markedAt)
}

func (a *recordStoreAdapter) ListRecordsBySession(ctx context.Context, sessionID string) ([]application.AttendanceRecord, error) {
	stored, err := a.repo.ListRecordsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	records := make([]application.AttendanceRecord, len(stored))
	for i, record := range stored {
		records[i] = toApplicationRecord(record)
	}
	return records, nil
}

// catalogAdapter serves both the roster and the course directory from the store's catalog tables.
type catalogAdapter struct {
	catalog persistence.CourseCatalog
}

func newCatalogAdapter(catalog persistence.CourseCatalog) *catalogAdapter {
	return &catalogAdapter{catalog: catalog}
}

func (a *catalogAdapter) EnrolledStudents(ctx context.Context, courseID string) ([]string, error) {
	return a.catalog.ListEnrollments(ctx, courseID)
}

func (a *catalogAdapter) GetCourse(ctx context.Context, courseID string) (application.Course, error) {
	course, err := a.catalog.GetCourse(ctx, courseID)
	if err != nil {
		return application.Course{}, err
	}
	return application.Course{
		ID:             course.ID,
		Name:           course.Name,
		Subject:        course.Subject,
		SubjectCode:    course.SubjectCode,
		DepartmentID:   course.DepartmentID,
		DepartmentName: course.DepartmentName,
	}, nil
}

func toApplicationSession(model persistence.Session) application.Session {
	session := application.Session{
		ID:             model.ID,
		CourseID:       model.CourseID,
		TeacherID:      model.TeacherID,
		DepartmentID:   model.DepartmentID,
		CourseName:     model.CourseName,
		Subject:        model.Subject,
		SubjectCode:    model.SubjectCode,
		DepartmentName: model.DepartmentName,
		LectureDate:    model.LectureDate,
		LectureNumber:  model.LectureNumber,
		Status:         application.SessionStatus(model.Status),
		Version:        model.Version,
		ClosedAt:       cloneTime(model.ClosedAt),
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}
	if model.Aggregate != nil {
		agg := application.Aggregate(*model.Aggregate)
		session.Aggregate = &agg
	}
	return session
}

func toApplicationSessions(models []persistence.Session) []application.Session {
	sessions := make([]application.Session, len(models))
	for i, model := range models {
		sessions[i] = toApplicationSession(model)
	}
	return sessions
}

func toPersistenceSession(session application.Session) persistence.Session {
	model := persistence.Session{
		ID:             session.ID,
		CourseID:       session.CourseID,
		TeacherID:      session.TeacherID,
		DepartmentID:   session.DepartmentID,
		CourseName:     session.CourseName,
		Subject:        session.Subject,
		SubjectCode:    session.SubjectCode,
		DepartmentName: session.DepartmentName,
		LectureDate:    session.LectureDate,
		LectureNumber:  session.LectureNumber,
		Status:         string(session.Status),
		Version:        session.Version,
		ClosedAt:       cloneTime(session.ClosedAt),
		CreatedAt:      session.CreatedAt,
		UpdatedAt:      session.UpdatedAt,
	}
	if session.Aggregate != nil {
		agg := persistence.Aggregate(*session.Aggregate)
		model.Aggregate = &agg
	}
	return model
}

func toApplicationRecord(model persistence.AttendanceRecord) application.AttendanceRecord {
	return application.AttendanceRecord{
		SessionID: model.SessionID,
		StudentID: model.StudentID,
		Status:    application.AttendanceStatus(model.Status),
		MarkedAt:  model.MarkedAt,
		MarkedBy:  model.MarkedBy,
	}
}

func toPersistenceRecord(record application.AttendanceRecord) persistence.AttendanceRecord {
	return persistence.AttendanceRecord{
		SessionID: record.SessionID,
		StudentID: record.StudentID,
		Status:    string(record.Status),
		MarkedAt:  record.MarkedAt,
		MarkedBy:  record.MarkedBy,
	}
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
