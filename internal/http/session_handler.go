package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/attendance-engine/internal/application"
)

const lectureDateLayout = "2006-01-02"

type sessionService interface {
	OpenSession(ctx context.Context, params application.OpenSessionParams) (application.Session, error)
	ListSessions(ctx context.Context, principal application.Principal, teacherID string) ([]application.Session, error)
	GetSession(ctx context.Context, principal application.Principal, sessionID string) (application.Session, error)
	ListRecords(ctx context.Context, principal application.Principal, sessionID string) ([]application.AttendanceRecord, error)
	MarkAttendance(ctx context.Context, params application.MarkAttendanceParams) (int, error)
	CloseSession(ctx context.Context, principal application.Principal, sessionID string) (application.Aggregate, error)
}

type SessionHandler struct {
	service   sessionService
	responder responder
	logger    *slog.Logger
}

func NewSessionHandler(service sessionService, logger *slog.Logger) *SessionHandler {
	logger = defaultLogger(logger)
	return &SessionHandler{service: service, responder: newResponder(logger), logger: logger}
}

func (h *SessionHandler) log(r *http.Request, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(r, h.logger, "SessionHandler", operation, attrs...)
}

func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	if err := validateRequest(req); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	lectureDate, _ := time.Parse(lectureDateLayout, req.LectureDate)

	session, err := h.service.OpenSession(r.Context(), application.OpenSessionParams{
		Principal:     principal,
		TeacherID:     strings.TrimSpace(req.TeacherID),
		CourseID:      strings.TrimSpace(req.CourseID),
		LectureDate:   lectureDate,
		LectureNumber: req.LectureNumber,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r, "Open", "session_id", session.ID, "course_id", session.CourseID).InfoContext(r.Context(), "session opened")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toSessionDTO(session))
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	teacherID := strings.TrimSpace(r.URL.Query().Get("teacher_id"))

	sessions, err := h.service.ListSessions(r.Context(), principal, teacherID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listSessionsResponse{Sessions: toSessionDTOs(sessions)})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessionID, ok := sessionIDFromRequest(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	session, err := h.service.GetSession(r.Context(), principal, sessionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSessionDTO(session))
}

func (h *SessionHandler) Records(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessionID, ok := sessionIDFromRequest(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	records, err := h.service.ListRecords(r.Context(), principal, sessionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listRecordsResponse{
		SessionID: sessionID,
		Records:   toRecordDTOs(records),
	})
}

func (h *SessionHandler) Mark(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessionID, ok := sessionIDFromRequest(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	var req markAttendanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	if err := validateRequest(req); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	changed, err := h.service.MarkAttendance(r.Context(), application.MarkAttendanceParams{
		Principal: principal,
		SessionID: sessionID,
		Marks:     req.toMarks(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, markAttendanceResponse{
		SessionID:    sessionID,
		UpdatedCount: changed,
	})
}

func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessionID, ok := sessionIDFromRequest(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	aggregate, err := h.service.CloseSession(r.Context(), principal, sessionID)
	if errors.Is(err, application.ErrSessionAlreadyClosed) {
		frozen := toAggregateDTO(aggregate)
		h.responder.writeAlreadyClosed(r.Context(), w, &frozen)
		return
	}
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r, "Close").InfoContext(r.Context(), "session closed", "present", aggregate.Present, "total", aggregate.TotalStudents)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, closeSessionResponse{
		SessionID: sessionID,
		Status:    string(application.SessionClosed),
		Aggregate: toAggregateDTO(aggregate),
	})
}

func sessionIDFromRequest(r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	return id, id != ""
}

type openSessionRequest struct {
	TeacherID     string `json:"teacher_id" validate:"max=128"`
	CourseID      string `json:"course_id" validate:"required,max=128"`
	LectureDate   string `json:"lecture_date" validate:"required,datetime=2006-01-02"`
	LectureNumber int    `json:"lecture_number" validate:"required,min=1"`
}

type markAttendanceRequest struct {
	Marks []markDTO `json:"marks" validate:"required,min=1,dive"`
}

type markDTO struct {
	StudentID string `json:"student_id" validate:"required,max=128"`
	Status    string `json:"status" validate:"required"`
}

func (r markAttendanceRequest) toMarks() []application.Mark {
	marks := make([]application.Mark, len(r.Marks))
	for i, m := range r.Marks {
		marks[i] = application.Mark{
			StudentID: m.StudentID,
			Status:    application.AttendanceStatus(m.Status),
		}
	}
	return marks
}

type aggregateDTO struct {
	TotalStudents int `json:"total_students"`
	Present       int `json:"present"`
	Absent        int `json:"absent"`
}

type sessionDTO struct {
	ID             string        `json:"id"`
	CourseID       string        `json:"course_id"`
	TeacherID      string        `json:"teacher_id"`
	DepartmentID   string        `json:"department_id,omitempty"`
	CourseName     string        `json:"course_name,omitempty"`
	Subject        string        `json:"subject,omitempty"`
	SubjectCode    string        `json:"subject_code,omitempty"`
	DepartmentName string        `json:"department_name,omitempty"`
	LectureDate    string        `json:"lecture_date"`
	LectureNumber  int           `json:"lecture_number"`
	Status         string        `json:"status"`
	Aggregate      *aggregateDTO `json:"aggregate,omitempty"`
	ClosedAt       string        `json:"closed_at,omitempty"`
	CreatedAt      string        `json:"created_at"`
	UpdatedAt      string        `json:"updated_at"`
}

type recordDTO struct {
	StudentID string `json:"student_id"`
	Status    string `json:"status"`
	MarkedAt  string `json:"marked_at"`
	MarkedBy  string `json:"marked_by,omitempty"`
}

type listSessionsResponse struct {
	Sessions []sessionDTO `json:"sessions"`
}

type listRecordsResponse struct {
	SessionID string      `json:"session_id"`
	Records   []recordDTO `json:"records"`
}

type markAttendanceResponse struct {
	SessionID    string `json:"session_id"`
	UpdatedCount int    `json:"updated_count"`
}

type closeSessionResponse struct {
	SessionID string       `json:"session_id"`
	Status    string       `json:"status"`
	Aggregate aggregateDTO `json:"aggregate"`
}

func toAggregateDTO(agg application.Aggregate) aggregateDTO {
	return aggregateDTO{TotalStudents: agg.TotalStudents, Present: agg.Present, Absent: agg.Absent}
}

func toSessionDTO(session application.Session) sessionDTO {
	dto := sessionDTO{
		ID:             session.ID,
		CourseID:       session.CourseID,
		TeacherID:      session.TeacherID,
		DepartmentID:   session.DepartmentID,
		CourseName:     session.CourseName,
		Subject:        session.Subject,
		SubjectCode:    session.SubjectCode,
		DepartmentName: session.DepartmentName,
		LectureDate:    session.LectureDate.Format(lectureDateLayout),
		LectureNumber:  session.LectureNumber,
		Status:         string(session.Status),
		CreatedAt:      session.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      session.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if session.Aggregate != nil {
		agg := toAggregateDTO(*session.Aggregate)
		dto.Aggregate = &agg
	}
	if session.ClosedAt != nil {
		dto.ClosedAt = session.ClosedAt.UTC().Format(time.RFC3339Nano)
	}
	return dto
}

func toSessionDTOs(sessions []application.Session) []sessionDTO {
	result := make([]sessionDTO, len(sessions))
	for i, session := range sessions {
		result[i] = toSessionDTO(session)
	}
	return result
}

func toRecordDTOs(records []application.AttendanceRecord) []recordDTO {
	result := make([]recordDTO, len(records))
	for i, record := range records {
		result[i] = recordDTO{
			StudentID: record.StudentID,
			Status:    string(record.Status),
			MarkedAt:  record.MarkedAt.UTC().Format(time.RFC3339Nano),
			MarkedBy:  record.MarkedBy,
		}
	}
	return result
}
