package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/attendance-engine/internal/application"
)

type reportService interface {
	BuildReport(ctx context.Context, principal application.Principal, teacherID string) (application.Report, error)
	BuildDepartmentReport(ctx context.Context, principal application.Principal, departmentID string) (application.Report, error)
}

type ReportHandler struct {
	service   reportService
	responder responder
}

func NewReportHandler(service reportService, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{service: service, responder: newResponder(logger)}
}

// Teacher renders the report for ?teacher_id=, defaulting to the caller.
func (h *ReportHandler) Teacher(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	teacherID := strings.TrimSpace(r.URL.Query().Get("teacher_id"))

	report, err := h.service.BuildReport(r.Context(), principal, teacherID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toReportDTO(report))
}

func (h *ReportHandler) Department(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	departmentID := strings.TrimSpace(r.PathValue("id"))
	if departmentID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidDeptID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	report, err := h.service.BuildDepartmentReport(r.Context(), principal, departmentID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toReportDTO(report))
}

type reportRowDTO struct {
	SessionID            string `json:"session_id"`
	LectureDate          string `json:"lecture_date"`
	LectureNumber        int    `json:"lecture_number"`
	Subject              string `json:"subject"`
	SubjectCode          string `json:"subject_code"`
	Course               string `json:"course"`
	Department           string `json:"department"`
	Status               string `json:"status"`
	TotalStudents        int    `json:"total_students"`
	Present              int    `json:"present"`
	Absent               int    `json:"absent"`
	AttendancePercentage int    `json:"attendance_percentage"`
}

type reportSummaryDTO struct {
	TotalStudents        int `json:"total_students"`
	Present              int `json:"present"`
	Absent               int `json:"absent"`
	AttendancePercentage int `json:"attendance_percentage"`
}

type reportDTO struct {
	TotalLectures int              `json:"total_lectures"`
	Rows          []reportRowDTO   `json:"rows"`
	Summary       reportSummaryDTO `json:"summary"`
	GeneratedAt   string           `json:"generated_at"`
}

func toReportDTO(report application.Report) reportDTO {
	rows := make([]reportRowDTO, len(report.Rows))
	for i, row := range report.Rows {
		rows[i] = reportRowDTO{
			SessionID:            row.SessionID,
			LectureDate:          row.LectureDate.Format(lectureDateLayout),
			LectureNumber:        row.LectureNumber,
			Subject:              row.Subject,
			SubjectCode:          row.SubjectCode,
			Course:               row.Course,
			Department:           row.Department,
			Status:               string(row.Status),
			TotalStudents:        row.TotalStudents,
			Present:              row.Present,
			Absent:               row.Absent,
			AttendancePercentage: row.AttendancePercentage,
		}
	}
	return reportDTO{
		TotalLectures: report.TotalLectures,
		Rows:          rows,
		Summary: reportSummaryDTO{
			TotalStudents:        report.Summary.TotalStudents,
			Present:              report.Summary.Present,
			Absent:               report.Summary.Absent,
			AttendancePercentage: report.Summary.AttendancePercentage,
		},
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}
