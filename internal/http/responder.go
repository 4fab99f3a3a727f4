package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/attendance-engine/internal/application"
)

// closeRetryAfterSeconds is advertised on CLOSE_CONFLICT responses.
const closeRetryAfterSeconds = "1"

var (
	errBadRequestBody   = errors.New("無効なリクエスト形式です。")
	errInvalidSessionID = errors.New("無効なセッション ID です。")
	errInvalidDeptID    = errors.New("無効な学科 ID です。")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	var (
		vErr       *application.ValidationError
		studentErr *application.StudentNotInSessionError
	)

	switch {
	case errors.Is(err, application.ErrForbidden):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{
			ErrorCode: "FORBIDDEN",
			Message:   "この操作を実行する権限がありません。",
		})
	case errors.Is(err, application.ErrSessionNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{
			ErrorCode: "SESSION_NOT_FOUND",
			Message:   "指定されたセッションが見つかりません。",
		})
	case errors.Is(err, application.ErrCourseNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{
			ErrorCode: "COURSE_NOT_FOUND",
			Message:   "指定された講義が見つかりません。",
		})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Message: "指定されたリソースが見つかりません。"})
	case errors.Is(err, application.ErrSessionClosed):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "SESSION_CLOSED",
			Message:   "締め切られたセッションの出欠は変更できません。",
		})
	case errors.Is(err, application.ErrSessionAlreadyClosed):
		r.writeAlreadyClosed(ctx, w, nil)
	case errors.Is(err, application.ErrCloseConflict):
		w.Header().Set("Retry-After", closeRetryAfterSeconds)
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "CLOSE_CONFLICT",
			Message:   "他の更新と競合しました。時間をおいて再度締め切ってください。",
		})
	case errors.Is(err, application.ErrRosterUnavailable):
		r.loggerFor(ctx).WarnContext(ctx, "roster unavailable", "error", err)
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{
			ErrorCode: "ROSTER_UNAVAILABLE",
			Message:   "履修者名簿を取得できませんでした。時間をおいて再度お試しください。",
		})
	case errors.As(err, &studentErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "STUDENT_NOT_IN_SESSION",
			Message:   "入力内容に誤りがあります。",
			Errors: map[string]string{
				"marks": "セッションに登録されていない学生が含まれています: " + strings.Join(studentErr.StudentIDs, ", "),
			},
		})
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "VALIDATION_FAILED",
			Message:   "入力内容に誤りがあります。",
			Errors:    localizeValidationErrors(vErr),
		})
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "サーバー内部でエラーが発生しました。"})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusUnauthorized:
		return "認証が必要です。"
	case http.StatusForbidden:
		return "この操作を実行する権限がありません。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	case http.StatusUnprocessableEntity:
		return "入力内容に誤りがあります。"
	case http.StatusServiceUnavailable:
		return "サービスを一時的に利用できません。"
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

func localizeValidationErrors(vErr *application.ValidationError) map[string]string {
	if vErr == nil || len(vErr.FieldErrors) == 0 {
		return nil
	}

	translated := make(map[string]string, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		translated[field] = translateValidationMessage(msg)
	}
	return translated
}

func translateValidationMessage(message string) string {
	switch message {
	case "course id is required":
		return "講義 ID は必須です。"
	case "teacher id is required":
		return "教員 ID は必須です。"
	case "lecture date is required":
		return "講義日は必須です。"
	case "lecture date must be YYYY-MM-DD":
		return "講義日は YYYY-MM-DD 形式で指定してください。"
	case "lecture number must be positive":
		return "講義回は 1 以上の整数で指定してください。"
	case "at least one mark is required":
		return "少なくとも 1 件の出欠を指定してください。"
	case "student id is required":
		return "学生 ID は必須です。"
	case "status must be PRESENT or ABSENT":
		return "出欠は PRESENT または ABSENT で指定してください。"
	case "student listed more than once":
		return "同じ学生が複数回指定されています。"
	case "session could not be stored":
		return "セッションを保存できませんでした。"
	default:
		if strings.HasSuffix(message, " is too long") {
			return "入力値が長すぎます。"
		}
		return message
	}
}

// writeAlreadyClosed reports a repeated close. frozen carries the aggregate
// recorded by the first close when it is known.
func (r responder) writeAlreadyClosed(ctx context.Context, w http.ResponseWriter, frozen *aggregateDTO) {
	r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
		ErrorCode: "SESSION_ALREADY_CLOSED",
		Message:   "このセッションは既に締め切られています。",
		Aggregate: frozen,
	})
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
	Aggregate *aggregateDTO     `json:"aggregate,omitempty"`
}
