package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/attendance-engine/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// handlerLogger scopes the request logger to a handler operation and tags the
// session id when the route carries one.
func handlerLogger(r *http.Request, fallback *slog.Logger, handlerName, operation string, attrs ...any) *slog.Logger {
	if id := strings.TrimSpace(r.PathValue("id")); id != "" && strings.HasPrefix(r.URL.Path, "/sessions/") {
		attrs = append([]any{"session_id", id}, attrs...)
	}
	return logging.Scoped(r.Context(), fallback, "handler", handlerName, operation, attrs...)
}
