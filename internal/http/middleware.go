package http

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/example/attendance-engine/internal/application"
)

const (
	// HeaderActorID carries the acting user as asserted by the upstream gateway.
	HeaderActorID = "X-Actor-ID"
	// HeaderActorRole carries the actor's role. "admin" grants the ownership override.
	HeaderActorRole = "X-Actor-Role"

	roleAdmin = "admin"
)

var errMissingActor = errors.New("認証が必要です。")

// RequireActor resolves the principal from the gateway headers and rejects anonymous requests.
func RequireActor(logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := principalFromHeaders(r)
			if !ok {
				responder.writeJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{
					ErrorCode: "UNAUTHENTICATED",
					Message:   errMissingActor.Error(),
				})
				return
			}

			ctx := ContextWithPrincipal(r.Context(), principal)
			if logger := LoggerFromContext(ctx); logger != nil {
				ctx = ContextWithLogger(ctx, logger.With("actor_id", principal.UserID, "is_admin", principal.IsAdmin))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func principalFromHeaders(r *http.Request) (application.Principal, bool) {
	userID := strings.TrimSpace(r.Header.Get(HeaderActorID))
	if userID == "" {
		return application.Principal{}, false
	}
	role := strings.TrimSpace(r.Header.Get(HeaderActorRole))
	return application.Principal{
		UserID:  userID,
		IsAdmin: strings.EqualFold(role, roleAdmin),
	}, true
}

// RequestLogger attaches a request scoped logger and logs start and completion.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := ContextWithLogger(r.Context(), logger)
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			logger.InfoContext(ctx, "request started")
			next.ServeHTTP(recorder, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed", "status", recorder.status, "duration", time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Hijack exposes the connection to the websocket upgrader.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
