package http

import (
	"log/slog"
	"net/http"
)

type RouterConfig struct {
	Sessions *SessionHandler
	Reports  *ReportHandler
	Events   *EventsHandler
	Health   *HealthHandler
	// Logger is used by the actor check on protected routes.
	Logger     *slog.Logger
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	protect := RequireActor(cfg.Logger)
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, protect(fn))
	}

	if cfg.Sessions != nil {
		handle("POST /sessions", cfg.Sessions.Open)
		handle("GET /sessions", cfg.Sessions.List)
		handle("GET /sessions/{id}", cfg.Sessions.Get)
		handle("GET /sessions/{id}/records", cfg.Sessions.Records)
		handle("PUT /sessions/{id}/attendance", cfg.Sessions.Mark)
		handle("POST /sessions/{id}/close", cfg.Sessions.Close)
	}

	if cfg.Reports != nil {
		handle("GET /reports", cfg.Reports.Teacher)
		handle("GET /reports/departments/{id}", cfg.Reports.Department)
	}

	if cfg.Events != nil {
		handle("GET /events", cfg.Events.Stream)
	}

	if cfg.Health != nil {
		mux.HandleFunc("GET /healthz", cfg.Health.Check)
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}
