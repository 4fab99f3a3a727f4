package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the backing store answers.
type HealthHandler struct {
	store     pinger
	responder responder
}

func NewHealthHandler(store pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, responder: newResponder(logger)}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.store == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.responder.loggerFor(r.Context()).WarnContext(r.Context(), "health check failed", "error", err)
		h.responder.writeJSON(r.Context(), w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok"})
}

type healthResponse struct {
	Status string `json:"status"`
}
