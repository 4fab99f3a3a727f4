package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/attendance-engine/internal/application"
	"github.com/example/attendance-engine/internal/live"
)

const (
	eventsWriteTimeout = 5 * time.Second
	eventsPongWait     = 60 * time.Second
	eventsPingInterval = 30 * time.Second
)

type eventSource interface {
	Subscribe(principal application.Principal) (*live.Subscription, error)
	Unsubscribe(sub *live.Subscription)
}

// EventsHandler streams session lifecycle events over a websocket.
type EventsHandler struct {
	source    eventSource
	upgrader  websocket.Upgrader
	responder responder
	logger    *slog.Logger
}

func NewEventsHandler(source eventSource, logger *slog.Logger) *EventsHandler {
	logger = defaultLogger(logger)
	return &EventsHandler{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Identity comes from the gateway headers, not from cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		responder: newResponder(logger),
		logger:    logger,
	}
}

// Stream upgrades the request and forwards events until either side goes away.
// Administrators may narrow the stream with ?teacher_id=.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.source == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	teacherID := strings.TrimSpace(r.URL.Query().Get("teacher_id"))
	if teacherID != "" && !principal.IsAdmin && teacherID != principal.UserID {
		h.responder.handleServiceError(r.Context(), w, application.ErrForbidden)
		return
	}

	// Subscribe before the handshake completes so a connected client never misses
	// events published right after it dialled.
	sub, err := h.source.Subscribe(principal)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusServiceUnavailable, err)
		return
	}
	defer h.source.Unsubscribe(sub)

	logger := handlerLogger(r, h.logger, "EventsHandler", "Stream", "teacher_filter", teacherID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already wrote the HTTP error.
		logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go readUntilClosed(conn, cancel)

	logger.InfoContext(ctx, "event stream opened")
	defer func() {
		logger.InfoContext(ctx, "event stream closed", "dropped", sub.Dropped())
	}()

	ticker := time.NewTicker(eventsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(eventsWriteTimeout))
				return
			}
			if teacherID != "" && event.TeacherID != teacherID {
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(toEventDTO(event)); err != nil {
				logger.WarnContext(ctx, "event write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteTimeout)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readUntilClosed drains client frames so pongs and close frames are processed.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type eventDTO struct {
	Type      string       `json:"type"`
	SessionID string       `json:"session_id"`
	TeacherID string       `json:"teacher_id"`
	Status    string       `json:"status"`
	Tally     aggregateDTO `json:"tally"`
	Changed   int          `json:"changed,omitempty"`
	At        string       `json:"at"`
}

func toEventDTO(event application.Event) eventDTO {
	return eventDTO{
		Type:      string(event.Type),
		SessionID: event.SessionID,
		TeacherID: event.TeacherID,
		Status:    string(event.Status),
		Tally:     toAggregateDTO(event.Tally),
		Changed:   event.Changed,
		At:        event.At.UTC().Format(time.RFC3339Nano),
	}
}
