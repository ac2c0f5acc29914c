package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/cloud-gov/pages-core/internal/api/middleware"
	"github.com/cloud-gov/pages-core/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// EventsHandler streams live build status events over a websocket.
type EventsHandler struct {
	broker   *events.Broker
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(broker *events.Broker, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Stream handles GET /v1/sites/{siteID}/events. Subscribers receive events
// for the site room and, when authenticated, their per-user room.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	siteID, err := strconv.ParseInt(chi.URLParam(r, "siteID"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Invalid site ID")
		return
	}

	rooms := []string{events.SiteRoom(siteID)}
	if userID := middleware.GetUserID(r.Context()); userID != 0 {
		rooms = append(rooms, events.SiteUserRoom(siteID, userID))
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket", "error", err)
		return
	}

	sub := h.broker.Subscribe(rooms...)
	defer h.broker.Unsubscribe(sub)
	defer conn.Close()

	h.logger.Debug("event stream opened",
		"subscriber_id", sub.ID,
		"site_id", siteID,
	)

	// Reader only drains control frames; a read error means the client went
	// away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-sub.Ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.logger.Debug("websocket write error",
						"subscriber_id", sub.ID,
						"error", err,
					)
				}
				return
			}
		}
	}
}
