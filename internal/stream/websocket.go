package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// WebSocketHandler streams session events to websocket clients.
type WebSocketHandler struct {
	hub            *Hub
	originPatterns []string
	logger         *slog.Logger
}

// NewWebSocketHandler creates a handler. originPatterns follow
// websocket.AcceptOptions; "*" accepts any origin.
func NewWebSocketHandler(hub *Hub, originPatterns []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{hub: hub, originPatterns: originPatterns, logger: logger}
}

// Register mounts the stream routes.
func (h *WebSocketHandler) Register(r chi.Router) {
	r.Get("/api/events", h.ServeHTTP)
	r.Get("/api/sessions/{id}/events", h.ServeHTTP)
}

// ServeHTTP upgrades the request and forwards events until either side
// goes away.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "id")
	if key == "" {
		key = AllSessions
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("failed to accept websocket", "error", err, "session_id", key)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "error", closeErr, "session_id", key)
		}
	}()

	sub := h.hub.Subscribe(key)
	defer h.hub.Unsubscribe(sub)

	// Clients only listen; CloseRead handles control frames and cancels
	// ctx once the peer disconnects.
	ctx := ws.CloseRead(r.Context())
	h.logger.Info("event stream opened", "session_id", key, "ip", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("event stream closed", "session_id", key)
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, ev); err != nil {
				h.logger.Debug("websocket write error", "error", err, "session_id", key)
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
