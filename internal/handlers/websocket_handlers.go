package handlers

import (
	"errors"
	"net/http"
	"strings"

	"dancehost/internal/auth"
	"dancehost/internal/models"
	"dancehost/internal/observability"
	ws "dancehost/internal/websocket"
	"dancehost/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	authorizer *auth.Authorizer
	supervisor *ws.Supervisor
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
}

func NewWebSocketHandlers(authorizer *auth.Authorizer, supervisor *ws.Supervisor, metrics *observability.Metrics) *WebSocketHandlers {
	return &WebSocketHandlers{
		authorizer: authorizer,
		supervisor: supervisor,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

// HandleWebSocket admits GET /ws?channel_kind=&channel_id=&token=. Authorization happens
// before the upgrade; a refused caller still gets a socket, but only to read the close code.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	kind, err := models.ParseChannelKind(query.Get("channel_kind"))
	if err != nil {
		// The raw kind is client input; keep it out of the label set.
		h.metrics.UpgradeRejected("invalid", "bad_request")
		http.Error(w, "invalid channel_kind", http.StatusBadRequest)
		return
	}
	channelID := strings.TrimSpace(query.Get("channel_id"))
	if channelID == "" {
		h.metrics.UpgradeRejected(string(kind), "bad_request")
		http.Error(w, "missing channel_id", http.StatusBadRequest)
		return
	}
	token := query.Get("token")
	if token == "" {
		token = bearerToken(r)
	}

	if h.supervisor.ShuttingDown() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	channel := models.Channel{Kind: kind, ID: channelID}
	grant, authErr := h.authorizer.Authorize(r.Context(), token, channel)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	if authErr != nil {
		code, reason, label := ws.CloseUnauthorized, ws.ReasonUnauthorized, "unauthorized"
		if errors.Is(authErr, auth.ErrBookingNotInProgress) {
			code, reason, label = ws.CloseBookingNotStarted, ws.ReasonNotInProgress, "not_in_progress"
		}
		logger.Info("Rejected %s connection: %v", channel, authErr)
		h.metrics.UpgradeRejected(string(kind), label)
		h.supervisor.Reject(conn, code, reason)
		return
	}

	h.supervisor.Serve(conn, grant)
}

// bearerToken reads an Authorization: Bearer header for clients that can set one.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
