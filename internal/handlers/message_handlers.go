package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"dancehost/internal/auth"
	"dancehost/internal/models"
	"dancehost/internal/services"
	"dancehost/pkg/logger"
)

// maxSendBody fits the longest allowed message even when every rune is \u-escaped.
const maxSendBody = 64 << 10

// MessageHandlers serves conversation history and the REST send path. Both apply the same
// participant check as the chat channel.
type MessageHandlers struct {
	authorizer *auth.Authorizer
	chat       *services.ChatService
	history    *services.MessageService
}

func NewMessageHandlers(authorizer *auth.Authorizer, chat *services.ChatService, history *services.MessageService) *MessageHandlers {
	return &MessageHandlers{
		authorizer: authorizer,
		chat:       chat,
		history:    history,
	}
}

// ListMessages handles GET /conversations/{id}/messages?cursor=&limit=.
func (h *MessageHandlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if _, ok := h.authorize(w, r, conversationID); !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	page, err := h.history.ListMessages(r.Context(), conversationID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		logger.Error("List messages error for conversation %s: %v", conversationID, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// SendMessage handles POST /conversations/{id}/messages. The stored message is the
// sender's copy; live peers get it over their chat channel.
func (h *MessageHandlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	grant, ok := h.authorize(w, r, conversationID)
	if !ok {
		return
	}

	var req models.SendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	msg, err := h.chat.Send(r.Context(), grant.UserID, conversationID, req.Content)
	if err != nil {
		logger.Error("Send message error for conversation %s: %v", conversationID, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandlers) authorize(w http.ResponseWriter, r *http.Request, conversationID string) (*auth.Grant, bool) {
	if conversationID == "" {
		http.Error(w, "invalid conversation ID", http.StatusBadRequest)
		return nil, false
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}

	grant, err := h.authorizer.AuthorizeConversation(r.Context(), token, conversationID)
	if err != nil {
		logger.Debug("Rejected history access to conversation %s: %v", conversationID, err)
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrAuthDisabled) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		} else {
			http.Error(w, "forbidden", http.StatusForbidden)
		}
		return nil, false
	}
	return grant, true
}

// writeError maps validation and store failures to the same payload the live channel sends.
func writeError(w http.ResponseWriter, err error) {
	data, _ := models.ErrorDataFor(err)
	status := http.StatusInternalServerError
	var verr *models.ValidationError
	var serr *models.StoreError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.As(err, &serr):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Encoding response failed: %v", err)
	}
}
