package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"dancehost/internal/events"
	"dancehost/internal/models"
	"dancehost/pkg/logger"
)

// BookingHandlers receives booking lifecycle notifications from the booking service.
type BookingHandlers struct {
	listener  events.BookingStatusListener
	hookToken string
}

// NewBookingHandlers guards the hook with hookToken; an empty token leaves it open, which
// is only meant for local runs.
func NewBookingHandlers(listener events.BookingStatusListener, hookToken string) *BookingHandlers {
	return &BookingHandlers{listener: listener, hookToken: hookToken}
}

// StatusChanged handles POST /internal/bookings/{id}/status with a {"status": ...} body.
func (h *BookingHandlers) StatusChanged(w http.ResponseWriter, r *http.Request) {
	if h.hookToken != "" {
		got := r.Header.Get("X-Internal-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.hookToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var req struct {
		Status models.BookingStatus `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	update := models.BookingStatusUpdate{BookingID: r.PathValue("id"), Status: req.Status}
	if err := events.ValidateBookingStatus(&update); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.listener.BookingStatusChanged(r.Context(), update.BookingID, update.Status); err != nil {
		logger.Error("Booking status hook error for %s: %v", update.BookingID, err)
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
