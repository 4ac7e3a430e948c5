package models

import "time"

type Conversation struct {
	ID           string    `json:"id"`
	Participant1 string    `json:"participant_1"`
	Participant2 string    `json:"participant_2"`
	CreatedAt    time.Time `json:"created_at"`
}

// Other returns the participant that is not userID, and false when userID is not on the
// conversation at all.
func (c *Conversation) Other(userID string) (string, bool) {
	switch userID {
	case c.Participant1:
		return c.Participant2, true
	case c.Participant2:
		return c.Participant1, true
	default:
		return "", false
	}
}

type BookingStatus string

const (
	BookingStatusPending    BookingStatus = "pending"
	BookingStatusConfirmed  BookingStatus = "confirmed"
	BookingStatusInProgress BookingStatus = "in_progress"
	BookingStatusCompleted  BookingStatus = "completed"
	BookingStatusCancelled  BookingStatus = "cancelled"
)

// Valid reports whether s is one of the booking lifecycle states.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusInProgress, BookingStatusCompleted, BookingStatusCancelled:
		return true
	}
	return false
}

type Booking struct {
	ID       string        `json:"id"`
	ClientID string        `json:"client_id"`
	HostID   string        `json:"host_id"`
	Status   BookingStatus `json:"status"`
}

func (b *Booking) InProgress() bool {
	return b.Status == BookingStatusInProgress
}

// Other returns the client for the host and the host for the client.
func (b *Booking) Other(userID string) (string, bool) {
	switch userID {
	case b.ClientID:
		return b.HostID, true
	case b.HostID:
		return b.ClientID, true
	default:
		return "", false
	}
}

type BookingStatusUpdate struct {
	BookingID string        `json:"booking_id"`
	Status    BookingStatus `json:"status"`
}
