package models

import "time"

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageCursor is the sort key of the last item on a page. Pages continue strictly older
// than it, with ID breaking created_at ties.
type MessageCursor struct {
	CreatedAt time.Time `json:"t"`
	ID        string    `json:"id"`
}

// Admits reports whether m sorts strictly after the cursor in newest-first order.
func (c MessageCursor) Admits(m *Message) bool {
	if m.CreatedAt.Equal(c.CreatedAt) {
		return m.ID < c.ID
	}
	return m.CreatedAt.Before(c.CreatedAt)
}

type MessagePage struct {
	Items      []*Message `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
	HasMore    bool       `json:"has_more"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}
