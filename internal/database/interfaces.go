package database

import (
	"context"

	"dancehost/internal/models"
)

// ConversationRepository resolves the two participants of a conversation.
type ConversationRepository interface {
	GetConversationParticipants(ctx context.Context, conversationID string) (*models.Conversation, error)
}

// BookingRepository resolves the client, host and lifecycle status of a booking.
type BookingRepository interface {
	GetBookingParticipants(ctx context.Context, bookingID string) (*models.Booking, error)
}

// MessageRepository is the durable message store. ListMessages returns up to limit messages
// strictly older than cursor (all messages when cursor is nil), newest first, ordered by
// (created_at, id) descending.
type MessageRepository interface {
	AppendMessage(ctx context.Context, conversationID, senderID, content string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string, cursor *models.MessageCursor, limit int) ([]*models.Message, error)
}

type Database interface {
	ConversationRepository
	BookingRepository
	MessageRepository
	Close() error
}
