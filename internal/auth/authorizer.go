package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dancehost/internal/database"
	"dancehost/internal/models"
	"dancehost/pkg/logger"
)

var (
	// ErrUnauthorized covers bad tokens, non-participants and failed lookups.
	ErrUnauthorized = errors.New("not authorized for channel")
	// ErrBookingNotInProgress rejects a location channel for a booking that exists but has
	// not started or has already ended.
	ErrBookingNotInProgress = errors.New("booking is not in progress")
)

// Grant is the outcome of a successful authorization, fixed for the life of the connection.
type Grant struct {
	Channel    models.Channel
	UserID     string
	PeerUserID string
}

type Authorizer struct {
	tokens        TokenVerifier
	conversations database.ConversationRepository
	bookings      database.BookingRepository
	lookupTimeout time.Duration
}

func NewAuthorizer(tokens TokenVerifier, conversations database.ConversationRepository, bookings database.BookingRepository, lookupTimeout time.Duration) *Authorizer {
	return &Authorizer{
		tokens:        tokens,
		conversations: conversations,
		bookings:      bookings,
		lookupTimeout: lookupTimeout,
	}
}

// Authorize verifies token and the caller's participation in channel. It has no side
// effects beyond the lookups.
func (a *Authorizer) Authorize(ctx context.Context, token string, channel models.Channel) (*Grant, error) {
	userID, err := a.tokens.VerifyToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	ctx, cancel := a.lookupContext(ctx)
	defer cancel()

	switch channel.Kind {
	case models.ChannelKindChat:
		peer, err := a.conversationPeer(ctx, userID, channel.ID)
		if err != nil {
			return nil, err
		}
		return &Grant{Channel: channel, UserID: userID, PeerUserID: peer}, nil

	case models.ChannelKindLocation:
		booking, err := a.bookings.GetBookingParticipants(ctx, channel.ID)
		if err != nil {
			logger.Debug("Booking lookup for %s failed: %v", channel.ID, err)
			return nil, fmt.Errorf("%w: booking lookup: %v", ErrUnauthorized, err)
		}
		peer, ok := booking.Other(userID)
		if !ok {
			return nil, fmt.Errorf("%w: user %s is not on booking %s", ErrUnauthorized, userID, channel.ID)
		}
		if !booking.InProgress() {
			return nil, fmt.Errorf("%w: booking %s is %s", ErrBookingNotInProgress, channel.ID, booking.Status)
		}
		return &Grant{Channel: channel, UserID: userID, PeerUserID: peer}, nil

	default:
		return nil, fmt.Errorf("%w: unknown channel kind %q", ErrUnauthorized, channel.Kind)
	}
}

// AuthorizeConversation applies the chat channel rules to REST history and send calls.
func (a *Authorizer) AuthorizeConversation(ctx context.Context, token, conversationID string) (*Grant, error) {
	return a.Authorize(ctx, token, models.ConversationChannel(conversationID))
}

func (a *Authorizer) conversationPeer(ctx context.Context, userID, conversationID string) (string, error) {
	conv, err := a.conversations.GetConversationParticipants(ctx, conversationID)
	if err != nil {
		logger.Debug("Conversation lookup for %s failed: %v", conversationID, err)
		return "", fmt.Errorf("%w: conversation lookup: %v", ErrUnauthorized, err)
	}
	peer, ok := conv.Other(userID)
	if !ok {
		return "", fmt.Errorf("%w: user %s is not on conversation %s", ErrUnauthorized, userID, conversationID)
	}
	return peer, nil
}

func (a *Authorizer) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.lookupTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.lookupTimeout)
}
