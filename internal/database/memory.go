package database

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"dancehost/internal/models"

	"github.com/google/uuid"
)

// MemoryStore implements Database in process memory. It backs DATABASE_URL=memory and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	bookings      map[string]*models.Booking
	messages      map[string][]*models.Message // conversation id -> newest first
	now           func() time.Time
}

var _ Database = (*MemoryStore)(nil)

type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now for created_at stamping.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		bookings:      make(map[string]*models.Booking),
		messages:      make(map[string][]*models.Message),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) PutConversation(conv models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = s.now()
	}
	s.conversations[conv.ID] = &conv
}

func (s *MemoryStore) PutBooking(booking models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[booking.ID] = &booking
}

func (s *MemoryStore) SetBookingStatus(bookingID string, status models.BookingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, ok := s.bookings[bookingID]
	if !ok {
		return fmt.Errorf("booking %s: %w", bookingID, models.ErrNotFound)
	}
	booking.Status = status
	return nil
}

func (s *MemoryStore) GetConversationParticipants(ctx context.Context, conversationID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
	}
	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) GetBookingParticipants(ctx context.Context, bookingID string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	booking, ok := s.bookings[bookingID]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", bookingID, models.ErrNotFound)
	}
	copied := *booking
	return &copied, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID, senderID, content string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      s.now().UTC(),
	}

	list := s.messages[conversationID]
	// Keep newest-first order; a skewed clock may insert behind the head.
	idx := sort.Search(len(list), func(i int) bool {
		return (models.MessageCursor{CreatedAt: msg.CreatedAt, ID: msg.ID}).Admits(list[i])
	})
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = msg
	s.messages[conversationID] = list

	copied := *msg
	return &copied, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string, cursor *models.MessageCursor, limit int) ([]*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[conversationID]

	start := 0
	if cursor != nil {
		start = sort.Search(len(list), func(i int) bool {
			return cursor.Admits(list[i])
		})
	}

	var out []*models.Message
	for i := start; i < len(list) && len(out) < limit; i++ {
		copied := *list[i]
		out = append(out, &copied)
	}
	return out, nil
}

// Seed is the document LoadSeed reads.
type Seed struct {
	Conversations []models.Conversation `json:"conversations"`
	Bookings      []models.Booking      `json:"bookings"`
}

// LoadSeed reads a JSON Seed and stores every conversation and booking in it.
func (s *MemoryStore) LoadSeed(r io.Reader) error {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("failed to decode seed: %w", err)
	}
	for _, conv := range seed.Conversations {
		s.PutConversation(conv)
	}
	for _, booking := range seed.Bookings {
		s.PutBooking(booking)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
