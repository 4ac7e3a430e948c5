package database

import (
	"context"
	"strings"
	"testing"
	"time"

	"dancehost/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Lookups(t *testing.T) {
	store := NewMemoryStore()
	store.PutConversation(models.Conversation{ID: "c1", Participant1: "a", Participant2: "b"})
	store.PutBooking(models.Booking{ID: "b1", ClientID: "a", HostID: "b", Status: models.BookingStatusConfirmed})
	ctx := context.Background()

	conv, err := store.GetConversationParticipants(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "b", conv.Participant2)
	assert.False(t, conv.CreatedAt.IsZero())

	_, err = store.GetConversationParticipants(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, store.SetBookingStatus("b1", models.BookingStatusInProgress))
	booking, err := store.GetBookingParticipants(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, booking.InProgress())

	// Returned values are copies.
	booking.Status = models.BookingStatusCancelled
	again, err := store.GetBookingParticipants(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusInProgress, again.Status)

	assert.ErrorIs(t, store.SetBookingStatus("nope", models.BookingStatusCompleted), models.ErrNotFound)
}

func TestMemoryStore_AppendOrdersNewestFirst(t *testing.T) {
	times := []time.Time{
		time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC), // skewed clock
		time.Date(2026, 1, 1, 0, 0, 3, 0, time.UTC),
	}
	i := 0
	store := NewMemoryStore(WithClock(func() time.Time {
		at := times[i%len(times)]
		i++
		return at
	}))
	store.PutConversation(models.Conversation{ID: "c1", Participant1: "a", Participant2: "b", CreatedAt: times[0]})
	ctx := context.Background()

	for _, content := range []string{"second", "first", "third"} {
		_, err := store.AppendMessage(ctx, "c1", "a", content)
		require.NoError(t, err)
	}

	list, err := store.ListMessages(ctx, "c1", nil, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "third", list[0].Content)
	assert.Equal(t, "second", list[1].Content)
	assert.Equal(t, "first", list[2].Content)

	older, err := store.ListMessages(ctx, "c1", &models.MessageCursor{CreatedAt: list[1].CreatedAt, ID: list[1].ID}, 10)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, "first", older[0].Content)
}

func TestMemoryStore_AppendUnknownConversation(t *testing.T) {
	_, err := NewMemoryStore().AppendMessage(context.Background(), "nope", "a", "hi")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore()
	store.PutConversation(models.Conversation{ID: "c1", Participant1: "a", Participant2: "b"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.AppendMessage(ctx, "c1", "a", "hi")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_LoadSeed(t *testing.T) {
	store := NewMemoryStore()
	err := store.LoadSeed(strings.NewReader(`{
		"conversations": [{"id": "c1", "participant_1": "a", "participant_2": "b"}],
		"bookings": [{"id": "b1", "client_id": "a", "host_id": "b", "status": "in_progress"}]
	}`))
	require.NoError(t, err)

	_, err = store.GetConversationParticipants(context.Background(), "c1")
	require.NoError(t, err)
	booking, err := store.GetBookingParticipants(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "b", booking.HostID)

	assert.Error(t, store.LoadSeed(strings.NewReader("{")))
}
