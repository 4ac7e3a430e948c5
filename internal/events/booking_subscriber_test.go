package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"dancehost/internal/models"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedStatus struct {
	bookingID string
	status    models.BookingStatus
}

func recorder(out chan<- recordedStatus) BookingStatusFunc {
	return func(ctx context.Context, bookingID string, status models.BookingStatus) error {
		out <- recordedStatus{bookingID, status}
		return nil
	}
}

func TestDecodeBookingStatus(t *testing.T) {
	update, err := DecodeBookingStatus([]byte(`{"booking_id":" b1 ","status":"completed"}`))
	require.NoError(t, err)
	assert.Equal(t, "b1", update.BookingID)
	assert.Equal(t, models.BookingStatusCompleted, update.Status)

	for _, payload := range []string{`nope`, `{"status":"completed"}`, `{"booking_id":"b1","status":"paused"}`} {
		_, err := DecodeBookingStatus([]byte(payload))
		assert.Error(t, err, payload)
	}
}

func TestBookingSubscriber_HandleDispatches(t *testing.T) {
	got := make(chan recordedStatus, 1)
	s := &BookingSubscriber{listener: recorder(got)}

	require.NoError(t, s.handle(context.Background(), `{"booking_id":"b1","status":"cancelled"}`))
	assert.Equal(t, recordedStatus{"b1", models.BookingStatusCancelled}, <-got)

	assert.Error(t, s.handle(context.Background(), `{}`))
}

func TestFanout_StopsAtFirstError(t *testing.T) {
	got := make(chan recordedStatus, 2)
	boom := errors.New("boom")
	failing := BookingStatusFunc(func(context.Context, string, models.BookingStatus) error { return boom })

	err := Fanout(recorder(got), failing, recorder(got)).BookingStatusChanged(context.Background(), "b1", models.BookingStatusCompleted)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, got, 1)
}

// Requires Redis on localhost:6379; skipped otherwise.
func TestBookingSubscriber_RunWithRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	got := make(chan recordedStatus, 4)
	s := NewBookingSubscriberWithClient(client, "test.booking.status_changed", recorder(got))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := client.Publish(context.Background(), "test.booking.status_changed", `{"booking_id":"b9","status":"completed"}`).Result()
		return err == nil && n > 0
	}, 2*time.Second, 50*time.Millisecond)

	select {
	case rec := <-got:
		assert.Equal(t, "b9", rec.bookingID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	assert.NoError(t, <-done)
}
