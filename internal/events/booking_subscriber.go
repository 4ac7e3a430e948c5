package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dancehost/internal/models"
	"dancehost/pkg/logger"

	redis "github.com/redis/go-redis/v9"
)

// BookingStatusListener is notified when a booking changes state. The location service
// implements it.
type BookingStatusListener interface {
	BookingStatusChanged(ctx context.Context, bookingID string, status models.BookingStatus) error
}

// BookingStatusFunc adapts a function to BookingStatusListener.
type BookingStatusFunc func(ctx context.Context, bookingID string, status models.BookingStatus) error

func (f BookingStatusFunc) BookingStatusChanged(ctx context.Context, bookingID string, status models.BookingStatus) error {
	return f(ctx, bookingID, status)
}

// Fanout notifies each listener in order and stops at the first error.
func Fanout(listeners ...BookingStatusListener) BookingStatusListener {
	return BookingStatusFunc(func(ctx context.Context, bookingID string, status models.BookingStatus) error {
		for _, l := range listeners {
			if err := l.BookingStatusChanged(ctx, bookingID, status); err != nil {
				return err
			}
		}
		return nil
	})
}

// BookingSubscriber consumes booking status events published on a redis channel.
type BookingSubscriber struct {
	client   *redis.Client
	channel  string
	listener BookingStatusListener
}

// NewBookingSubscriber connects to redisURL and verifies the server is reachable.
func NewBookingSubscriber(ctx context.Context, redisURL, channel string, listener BookingStatusListener) (*BookingSubscriber, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewBookingSubscriberWithClient(client, channel, listener), nil
}

func NewBookingSubscriberWithClient(client *redis.Client, channel string, listener BookingStatusListener) *BookingSubscriber {
	return &BookingSubscriber{client: client, channel: channel, listener: listener}
}

// Run delivers events until ctx is cancelled. A bad payload is logged and skipped.
func (s *BookingSubscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis: subscribe %s: %w", s.channel, err)
	}
	logger.Info("Listening for booking status events on redis channel %s", s.channel)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errors.New("redis: subscription closed")
			}
			if err := s.handle(ctx, msg.Payload); err != nil {
				logger.Warn("Booking status event dropped: %v", err)
			}
		}
	}
}

func (s *BookingSubscriber) handle(ctx context.Context, payload string) error {
	update, err := DecodeBookingStatus([]byte(payload))
	if err != nil {
		return err
	}
	return s.listener.BookingStatusChanged(ctx, update.BookingID, update.Status)
}

func (s *BookingSubscriber) Close() error {
	return s.client.Close()
}

// DecodeBookingStatus parses a {booking_id, status} event.
func DecodeBookingStatus(payload []byte) (models.BookingStatusUpdate, error) {
	var update models.BookingStatusUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return update, fmt.Errorf("decode booking status: %w", err)
	}
	if err := ValidateBookingStatus(&update); err != nil {
		return update, fmt.Errorf("decode booking status: %w", err)
	}
	return update, nil
}

// ValidateBookingStatus trims the booking id and checks both fields.
func ValidateBookingStatus(update *models.BookingStatusUpdate) error {
	update.BookingID = strings.TrimSpace(update.BookingID)
	if update.BookingID == "" {
		return errors.New("missing booking_id")
	}
	if !update.Status.Valid() {
		return fmt.Errorf("unknown status %q", update.Status)
	}
	return nil
}
