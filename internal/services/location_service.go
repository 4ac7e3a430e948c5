package services

import (
	"context"
	"errors"
	"math"
	"time"

	"dancehost/internal/models"
	ws "dancehost/internal/websocket"
	"dancehost/pkg/logger"
)

// ChannelCloser ends every connection on a channel. *websocket.Supervisor implements it.
type ChannelCloser interface {
	CloseChannel(channelKey string, code int, reason string, final models.Envelope) int
}

// LocationService relays live positions between the client and host of an in-progress
// booking and ends the channel when the booking leaves that state.
type LocationService struct {
	registry *ws.Registry
	closer   ChannelCloser
	samples  *LocationCache
	now      func() time.Time
}

var _ ws.ProtocolHandler = (*LocationService)(nil)

func NewLocationService(registry *ws.Registry, closer ChannelCloser, samples *LocationCache) *LocationService {
	return &LocationService{
		registry: registry,
		closer:   closer,
		samples:  samples,
		now:      time.Now,
	}
}

func (s *LocationService) HandleEnvelope(ctx context.Context, conn ws.Conn, env models.Envelope) error {
	frame, err := models.DecodeLocationFrame(env)
	if err != nil {
		return err
	}

	switch f := frame.(type) {
	case models.LocationUpdateFrame:
		return s.handleUpdate(conn, env, f)
	default:
		return errors.New("unhandled location frame")
	}
}

func (s *LocationService) handleUpdate(conn ws.Conn, env models.Envelope, f models.LocationUpdateFrame) error {
	sample, err := sampleFromFrame(f, s.now())
	if err != nil {
		return err
	}

	key := conn.Channel().Key()
	peer := s.samples.Record(key, conn.UserID(), sample)

	data := models.LocationReceivedData{
		UserID:     conn.UserID(),
		Latitude:   sample.Latitude,
		Longitude:  sample.Longitude,
		Accuracy:   sample.Accuracy,
		Altitude:   sample.Altitude,
		Heading:    sample.Heading,
		Speed:      sample.Speed,
		RecordedAt: sample.RecordedAt,
	}
	if peer != nil {
		d := HaversineMeters(sample.Latitude, sample.Longitude, peer.Latitude, peer.Longitude)
		data.DistanceMeters = &d
	}

	out := models.NewEnvelope(models.EnvelopeLocationReceived, env.ChannelID, conn.UserID(), data, s.now())
	for _, p := range s.registry.Peers(key, conn.UserID()) {
		if err := p.Send(out); err != nil {
			logger.Debug("Dropped location for user %s on %s: %v", p.UserID(), key, err)
		}
	}
	return nil
}

func (s *LocationService) ConnectionClosed(conn ws.Conn) {
	s.samples.Forget(conn.Channel().Key(), conn.UserID())
}

// BookingStatusChanged is the hook the booking lifecycle invokes. Any status other than
// in_progress ends the booking's location channel for both participants.
func (s *LocationService) BookingStatusChanged(ctx context.Context, bookingID string, status models.BookingStatus) error {
	if bookingID == "" {
		return &models.ValidationError{Code: models.CodeMalformedFrame, Field: "booking_id", Message: "booking_id is required"}
	}
	if status == models.BookingStatusInProgress {
		return nil
	}

	channel := models.LocationChannel(bookingID)
	final := models.NewEnvelope(models.EnvelopeSessionEnded, bookingID, ws.SystemSenderID, models.SessionEndedData{
		BookingID: bookingID,
		Status:    status,
	}, s.now())
	closed := s.closer.CloseChannel(channel.Key(), ws.CloseSessionEnded, ws.ReasonSessionEnded, final)
	s.samples.Purge(channel.Key())

	logger.Info("Booking %s is %s, ended location channel (%d connection(s))", bookingID, status, closed)
	return nil
}

func sampleFromFrame(f models.LocationUpdateFrame, receivedAt time.Time) (models.LocationSample, error) {
	lat, lng := f.Coordinates()
	if lat == nil || lng == nil {
		return models.LocationSample{}, invalidLocation("latitude", "latitude and longitude are required")
	}
	if !finite(*lat) || *lat < -90 || *lat > 90 {
		return models.LocationSample{}, invalidLocation("latitude", "latitude must be between -90 and 90")
	}
	if !finite(*lng) || *lng < -180 || *lng > 180 {
		return models.LocationSample{}, invalidLocation("longitude", "longitude must be between -180 and 180")
	}
	if f.Accuracy != nil && (!finite(*f.Accuracy) || *f.Accuracy < 0) {
		return models.LocationSample{}, invalidLocation("accuracy", "accuracy must be a non-negative number")
	}
	if f.Altitude != nil && !finite(*f.Altitude) {
		return models.LocationSample{}, invalidLocation("altitude", "altitude must be a number")
	}
	if f.Heading != nil && (!finite(*f.Heading) || *f.Heading < 0 || *f.Heading >= 360) {
		return models.LocationSample{}, invalidLocation("heading", "heading must be in [0, 360)")
	}
	if f.Speed != nil && (!finite(*f.Speed) || *f.Speed < 0) {
		return models.LocationSample{}, invalidLocation("speed", "speed must be a non-negative number")
	}

	return models.LocationSample{
		Latitude:   *lat,
		Longitude:  *lng,
		Accuracy:   f.Accuracy,
		Altitude:   f.Altitude,
		Heading:    f.Heading,
		Speed:      f.Speed,
		RecordedAt: f.RecordedAt,
		ReceivedAt: receivedAt,
	}, nil
}

func invalidLocation(field, message string) error {
	return &models.ValidationError{Code: models.CodeInvalidLocation, Field: field, Message: message}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
