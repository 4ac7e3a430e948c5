package models

import (
	"fmt"
	"time"
)

// ChatFrame is the closed set of inbound frames accepted on a chat channel.
type ChatFrame interface {
	chatFrame()
}

type ChatMessageFrame struct {
	Content string `json:"content"`
}

type TypingFrame struct {
	IsTyping bool `json:"is_typing"`
}

func (ChatMessageFrame) chatFrame() {}
func (TypingFrame) chatFrame()      {}

func DecodeChatFrame(env Envelope) (ChatFrame, error) {
	switch env.Type {
	case EnvelopeMessage:
		var f ChatMessageFrame
		if err := env.DecodeData(&f); err != nil {
			return nil, err
		}
		return f, nil
	case EnvelopeTyping:
		var f TypingFrame
		if err := env.DecodeData(&f); err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %q on chat channel", ErrUnknownKind, env.Type)
	}
}

// LocationFrame is the closed set of inbound frames accepted on a location channel.
type LocationFrame interface {
	locationFrame()
}

// LocationUpdateFrame accepts lat/lng as short aliases of latitude/longitude.
type LocationUpdateFrame struct {
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	Lat        *float64   `json:"lat,omitempty"`
	Lng        *float64   `json:"lng,omitempty"`
	Accuracy   *float64   `json:"accuracy,omitempty"`
	Altitude   *float64   `json:"altitude,omitempty"`
	Heading    *float64   `json:"heading,omitempty"`
	Speed      *float64   `json:"speed,omitempty"`
	RecordedAt *time.Time `json:"timestamp,omitempty"`
}

func (LocationUpdateFrame) locationFrame() {}

func (f LocationUpdateFrame) Coordinates() (lat, lng *float64) {
	lat, lng = f.Latitude, f.Longitude
	if lat == nil {
		lat = f.Lat
	}
	if lng == nil {
		lng = f.Lng
	}
	return lat, lng
}

func DecodeLocationFrame(env Envelope) (LocationFrame, error) {
	switch env.Type {
	case EnvelopeLocationUpdate:
		var f LocationUpdateFrame
		if err := env.DecodeData(&f); err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %q on location channel", ErrUnknownKind, env.Type)
	}
}

// LocationSample is the last forwarded position of one participant. It is never persisted.
type LocationSample struct {
	Latitude   float64
	Longitude  float64
	Accuracy   *float64
	Altitude   *float64
	Heading    *float64
	Speed      *float64
	RecordedAt *time.Time
	ReceivedAt time.Time
}
