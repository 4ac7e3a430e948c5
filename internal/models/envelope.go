package models

import (
	"bytes"
	"encoding/json"
	"time"
)

type EnvelopeType string

const (
	EnvelopeConnected        EnvelopeType = "connected"
	EnvelopeDisconnected     EnvelopeType = "disconnected"
	EnvelopeError            EnvelopeType = "error"
	EnvelopeSessionEnded     EnvelopeType = "session_ended"
	EnvelopeMessage          EnvelopeType = "message"
	EnvelopeTyping           EnvelopeType = "typing"
	EnvelopeLocationUpdate   EnvelopeType = "location_update"
	EnvelopeLocationReceived EnvelopeType = "location_received"
)

// TimestampFormat is RFC 3339 in UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// Envelope is the wire unit in both directions. SenderID, ChannelID and Timestamp are
// always stamped by the server; whatever a client puts there is discarded.
type Envelope struct {
	Type      EnvelopeType    `json:"type"`
	ChannelID string          `json:"channel_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
	SenderID  string          `json:"sender_id,omitempty"`
}

// NewEnvelope builds a server-originated envelope. Data payloads are the structs below, all of
// which marshal without error.
func NewEnvelope(t EnvelopeType, channelID, senderID string, data any, at time.Time) Envelope {
	env := Envelope{
		Type:      t,
		ChannelID: channelID,
		SenderID:  senderID,
		Timestamp: FormatTimestamp(at),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			env.Data = raw
		}
	}
	return env
}

type inboundEnvelope struct {
	Type EnvelopeType    `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeEnvelope parses an inbound frame. Only type and data are read from the client.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var in inboundEnvelope
	if err := json.Unmarshal(frame, &in); err != nil {
		return Envelope{}, &ValidationError{Code: CodeMalformedFrame, Message: "frame is not a valid envelope"}
	}
	if in.Type == "" {
		return Envelope{}, &ValidationError{Code: CodeMalformedFrame, Field: "type", Message: "type is required"}
	}
	return Envelope{Type: in.Type, Data: in.Data}, nil
}

// DecodeData unmarshals env.Data into v. Absent or null data leaves v untouched.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 || bytes.Equal(bytes.TrimSpace(e.Data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return &ValidationError{Code: CodeMalformedFrame, Field: "data", Message: "data does not match " + string(e.Type)}
	}
	return nil
}

// Payloads of server-originated envelopes.

type ConnectedData struct {
	ConnectionID string      `json:"connection_id"`
	ChannelKind  ChannelKind `json:"channel_kind"`
	UserID       string      `json:"user_id"`
	PeerUserID   string      `json:"peer_user_id"`
}

type DisconnectedData struct {
	Reason string `json:"reason"`
	Code   int    `json:"code"`
}

type ErrorData struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable"`
}

type SessionEndedData struct {
	BookingID string        `json:"booking_id"`
	Status    BookingStatus `json:"status"`
}

type MessageData struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewMessageData(m *Message) MessageData {
	return MessageData{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

type TypingData struct {
	IsTyping bool `json:"is_typing"`
}

type LocationReceivedData struct {
	UserID         string     `json:"user_id"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	Accuracy       *float64   `json:"accuracy,omitempty"`
	Altitude       *float64   `json:"altitude,omitempty"`
	Heading        *float64   `json:"heading,omitempty"`
	Speed          *float64   `json:"speed,omitempty"`
	RecordedAt     *time.Time `json:"recorded_at,omitempty"`
	DistanceMeters *float64   `json:"distance_meters,omitempty"`
}
