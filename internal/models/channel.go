package models

import "fmt"

type ChannelKind string

const (
	ChannelKindChat     ChannelKind = "chat"
	ChannelKindLocation ChannelKind = "location"
)

func ParseChannelKind(s string) (ChannelKind, error) {
	switch ChannelKind(s) {
	case ChannelKindChat, ChannelKindLocation:
		return ChannelKind(s), nil
	default:
		return "", fmt.Errorf("unknown channel kind %q", s)
	}
}

// Channel is a logical real-time topic. Chat channels are identified by conversation id,
// location channels by booking id.
type Channel struct {
	Kind ChannelKind `json:"kind"`
	ID   string      `json:"id"`
}

func ConversationChannel(conversationID string) Channel {
	return Channel{Kind: ChannelKindChat, ID: conversationID}
}

func LocationChannel(bookingID string) Channel {
	return Channel{Kind: ChannelKindLocation, ID: bookingID}
}

// Key namespaces the id by kind so a conversation and a booking sharing an id never meet.
func (c Channel) Key() string {
	return string(c.Kind) + ":" + c.ID
}

func (c Channel) String() string {
	return c.Key()
}
