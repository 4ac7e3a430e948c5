package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"dancehost/internal/database"
	"dancehost/internal/models"
	"dancehost/internal/observability"
	ws "dancehost/internal/websocket"
	"dancehost/pkg/logger"
)

// ChatService handles conversation channels: persisted messages and ephemeral typing
// indicators, fanned out to the other participant.
type ChatService struct {
	registry     *ws.Registry
	messages     database.MessageRepository
	metrics      *observability.Metrics
	maxLength    int
	storeTimeout time.Duration
	now          func() time.Time
}

var _ ws.ProtocolHandler = (*ChatService)(nil)

func NewChatService(registry *ws.Registry, messages database.MessageRepository, metrics *observability.Metrics, maxLength int, storeTimeout time.Duration) *ChatService {
	return &ChatService{
		registry:     registry,
		messages:     messages,
		metrics:      metrics,
		maxLength:    maxLength,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// HandleEnvelope serves the chat channel. A message sent on the socket is stored and fanned
// out, but its durable id never comes back on the sender's connection. Clients that need the
// id for de-duplication send through POST /conversations/{id}/messages instead.
func (s *ChatService) HandleEnvelope(ctx context.Context, conn ws.Conn, env models.Envelope) error {
	frame, err := models.DecodeChatFrame(env)
	if err != nil {
		return err
	}

	switch f := frame.(type) {
	case models.ChatMessageFrame:
		_, err := s.Send(ctx, conn.UserID(), conn.Channel().ID, f.Content)
		return err
	case models.TypingFrame:
		s.fanOut(conn.Channel().ID, conn.UserID(), models.NewEnvelope(models.EnvelopeTyping, env.ChannelID, conn.UserID(), models.TypingData{IsTyping: f.IsTyping}, s.now()))
		return nil
	default:
		return errors.New("unhandled chat frame")
	}
}

func (s *ChatService) ConnectionClosed(ws.Conn) {}

// Send validates and persists content, then delivers it to every other live connection on
// the conversation. The sender is never echoed: the returned message is its copy. Nothing is
// delivered unless the append succeeded.
func (s *ChatService) Send(ctx context.Context, senderID, conversationID, content string) (*models.Message, error) {
	content, err := s.validateContent(content)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	start := time.Now()
	msg, err := s.messages.AppendMessage(ctx, conversationID, senderID, content)
	s.metrics.StoreAppend(start, err)
	if err != nil {
		return nil, &models.StoreError{Op: "append", Err: err}
	}

	env := models.NewEnvelope(models.EnvelopeMessage, conversationID, senderID, models.NewMessageData(msg), s.now())
	delivered := s.fanOut(conversationID, senderID, env)
	logger.Debug("Message %s on conversation %s delivered to %d peer(s)", msg.ID, conversationID, delivered)
	return msg, nil
}

func (s *ChatService) validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", &models.ValidationError{Code: models.CodeInvalidMessage, Field: "content", Message: "content must not be empty"}
	}
	if !utf8.ValidString(content) {
		return "", &models.ValidationError{Code: models.CodeInvalidMessage, Field: "content", Message: "content must be valid UTF-8"}
	}
	if s.maxLength > 0 && utf8.RuneCountInString(content) > s.maxLength {
		return "", &models.ValidationError{Code: models.CodeInvalidMessage, Field: "content", Message: "content is too long"}
	}
	return content, nil
}

func (s *ChatService) fanOut(conversationID, senderID string, env models.Envelope) int {
	delivered := 0
	for _, peer := range s.registry.Peers(models.ConversationChannel(conversationID).Key(), senderID) {
		if err := peer.Send(env); err != nil {
			logger.Debug("Dropped %s for user %s on conversation %s: %v", env.Type, peer.UserID(), conversationID, err)
			continue
		}
		delivered++
	}
	return delivered
}
