package services

import (
	"context"
	"errors"
	"sync"

	"dancehost/internal/models"
	ws "dancehost/internal/websocket"
	"dancehost/pkg/logger"
)

func init() {
	logger.SetLevel(logger.LevelError)
}

type recordingConn struct {
	id      string
	userID  string
	peerID  string
	channel models.Channel

	mu        sync.Mutex
	sent      []models.Envelope
	closed    bool
	closeCode int
}

var _ ws.Conn = (*recordingConn)(nil)

func newRecordingConn(userID, peerID string, channel models.Channel) *recordingConn {
	return &recordingConn{id: userID + "@" + channel.Key(), userID: userID, peerID: peerID, channel: channel}
}

func (c *recordingConn) ID() string              { return c.id }
func (c *recordingConn) UserID() string          { return c.userID }
func (c *recordingConn) PeerUserID() string      { return c.peerID }
func (c *recordingConn) Channel() models.Channel { return c.channel }

func (c *recordingConn) Send(env models.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ws.ErrConnectionClosed
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *recordingConn) Close(code int, reason string, final *models.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	if final != nil {
		c.sent = append(c.sent, *final)
	}
}

func (c *recordingConn) envelopes() []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Envelope(nil), c.sent...)
}

// registryCloser ends channels the way the supervisor does, without sockets.
type registryCloser struct {
	registry *ws.Registry
}

func (r registryCloser) CloseChannel(channelKey string, code int, reason string, final models.Envelope) int {
	members := r.registry.Members(channelKey)
	for _, conn := range members {
		env := final
		conn.Close(code, reason, &env)
		r.registry.Remove(conn)
	}
	return len(members)
}

var errStoreDown = errors.New("connection refused")

type failingMessages struct{}

func (failingMessages) AppendMessage(ctx context.Context, conversationID, senderID, content string) (*models.Message, error) {
	return nil, errStoreDown
}

func (failingMessages) ListMessages(ctx context.Context, conversationID string, cursor *models.MessageCursor, limit int) ([]*models.Message, error) {
	return nil, errStoreDown
}
