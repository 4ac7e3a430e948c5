package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"dancehost/internal/auth"
	"dancehost/internal/config"
	"dancehost/internal/models"
	"dancehost/internal/observability"
	"dancehost/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Conn is the view of a live connection shared with the registry and protocol handlers.
type Conn interface {
	ID() string
	UserID() string
	PeerUserID() string
	Channel() models.Channel
	// Send queues env without blocking. A full buffer closes the connection.
	Send(env models.Envelope) error
	// Close starts draining: queued envelopes and final are flushed, then the socket is
	// closed with code. Only the supervisor and protocol handlers acting through it call Close.
	Close(code int, reason string, final *models.Envelope)
}

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one authenticated socket for one channel. Exactly one goroutine reads it
// (Supervisor.Serve) and exactly one writes it (writePump).
type Connection struct {
	id      string
	grant   auth.Grant
	ws      *websocket.Conn
	send    chan []byte
	cfg     config.RealtimeConfig
	metrics *observability.Metrics

	state        atomic.Int32
	lastActivity atomic.Int64

	closeOnce   sync.Once
	closeCode   int
	closeReason string
	drain       chan struct{}

	doneOnce sync.Once
	done     chan struct{}
}

var _ Conn = (*Connection)(nil)

func newConnection(ws *websocket.Conn, grant auth.Grant, cfg config.RealtimeConfig, metrics *observability.Metrics) *Connection {
	c := &Connection{
		id:      uuid.NewString(),
		grant:   grant,
		ws:      ws,
		send:    make(chan []byte, cfg.SendBuffer),
		cfg:     cfg,
		metrics: metrics,
		drain:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.touch()
	return c
}

func (c *Connection) ID() string              { return c.id }
func (c *Connection) UserID() string          { return c.grant.UserID }
func (c *Connection) PeerUserID() string      { return c.grant.PeerUserID }
func (c *Connection) Channel() models.Channel { return c.grant.Channel }

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Done is closed once the socket is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// CloseReason is meaningful once Close has been called.
func (c *Connection) CloseReason() string {
	_, reason, _ := c.closeInfo()
	return reason
}

func (c *Connection) closeInfo() (code int, reason string, closing bool) {
	select {
	case <-c.drain:
		return c.closeCode, c.closeReason, true
	default:
		return 0, "", false
	}
}

func (c *Connection) Send(env models.Envelope) error {
	if s := c.State(); s == StateDraining || s == StateClosed {
		return ErrConnectionClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		c.metrics.Outbound(string(c.grant.Channel.Kind), string(env.Type))
		return nil
	default:
		logger.Warn("Send buffer full for user %s on %s, closing connection %s", c.UserID(), c.grant.Channel, c.id)
		c.metrics.SlowConsumer(string(c.grant.Channel.Kind))
		c.Close(CloseSlowConsumer, ReasonSlowConsumer, nil)
		return ErrSendBufferFull
	}
}

func (c *Connection) Close(code int, reason string, final *models.Envelope) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		for {
			s := c.state.Load()
			if s >= int32(StateDraining) || c.state.CompareAndSwap(s, int32(StateDraining)) {
				break
			}
		}

		if final != nil {
			if data, err := json.Marshal(final); err == nil {
				select {
				case c.send <- data:
					c.metrics.Outbound(string(c.grant.Channel.Kind), string(final.Type))
				default:
				}
			}
		}
		close(c.drain)
	})
}

// enqueue bypasses the state check; it is used for the connected envelope before the
// connection is open.
func (c *Connection) enqueue(env models.Envelope) {
	if data, err := json.Marshal(env); err == nil {
		select {
		case c.send <- data:
			c.metrics.Outbound(string(c.grant.Channel.Kind), string(env.Type))
		default:
		}
	}
}

func (c *Connection) open() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) extendReadDeadline() error {
	return c.ws.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.terminate()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				logger.Debug("Write error on connection %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				logger.Debug("Ping error on connection %s: %v", c.id, err)
				return
			}

		case <-c.drain:
			c.flush()
			c.writeClose()
			return
		}
	}
}

// flush writes whatever was queued before draining began.
func (c *Connection) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) writeClose() {
	if c.closeCode == closeConnectionLost {
		return
	}
	payload := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	if err := c.ws.WriteControl(websocket.CloseMessage, payload, time.Now().Add(c.cfg.WriteWait)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		logger.Debug("Close frame error on connection %s: %v", c.id, err)
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

func (c *Connection) terminate() {
	c.doneOnce.Do(func() {
		_ = c.ws.Close()
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}
