package websocket

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dancehost/internal/auth"
	"dancehost/internal/config"
	"dancehost/internal/models"
	"dancehost/internal/observability"
	"dancehost/pkg/logger"

	"github.com/gorilla/websocket"
)

// SystemSenderID stamps envelopes the server originates itself.
const SystemSenderID = "system"

// ProtocolHandler interprets inbound envelopes for one channel kind. HandleEnvelope runs on
// the connection's read goroutine; a returned error is reported to the sender and never
// closes the connection.
type ProtocolHandler interface {
	HandleEnvelope(ctx context.Context, conn Conn, env models.Envelope) error
	ConnectionClosed(conn Conn)
}

// Supervisor owns every connection from accept to close.
type Supervisor struct {
	registry *Registry
	cfg      config.RealtimeConfig
	metrics  *observability.Metrics
	handlers map[models.ChannelKind]ProtocolHandler
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// admitMu orders inflight.Add against the closing flag so Shutdown never waits on a
	// connection it did not see.
	admitMu  sync.Mutex
	closing  atomic.Bool
	inflight sync.WaitGroup

	// afterAdmit runs between admission and registration. Tests only.
	afterAdmit func()
}

func NewSupervisor(registry *Registry, cfg config.RealtimeConfig, metrics *observability.Metrics) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		registry: registry,
		cfg:      cfg,
		metrics:  metrics,
		handlers: make(map[models.ChannelKind]ProtocolHandler),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle registers the handler for a channel kind. Call it before serving connections.
func (s *Supervisor) Handle(kind models.ChannelKind, handler ProtocolHandler) {
	s.handlers[kind] = handler
}

func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// Serve runs an admitted connection until it closes. The grant comes from the authorizer;
// nothing here re-checks participation.
func (s *Supervisor) Serve(ws *websocket.Conn, grant *auth.Grant) {
	conn := newConnection(ws, *grant, s.cfg, s.metrics)
	kind := string(grant.Channel.Kind)

	if !s.admit() {
		go conn.writePump()
		conn.Close(CloseServerShutdown, ReasonServerShutdown, nil)
		<-conn.Done()
		return
	}
	defer s.inflight.Done()
	go conn.writePump()

	handler, ok := s.handlers[grant.Channel.Kind]
	if !ok {
		conn.Close(closeInternalServerFail, reasonNoHandler, nil)
		<-conn.Done()
		return
	}
	if s.afterAdmit != nil {
		s.afterAdmit()
	}

	conn.enqueue(models.NewEnvelope(models.EnvelopeConnected, grant.Channel.ID, SystemSenderID, models.ConnectedData{
		ConnectionID: conn.ID(),
		ChannelKind:  grant.Channel.Kind,
		UserID:       grant.UserID,
		PeerUserID:   grant.PeerUserID,
	}, s.now()))

	if evicted := s.registry.Register(conn); evicted != nil {
		logger.Info("User %s reconnected to %s, superseding connection %s", grant.UserID, grant.Channel, evicted.ID())
		s.closeWith(evicted, CloseSuperseded, ReasonSuperseded)
	}
	conn.open()
	// Shutdown may have snapshotted the registry before this connection joined it.
	if s.closing.Load() {
		s.closeWith(conn, CloseServerShutdown, ReasonServerShutdown)
	}
	s.metrics.ConnectionOpened(kind)
	logger.Info("User %s connected to %s (connection %s)", grant.UserID, grant.Channel, conn.ID())

	code, reason := s.readLoop(conn, handler)
	s.closeWith(conn, code, reason)
	<-conn.Done()

	// A superseded connection no longer owns the registry slot or the user's channel state.
	if s.registry.Remove(conn) {
		handler.ConnectionClosed(conn)
	}

	s.metrics.ConnectionClosed(kind, conn.CloseReason())
	logger.Info("User %s disconnected from %s (connection %s): %s", grant.UserID, grant.Channel, conn.ID(), conn.CloseReason())
}

// admit counts a new connection unless Shutdown has started.
func (s *Supervisor) admit() bool {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Supervisor) readLoop(conn *Connection, handler ProtocolHandler) (int, string) {
	ws := conn.ws
	ws.SetReadLimit(s.cfg.MaxFrameBytes)
	_ = conn.extendReadDeadline()
	ws.SetPongHandler(func(string) error {
		conn.touch()
		return conn.extendReadDeadline()
	})
	ws.SetPingHandler(func(data string) error {
		conn.touch()
		_ = conn.extendReadDeadline()
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.cfg.WriteWait))
		if err == nil || errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			return s.classifyReadError(conn, err)
		}
		if code, reason, closing := conn.closeInfo(); closing {
			// Draining already (superseded, session ended, shutdown); the close is in flight.
			return code, reason
		}
		conn.touch()
		_ = conn.extendReadDeadline()

		if messageType != websocket.TextMessage {
			s.reportError(conn, &models.ValidationError{Code: models.CodeMalformedFrame, Message: "only text frames are accepted"})
			continue
		}

		env, err := models.DecodeEnvelope(data)
		if err != nil {
			s.reportError(conn, err)
			continue
		}
		ch := conn.Channel()
		env.ChannelID = ch.ID
		env.SenderID = conn.UserID()
		env.Timestamp = models.FormatTimestamp(s.now())

		err = handler.HandleEnvelope(s.ctx, conn, env)
		s.metrics.Inbound(string(ch.Kind), inboundLabel(env.Type, err))
		if err != nil {
			s.reportError(conn, err)
		}
	}
}

// inboundLabel keeps client-chosen type strings out of metric labels.
func inboundLabel(t models.EnvelopeType, err error) string {
	if errors.Is(err, models.ErrUnknownKind) {
		return "unknown"
	}
	return string(t)
}

func (s *Supervisor) classifyReadError(conn *Connection, err error) (int, string) {
	if code, reason, closing := conn.closeInfo(); closing {
		return code, reason
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return CloseNormal, ReasonClientClosed
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return CloseFrameTooLarge, ReasonFrameTooLarge
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CloseIdleTimeout, ReasonIdleTimeout
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		logger.Error("WebSocket error on connection %s: %v", conn.ID(), err)
	}
	return closeConnectionLost, ReasonConnectionLost
}

// reportError answers validation and store failures with an error envelope. Unknown kinds
// are only logged, so newer clients keep working against older servers.
func (s *Supervisor) reportError(conn *Connection, err error) {
	data, ok := models.ErrorDataFor(err)
	if !ok {
		logger.Debug("Ignoring frame from user %s on %s: %v", conn.UserID(), conn.Channel(), err)
		return
	}
	if data.Code == models.CodeInternal || data.Code == models.CodeStoreUnavailable {
		logger.Error("Handler error for user %s on %s: %v", conn.UserID(), conn.Channel(), err)
	} else {
		logger.Debug("Rejected frame from user %s on %s: %v", conn.UserID(), conn.Channel(), err)
	}
	env := models.NewEnvelope(models.EnvelopeError, conn.Channel().ID, SystemSenderID, data, s.now())
	_ = conn.Send(env)
}

// closeWith drains conn with a disconnected envelope carrying the reason.
func (s *Supervisor) closeWith(conn Conn, code int, reason string) {
	env := models.NewEnvelope(models.EnvelopeDisconnected, conn.Channel().ID, SystemSenderID, models.DisconnectedData{
		Reason: reason,
		Code:   code,
	}, s.now())
	conn.Close(code, reason, &env)
}

// CloseChannel drains every live connection on the channel with final as the last envelope
// and returns how many were closed. The channel's connections clean themselves up.
func (s *Supervisor) CloseChannel(channelKey string, code int, reason string, final models.Envelope) int {
	members := s.registry.Members(channelKey)
	for _, conn := range members {
		env := final
		conn.Close(code, reason, &env)
	}
	return len(members)
}

// Shutdown drains every connection with 1001 and waits for them to finish or ctx to expire.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.admitMu.Lock()
	s.closing.Store(true)
	s.admitMu.Unlock()
	s.cancel()
	for _, conn := range s.registry.All() {
		s.closeWith(conn, CloseServerShutdown, ReasonServerShutdown)
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reject finishes a refused handshake: the socket was upgraded only to carry the close code,
// so nothing is registered and no pumps are started.
func (s *Supervisor) Reject(ws *websocket.Conn, code int, reason string) {
	defer ws.Close()
	msg := websocket.FormatCloseMessage(code, reason)
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteWait)); err != nil {
		logger.Debug("Writing rejection close (%d) failed: %v", code, err)
	}
}

// ShuttingDown reports whether Shutdown has started.
func (s *Supervisor) ShuttingDown() bool {
	return s.closing.Load()
}
