package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dancehost/internal/auth"
	"dancehost/internal/config"
	"dancehost/internal/models"
	"dancehost/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetLevel(logger.LevelError)
}

// relayHandler forwards "relay" envelopes to peers, rejects "fail" and ignores anything else.
type relayHandler struct {
	registry *Registry

	mu     sync.Mutex
	closed []string
}

func (h *relayHandler) HandleEnvelope(ctx context.Context, conn Conn, env models.Envelope) error {
	switch env.Type {
	case "relay":
		for _, p := range h.registry.Peers(conn.Channel().Key(), conn.UserID()) {
			_ = p.Send(env)
		}
		return nil
	case "fail":
		return &models.ValidationError{Code: models.CodeInvalidMessage, Field: "content", Message: "rejected"}
	default:
		return fmt.Errorf("%w: %s", models.ErrUnknownKind, env.Type)
	}
}

func (h *relayHandler) ConnectionClosed(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, conn.ID())
}

func (h *relayHandler) closedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.closed...)
}

type testServer struct {
	sup     *Supervisor
	handler *relayHandler
	srv     *httptest.Server
}

func newTestServer(t *testing.T, mutate func(*config.RealtimeConfig)) *testServer {
	t.Helper()
	cfg := config.Default().Realtime
	cfg.PingPeriod = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}

	registry := NewRegistry()
	sup := NewSupervisor(registry, cfg, nil)
	handler := &relayHandler{registry: registry}
	sup.Handle(models.ChannelKindChat, handler)
	sup.Handle(models.ChannelKindLocation, handler)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		grant := &auth.Grant{
			Channel:    models.Channel{Kind: models.ChannelKind(q.Get("kind")), ID: q.Get("id")},
			UserID:     q.Get("user"),
			PeerUserID: q.Get("peer"),
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sup.Serve(ws, grant)
	}))
	t.Cleanup(srv.Close)

	return &testServer{sup: sup, handler: handler, srv: srv}
}

func (ts *testServer) dial(t *testing.T, kind models.ChannelKind, channelID, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + fmt.Sprintf("/?kind=%s&id=%s&user=%s", kind, channelID, userID)
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func readEnvelope(t *testing.T, c *websocket.Conn) models.Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var env models.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// readUntilClose collects envelopes until the server closes the socket and returns them with
// the close code.
func readUntilClose(t *testing.T, c *websocket.Conn) ([]models.Envelope, int) {
	t.Helper()
	var envs []models.Envelope
	for {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, data, err := c.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
			return envs, closeErr.Code
		}
		var env models.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		envs = append(envs, env)
	}
}

func sendJSON(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(v))
}

func TestSupervisor_ConnectedIsFirstEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.dial(t, models.ChannelKindChat, "c1", "u1")

	env := readEnvelope(t, c)
	assert.Equal(t, models.EnvelopeConnected, env.Type)
	assert.Equal(t, "c1", env.ChannelID)
	assert.Equal(t, SystemSenderID, env.SenderID)

	var data models.ConnectedData
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, "u1", data.UserID)
	assert.Equal(t, models.ChannelKindChat, data.ChannelKind)
	assert.NotEmpty(t, data.ConnectionID)
}

func TestSupervisor_RelayStampsAndPreservesOrder(t *testing.T) {
	ts := newTestServer(t, nil)
	a := ts.dial(t, models.ChannelKindChat, "c1", "u1")
	readEnvelope(t, a)
	b := ts.dial(t, models.ChannelKindChat, "c1", "u2")
	readEnvelope(t, b)
	require.Eventually(t, func() bool { return ts.sup.Registry().ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)

	const n = 25
	for i := 0; i < n; i++ {
		// Clients cannot forge the sender or channel.
		sendJSON(t, a, map[string]any{"type": "relay", "channel_id": "other", "sender_id": "u9", "data": map[string]int{"seq": i}})
	}

	for i := 0; i < n; i++ {
		env := readEnvelope(t, b)
		assert.Equal(t, "u1", env.SenderID)
		assert.Equal(t, "c1", env.ChannelID)
		assert.NotEmpty(t, env.Timestamp)
		var data struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, env.DecodeData(&data))
		assert.Equal(t, i, data.Seq)
	}
}

func TestSupervisor_MalformedAndUnknownFrames(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.dial(t, models.ChannelKindChat, "c1", "u1")
	readEnvelope(t, c)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("not json")))
	env := readEnvelope(t, c)
	require.Equal(t, models.EnvelopeError, env.Type)
	var data models.ErrorData
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, models.CodeMalformedFrame, data.Code)
	assert.False(t, data.Retryable)

	// An unknown kind gets no reply, so the next envelope read answers the "fail" frame.
	sendJSON(t, c, map[string]any{"type": "mystery"})
	sendJSON(t, c, map[string]any{"type": "fail"})
	env = readEnvelope(t, c)
	require.Equal(t, models.EnvelopeError, env.Type)
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, models.CodeInvalidMessage, data.Code)
	assert.Equal(t, "content", data.Field)
}

func TestSupervisor_ReconnectSupersedes(t *testing.T) {
	ts := newTestServer(t, nil)
	first := ts.dial(t, models.ChannelKindLocation, "b1", "u1")
	connected := readEnvelope(t, first)
	var firstData models.ConnectedData
	require.NoError(t, connected.DecodeData(&firstData))

	second := ts.dial(t, models.ChannelKindLocation, "b1", "u1")
	readEnvelope(t, second)

	envs, code := readUntilClose(t, first)
	assert.Equal(t, CloseSuperseded, code)
	require.NotEmpty(t, envs)
	last := envs[len(envs)-1]
	assert.Equal(t, models.EnvelopeDisconnected, last.Type)
	var data models.DisconnectedData
	require.NoError(t, last.DecodeData(&data))
	assert.Equal(t, ReasonSuperseded, data.Reason)
	assert.Equal(t, CloseSuperseded, data.Code)

	// The superseded connection runs no channel cleanup and leaves the replacement registered.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, ts.sup.Registry().ConnectionCount())
	assert.NotContains(t, ts.handler.closedIDs(), firstData.ConnectionID)
	current, ok := ts.sup.Registry().Lookup(models.LocationChannel("b1").Key(), "u1")
	require.True(t, ok)
	assert.NotEqual(t, firstData.ConnectionID, current.ID())
}

func TestSupervisor_IdleTimeout(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.RealtimeConfig) {
		cfg.IdleTimeout = 200 * time.Millisecond
	})
	c := ts.dial(t, models.ChannelKindChat, "c1", "u1")
	readEnvelope(t, c)

	envs, code := readUntilClose(t, c)
	assert.Equal(t, CloseIdleTimeout, code)
	require.NotEmpty(t, envs)
	var data models.DisconnectedData
	require.NoError(t, envs[len(envs)-1].DecodeData(&data))
	assert.Equal(t, ReasonIdleTimeout, data.Reason)

	require.Eventually(t, func() bool { return ts.sup.Registry().ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Len(t, ts.handler.closedIDs(), 1)
}

func TestSupervisor_FrameTooLarge(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.RealtimeConfig) {
		cfg.MaxFrameBytes = 128
	})
	c := ts.dial(t, models.ChannelKindChat, "c1", "u1")
	readEnvelope(t, c)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"type":"relay","data":"`+strings.Repeat("x", 1024)+`"}`)))
	_, code := readUntilClose(t, c)
	assert.Equal(t, CloseFrameTooLarge, code)
}

func TestSupervisor_CloseChannelEndsEveryMember(t *testing.T) {
	ts := newTestServer(t, nil)
	a := ts.dial(t, models.ChannelKindLocation, "b1", "client")
	readEnvelope(t, a)
	b := ts.dial(t, models.ChannelKindLocation, "b1", "host")
	readEnvelope(t, b)
	other := ts.dial(t, models.ChannelKindLocation, "b2", "client")
	readEnvelope(t, other)
	require.Eventually(t, func() bool { return ts.sup.Registry().ConnectionCount() == 3 }, time.Second, 10*time.Millisecond)

	final := models.NewEnvelope(models.EnvelopeSessionEnded, "b1", SystemSenderID, models.SessionEndedData{
		BookingID: "b1",
		Status:    models.BookingStatusCompleted,
	}, time.Now())
	closed := ts.sup.CloseChannel(models.LocationChannel("b1").Key(), CloseSessionEnded, ReasonSessionEnded, final)
	assert.Equal(t, 2, closed)

	for _, c := range []*websocket.Conn{a, b} {
		envs, code := readUntilClose(t, c)
		assert.Equal(t, CloseSessionEnded, code)
		require.NotEmpty(t, envs)
		assert.Equal(t, models.EnvelopeSessionEnded, envs[len(envs)-1].Type)
	}

	require.Eventually(t, func() bool { return ts.sup.Registry().ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
	_, ok := ts.sup.Registry().Lookup(models.LocationChannel("b2").Key(), "client")
	assert.True(t, ok, "other bookings stay open")
}

func TestSupervisor_ShutdownDrainsWithGoingAway(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.dial(t, models.ChannelKindChat, "c1", "u1")
	readEnvelope(t, c)
	require.Eventually(t, func() bool { return ts.sup.Registry().ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		done <- ts.sup.Shutdown(ctx)
	}()

	envs, code := readUntilClose(t, c)
	assert.Equal(t, CloseServerShutdown, code)
	require.NotEmpty(t, envs)
	assert.Equal(t, models.EnvelopeDisconnected, envs[len(envs)-1].Type)
	require.NoError(t, <-done)
	assert.True(t, ts.sup.ShuttingDown())
}

func TestSupervisor_ShutdownDuringAdmissionStillDrains(t *testing.T) {
	ts := newTestServer(t, nil)
	shutdown := make(chan error, 1)
	ts.sup.afterAdmit = func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			shutdown <- ts.sup.Shutdown(ctx)
		}()
		// Register only once Shutdown has taken its snapshot of the registry.
		for !ts.sup.ShuttingDown() {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
	}

	c := ts.dial(t, models.ChannelKindChat, "c1", "u1")
	envs, code := readUntilClose(t, c)
	assert.Equal(t, CloseServerShutdown, code)
	require.NotEmpty(t, envs)
	assert.Equal(t, models.EnvelopeConnected, envs[0].Type)

	select {
	case err := <-shutdown:
		assert.NoError(t, err, "shutdown waits for the late connection instead of its deadline")
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not finish")
	}

	// Once closing, new connections are refused outright.
	late := ts.dial(t, models.ChannelKindChat, "c1", "u2")
	_, code = readUntilClose(t, late)
	assert.Equal(t, CloseServerShutdown, code)
}

func TestConnection_FullBufferClosesSlowConsumer(t *testing.T) {
	cfg := config.Default().Realtime
	cfg.SendBuffer = 1
	conn := newConnection(nil, auth.Grant{Channel: models.ConversationChannel("c1"), UserID: "u1"}, cfg, nil)
	require.True(t, conn.open())

	env := models.NewEnvelope(models.EnvelopeTyping, "c1", "u2", models.TypingData{IsTyping: true}, time.Now())
	require.NoError(t, conn.Send(env))
	assert.ErrorIs(t, conn.Send(env), ErrSendBufferFull)

	assert.Equal(t, StateDraining, conn.State())
	assert.Equal(t, ReasonSlowConsumer, conn.CloseReason())
	assert.ErrorIs(t, conn.Send(env), ErrConnectionClosed)
}
