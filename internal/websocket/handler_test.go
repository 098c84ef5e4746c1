package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enflame-media/syncrelay/internal/alarm"
	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/constants"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
	"github.com/enflame-media/syncrelay/internal/registry"
	"github.com/enflame-media/syncrelay/internal/testutil"
)

const goodToken = "good-token"

type mockVerifier struct {
	verifyFunc func(ctx context.Context, token string) (string, error)
}

func (m *mockVerifier) Verify(ctx context.Context, token string) (string, error) {
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, token)
	}
	if token == goodToken {
		return "u1", nil
	}
	return "", apperrors.ErrAuthFailed("invalid token", nil)
}

type mockRouter struct {
	mu        sync.Mutex
	routed    []*api.NormalizedMessage
	routeFunc func(ctx context.Context, userID string, msg *api.NormalizedMessage, sender *registry.Connection)
}

func (m *mockRouter) Route(ctx context.Context, userID string, msg *api.NormalizedMessage, sender *registry.Connection) {
	m.mu.Lock()
	m.routed = append(m.routed, msg)
	m.mu.Unlock()
	if m.routeFunc != nil {
		m.routeFunc(ctx, userID, msg, sender)
	}
}

func (m *mockRouter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.routed)
}

type testServer struct {
	server   *httptest.Server
	handler  *Handler
	registry *registry.Registry
	router   *mockRouter
}

func newTestServer(t *testing.T, cfg Config, regCfg registry.Config) *testServer {
	t.Helper()
	log := testutil.SilentLogger()
	reg := registry.New(regCfg, nil, log)
	router := &mockRouter{}
	scheduler := alarm.New(alarm.DefaultConfig(), nil, nil, log)
	t.Cleanup(func() { _ = scheduler.Shutdown(context.Background()) })

	handler := NewHandler(cfg, Dependencies{
		Verifier:  &mockVerifier{},
		Registry:  reg,
		Router:    router,
		Scheduler: scheduler,
		Logger:    log,
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testServer{server: server, handler: handler, registry: reg, router: router}
}

func (ts *testServer) dial(t *testing.T, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + constants.UpdatesPath
	if query != "" {
		url += "?" + query
	}

	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

type serverMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	MessageID string          `json:"messageId"`
}

func readMessage(t *testing.T, ws *websocket.Conn) serverMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var msg serverMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func expectClose(t *testing.T, ws *websocket.Conn, code constants.CloseCode) *websocket.CloseError {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, int(code), closeErr.Code)
		return closeErr
	}
}

func bearer(token string) http.Header {
	return http.Header{constants.AuthorizationHeader: []string{constants.BearerPrefix + token}}
}

func TestHandshakeRejections(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		header http.Header
		want   constants.CloseCode
	}{
		{"unknown client type", "clientType=admin-scoped&token=" + goodToken, nil, constants.CloseInvalidHandshake},
		{"session scope without session id", "clientType=session-scoped", bearer(goodToken), constants.CloseMissingSessionID},
		{"machine scope without machine id", "clientType=machine-scoped", bearer(goodToken), constants.CloseMissingMachineID},
		{"invalid token", "", bearer("nope"), constants.CloseAuthFailed},
		{"invalid query token", "token=nope", nil, constants.CloseAuthFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, Config{}, registry.DefaultConfig())
			ws := ts.dial(t, tt.query, tt.header)
			expectClose(t, ws, tt.want)

			connections, _ := ts.registry.Stats()
			assert.Equal(t, 0, connections)
		})
	}
}

func TestHandshakeRegistersConnection(t *testing.T) {
	ts := newTestServer(t, Config{}, registry.DefaultConfig())
	ws := ts.dial(t, "clientType=session-scoped&sessionId=s1", bearer(goodToken))

	msg := readMessage(t, ws)
	assert.Equal(t, string(api.MessageTypeAuthenticated), msg.Type)
	var payload api.AuthenticatedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "u1", payload.UserID)
	assert.Equal(t, api.ScopeSession, payload.Scope)

	conn, ok := ts.registry.Get(payload.ConnectionID)
	require.True(t, ok)
	assert.Equal(t, "s1", conn.SessionID)
}

func TestRegistryRejections(t *testing.T) {
	t.Run("connection limit", func(t *testing.T) {
		regCfg := registry.DefaultConfig()
		regCfg.MaxConnectionsPerUser = 1
		ts := newTestServer(t, Config{}, regCfg)

		first := ts.dial(t, "token="+goodToken, nil)
		readMessage(t, first)

		second := ts.dial(t, "token="+goodToken, nil)
		expectClose(t, second, constants.CloseConnectionLimitExceeded)
	})

	t.Run("duplicate machine", func(t *testing.T) {
		ts := newTestServer(t, Config{}, registry.DefaultConfig())

		first := ts.dial(t, "clientType=machine-scoped&machineId=m1&token="+goodToken, nil)
		readMessage(t, first)

		second := ts.dial(t, "clientType=machine-scoped&machineId=m1&token="+goodToken, nil)
		expectClose(t, second, constants.CloseDuplicateConnection)
	})
}

func TestMessagesReachRouter(t *testing.T) {
	ts := newTestServer(t, Config{}, registry.DefaultConfig())
	ts.router.routeFunc = func(_ context.Context, userID string, msg *api.NormalizedMessage, sender *registry.Connection) {
		assert.Equal(t, "u1", userID)
		data, _ := json.Marshal(api.ServerMessage{Type: api.MessageTypePong, MessageID: *msg.MessageID})
		sender.Enqueue(data)
	}

	ws := ts.dial(t, "token="+goodToken, nil)
	readMessage(t, ws)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping","ackId":"p1"}`)))
	msg := readMessage(t, ws)
	assert.Equal(t, "pong", msg.Type)
	assert.Equal(t, "p1", msg.MessageID)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"auth","data":{"token":"again"}}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping","ackId":"p2"}`)))
	msg = readMessage(t, ws)
	assert.Equal(t, "p2", msg.MessageID)
	assert.Equal(t, 2, ts.router.count(), "malformed and repeated auth frames never reach the router")
}

func TestInBandAuthentication(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		ts := newTestServer(t, Config{}, registry.DefaultConfig())
		ws := ts.dial(t, "", nil)

		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"auth","data":{"token":"`+goodToken+`"}}`)))
		msg := readMessage(t, ws)
		assert.Equal(t, string(api.MessageTypeAuthenticated), msg.Type)

		connections, users := ts.registry.Stats()
		assert.Equal(t, 1, connections)
		assert.Equal(t, 1, users)
	})

	t.Run("invalid token", func(t *testing.T) {
		ts := newTestServer(t, Config{}, registry.DefaultConfig())
		ws := ts.dial(t, "", nil)

		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"auth","data":{"token":"bad"}}`)))
		expectClose(t, ws, constants.CloseAuthFailed)
	})

	t.Run("traffic before auth", func(t *testing.T) {
		ts := newTestServer(t, Config{}, registry.DefaultConfig())
		ws := ts.dial(t, "", nil)

		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"update","data":{"t":"update-account"}}`)))
		expectClose(t, ws, constants.CloseAuthFailed)
		assert.Equal(t, 0, ts.router.count())
	})

	t.Run("timeout", func(t *testing.T) {
		ts := newTestServer(t, Config{AuthTimeout: 50 * time.Millisecond}, registry.DefaultConfig())
		ws := ts.dial(t, "", nil)

		closeErr := expectClose(t, ws, constants.CloseAuthFailed)
		assert.Equal(t, constants.CloseReasonAuthTimeout, closeErr.Text)
	})
}

func TestFrameLimits(t *testing.T) {
	t.Run("binary frame", func(t *testing.T) {
		ts := newTestServer(t, Config{}, registry.DefaultConfig())
		ws := ts.dial(t, "token="+goodToken, nil)
		readMessage(t, ws)

		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
		expectClose(t, ws, constants.CloseUnsupportedData)
	})

	t.Run("oversize frame", func(t *testing.T) {
		ts := newTestServer(t, Config{MaxMessageSize: 64}, registry.DefaultConfig())
		ws := ts.dial(t, "token="+goodToken, nil)
		readMessage(t, ws)

		big := `{"event":"ping","data":"` + strings.Repeat("x", 256) + `"}`
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(big)))
		expectClose(t, ws, constants.CloseMessageTooBig)
		assert.Equal(t, 0, ts.router.count())
	})
}

func TestServerInitiatedClose(t *testing.T) {
	ts := newTestServer(t, Config{}, registry.DefaultConfig())
	ws := ts.dial(t, "token="+goodToken, nil)
	readMessage(t, ws)

	assert.Equal(t, 1, ts.registry.CloseAll(constants.CloseGoingAway, constants.CloseReasonShutdown))
	closeErr := expectClose(t, ws, constants.CloseGoingAway)
	assert.Equal(t, constants.CloseReasonShutdown, closeErr.Text)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.handler.Wait(ctx))
	connections, _ := ts.registry.Stats()
	assert.Equal(t, 0, connections)
}

func TestIdleClientsCloseWithIdleReason(t *testing.T) {
	regCfg := registry.DefaultConfig()
	regCfg.ConnectionTimeout = 100 * time.Millisecond
	ts := newTestServer(t, Config{PingInterval: time.Minute}, regCfg)
	ws := ts.dial(t, "token="+goodToken, nil)
	readMessage(t, ws)

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, ts.registry.ReapIdle(time.Now()))

	closeErr := expectClose(t, ws, constants.CloseGoingAway)
	assert.Equal(t, constants.CloseReasonIdleTimeout, closeErr.Text)
	assert.NotEqual(t, constants.CloseReasonShutdown, closeErr.Text, "idle and shutdown closes are told apart by reason")
}

func TestClientCloseUnregisters(t *testing.T) {
	ts := newTestServer(t, Config{}, registry.DefaultConfig())
	ws := ts.dial(t, "token="+goodToken, nil)
	readMessage(t, ws)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, constants.CloseReasonClientShutdown)))

	assert.Eventually(t, func() bool {
		connections, _ := ts.registry.Stats()
		return connections == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTruncateReason(t *testing.T) {
	tests := []struct {
		name    string
		reason  string
		wantLen int
	}{
		{"short", "short", 5},
		{"ascii", strings.Repeat("r", 300), maxCloseReasonBytes},
		{"multi-byte rune on the boundary", strings.Repeat("r", maxCloseReasonBytes-1) + "é tail", maxCloseReasonBytes - 1},
		{"three byte runes", "r" + strings.Repeat("€", 60), 121},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateReason(tt.reason)
			assert.Len(t, got, tt.wantLen)
			assert.True(t, utf8.ValidString(got))
			assert.True(t, strings.HasPrefix(tt.reason, got))
		})
	}
}

func TestPongsKeepListeningClientsAlive(t *testing.T) {
	regCfg := registry.DefaultConfig()
	regCfg.ConnectionTimeout = 300 * time.Millisecond
	ts := newTestServer(t, Config{PingInterval: 50 * time.Millisecond}, regCfg)

	ws := ts.dial(t, "", bearer(goodToken))
	assert.Equal(t, string(api.MessageTypeAuthenticated), readMessage(t, ws).Type)

	// Reading lets gorilla answer the relay's pings; nothing else is sent.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	time.Sleep(600 * time.Millisecond)
	assert.Zero(t, ts.registry.ReapIdle(time.Now()))

	connections, _ := ts.registry.Stats()
	assert.Equal(t, 1, connections)
}
