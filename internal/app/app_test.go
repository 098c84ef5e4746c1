package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/config"
	"github.com/enflame-media/syncrelay/internal/constants"
	"github.com/enflame-media/syncrelay/internal/testutil"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment:                      constants.Development,
		StorageBackend:                   constants.MemoryBackend,
		SessionBackend:                   constants.MemoryBackend,
		MaxConnectionsPerUser:            constants.DefaultMaxConnectionsPerUser,
		ConnectionTimeout:                constants.DefaultConnectionTimeout,
		ReapInterval:                     constants.DefaultReapInterval,
		AllowDuplicateUserConnections:    true,
		AllowDuplicateSessionConnections: true,
		EnableAutoResponse:               true,
		MaxMessageSize:                   constants.DefaultMaxMessageSize,
		AuthTimeout:                      constants.DefaultAuthTimeout,
		PingInterval:                     constants.DefaultPingInterval,
		WriteTimeout:                     constants.DefaultWriteTimeout,
		SendBufferSize:                   constants.DefaultSendBufferSize,
		ReplayLimit:                      constants.DefaultReplayLimit,
		SessionCacheTTL:                  constants.DefaultSessionCacheTTL,
		SessionCacheNegativeTTL:          constants.DefaultSessionCacheNegativeTTL,
		SessionCacheCleanupInterval:      constants.DefaultSessionCacheCleanupInterval,
		AlarmMaxRetries:                  constants.DefaultAlarmMaxRetries,
		AlarmBaseDelayMs:                 constants.DefaultAlarmBaseDelayMs,
		AlarmMaxDelayMs:                  constants.DefaultAlarmMaxDelayMs,
		AlarmJitterFactor:                constants.DefaultAlarmJitterFactor,
	}
}

type relay struct {
	app  *App
	addr string
	stop context.CancelFunc
	done chan error
}

func startRelay(t *testing.T) *relay {
	t.Helper()
	a, err := New(context.Background(), testConfig(), testutil.SilentLogger())
	require.NoError(t, err)
	require.NoError(t, a.SeedToken(context.Background(), "tok-u1", "u1", ""))
	require.NoError(t, a.SeedToken(context.Background(), "tok-ops", "ops", "operator"))

	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &relay{app: a, addr: ln.Addr().String(), stop: cancel, done: make(chan error, 1)}
	go func() { r.done <- a.Serve(ctx, ln) }()
	t.Cleanup(cancel)
	return r
}

func (r *relay) dial(t *testing.T, token string) *gorilla.Conn {
	t.Helper()
	header := http.Header{constants.AuthorizationHeader: []string{constants.BearerPrefix + token}}
	ws, resp, err := gorilla.DefaultDialer.Dial("ws://"+r.addr+constants.UpdatesPath, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (r *relay) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://"+r.addr+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set(constants.AuthorizationHeader, constants.BearerPrefix+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

type wireMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	MessageID string          `json:"messageId"`
}

func read(t *testing.T, ws *gorilla.Conn) wireMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var msg wireMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestRelayEndToEnd(t *testing.T) {
	r := startRelay(t)

	cli := r.dial(t, "tok-u1")
	mobile := r.dial(t, "tok-u1")
	assert.Equal(t, string(api.MessageTypeAuthenticated), read(t, cli).Type)
	assert.Equal(t, string(api.MessageTypeAuthenticated), read(t, mobile).Type)

	require.NoError(t, cli.WriteMessage(gorilla.TextMessage,
		[]byte(`{"event":"update","data":{"t":"update-account","settings":"opaque"},"ackId":"a1"}`)))

	ack := read(t, cli)
	assert.Equal(t, string(api.MessageTypeAck), ack.Type)
	assert.Equal(t, "a1", ack.MessageID)

	update := read(t, mobile)
	assert.Equal(t, string(api.MessageTypeUpdate), update.Type)
	var payload api.Update
	require.NoError(t, json.Unmarshal(update.Payload, &payload))
	assert.Equal(t, int64(1), payload.Seq)
	assert.JSONEq(t, `{"t":"update-account","settings":"opaque"}`, string(payload.Body))

	require.NoError(t, mobile.WriteMessage(gorilla.TextMessage, []byte(`{"event":"ping","ackId":"p1"}`)))
	pong := read(t, mobile)
	assert.Equal(t, string(api.MessageTypePong), pong.Type)
	assert.Equal(t, "p1", pong.MessageID)

	resp := r.get(t, "/api/v1/health", "tok-u1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health api.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()
	assert.Equal(t, 2, health.Connections)
	assert.Equal(t, 1, health.Users)

	r.stop()
	for _, ws := range []*gorilla.Conn{cli, mobile} {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := ws.ReadMessage()
		var closeErr *gorilla.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, int(constants.CloseGoingAway), closeErr.Code)
		assert.Equal(t, constants.CloseReasonShutdown, closeErr.Text)
	}

	select {
	case err := <-r.done:
		assert.NoError(t, err)
	case <-time.After(2 * constants.ServerShutdownTimeout):
		t.Fatal("relay did not stop")
	}
}

func TestUnknownTokenIsRejected(t *testing.T) {
	r := startRelay(t)
	ws := r.dial(t, "tok-unknown")

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	var closeErr *gorilla.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, int(constants.CloseAuthFailed), closeErr.Code)
}

func TestOperatorAPIRoles(t *testing.T) {
	r := startRelay(t)

	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
	}{
		{"anonymous health", "/api/v1/health", "", http.StatusUnauthorized},
		{"anonymous dead letters", "/api/v1/dead-letters", "", http.StatusUnauthorized},
		{"user dead letters", "/api/v1/dead-letters", "tok-u1", http.StatusForbidden},
		{"operator dead letters", "/api/v1/dead-letters", "tok-ops", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := r.get(t, tt.path, tt.token)
			_ = resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestSeedTokenRejectsUnknownRoles(t *testing.T) {
	a, err := New(context.Background(), testConfig(), testutil.SilentLogger())
	require.NoError(t, err)
	defer func() { _ = a.Shutdown(context.Background()) }()

	assert.ErrorContains(t, a.SeedToken(context.Background(), "tok", "u1", "root"), "invalid role")
}

func TestMaintenanceTasksAreScheduled(t *testing.T) {
	a, err := New(context.Background(), testConfig(), testutil.SilentLogger())
	require.NoError(t, err)
	defer func() { _ = a.Shutdown(context.Background()) }()

	assert.Equal(t, 2, a.scheduler.Pending())
}

func TestInitializeBackendsRejectsUnknownProviders(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"storage", func(c *config.Config) { c.StorageBackend = "postgres" }, "unknown storage backend"},
		{"sessions", func(c *config.Config) { c.SessionBackend = "etcd" }, "unknown session backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)

			_, err := New(context.Background(), cfg, testutil.SilentLogger())
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
		})
	}
}

func TestSeedTokenRequiresMemoryStorage(t *testing.T) {
	a, err := New(context.Background(), testConfig(), testutil.SilentLogger())
	require.NoError(t, err)
	defer func() { _ = a.Shutdown(context.Background()) }()

	a.cfg.StorageBackend = constants.DynamoDBBackend
	assert.ErrorIs(t, a.SeedToken(context.Background(), "tok", "u1", ""), ErrNoLocalTokenStore)
}
