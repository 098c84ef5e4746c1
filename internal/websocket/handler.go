// Package websocket serves the sync socket: it upgrades the handshake,
// authenticates the connection, registers it and pumps frames between the
// socket and the router.
package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/enflame-media/syncrelay/internal/alarm"
	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/auth"
	"github.com/enflame-media/syncrelay/internal/constants"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
	"github.com/enflame-media/syncrelay/internal/metrics"
	"github.com/enflame-media/syncrelay/internal/registry"
)

// MessageRouter handles normalized messages of authenticated connections.
type MessageRouter interface {
	Route(ctx context.Context, userID string, msg *api.NormalizedMessage, sender *registry.Connection)
}

// ConnectionRegistry tracks live connections.
type ConnectionRegistry interface {
	Register(conn *registry.Connection) error
	Unregister(connectionID string) bool
}

// TokenVerifier resolves bearer tokens to user IDs.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// AlarmScheduler arms one-shot alarm tasks.
type AlarmScheduler interface {
	Schedule(task alarm.Task, delay time.Duration) (string, error)
	Cancel(id string) bool
}

// Config controls socket limits.
type Config struct {
	MaxMessageSize int64
	AuthTimeout    time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	SendBufferSize int
}

// Dependencies are the collaborators of a Handler.
type Dependencies struct {
	Verifier  TokenVerifier
	Registry  ConnectionRegistry
	Router    MessageRouter
	Scheduler AlarmScheduler
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Handler upgrades requests on the updates path to sync sockets.
type Handler struct {
	cfg       Config
	verifier  TokenVerifier
	registry  ConnectionRegistry
	router    MessageRouter
	scheduler AlarmScheduler
	metrics   *metrics.Metrics
	logger    *slog.Logger

	upgrader websocket.Upgrader
	now      func() time.Time
	newID    func() string
	active   sync.WaitGroup
}

// NewHandler creates a socket handler.
func NewHandler(cfg Config, deps Dependencies) *Handler {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = constants.DefaultMaxMessageSize
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = constants.DefaultAuthTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = constants.DefaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = constants.DefaultWriteTimeout
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = constants.DefaultSendBufferSize
	}

	return &Handler{
		cfg:       cfg,
		verifier:  deps.Verifier,
		registry:  deps.Registry,
		router:    deps.Router,
		scheduler: deps.Scheduler,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		upgrader: websocket.Upgrader{
			// Clients are CLIs, daemons and apps; the bearer token is the only gate.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// handshake holds the connection parameters of an upgrade request.
type handshake struct {
	token     string
	scope     api.Scope
	sessionID string
	machineID string
}

func parseHandshake(r *http.Request) (handshake, error) {
	query := r.URL.Query()
	hs := handshake{
		token:     auth.TokenFromRequest(r),
		sessionID: query.Get(constants.QueryParamSessionID),
		machineID: query.Get(constants.QueryParamMachineID),
	}

	scope, ok := api.ParseScope(query.Get(constants.QueryParamClientType))
	if !ok {
		return hs, apperrors.ErrInvalidHandshake("unknown clientType "+strconv.Quote(query.Get(constants.QueryParamClientType)), nil)
	}
	hs.scope = scope

	return hs, validateConnectionParams(hs)
}

func validateConnectionParams(hs handshake) error {
	switch hs.scope {
	case api.ScopeSession:
		if hs.sessionID == "" {
			return apperrors.ErrMissingSessionID()
		}
	case api.ScopeMachine:
		if hs.machineID == "" {
			return apperrors.ErrMissingMachineID()
		}
	}
	return nil
}

// ServeHTTP upgrades the request and serves the socket until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", "context", map[string]any{
			"remote_addr": r.RemoteAddr,
			"error":       err.Error(),
		})
		return
	}
	ws.SetReadLimit(h.cfg.MaxMessageSize)

	h.active.Add(1)
	defer h.active.Done()

	hs, err := parseHandshake(r)
	if err != nil {
		h.reject(ws, err)
		return
	}

	h.serve(r.Context(), ws, hs)
}

// Wait blocks until every served socket has finished or ctx expires.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reject closes a socket that never became a registered connection.
func (h *Handler) reject(ws *websocket.Conn, err error) {
	code := apperrors.GetCloseCode(err)
	h.metrics.ConnectionRejected(apperrors.GetErrorCode(err))
	h.logger.Debug("websocket handshake rejected", "context", map[string]any{
		"close_code": int(code),
		"error":      err.Error(),
	})

	deadline := h.now().Add(h.cfg.WriteTimeout)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(int(code), truncateReason(apperrors.GetErrorMessage(err))), deadline)
	_ = ws.Close()
}

// closeConnection closes conn with code and records relay-initiated closes.
func (h *Handler) closeConnection(conn *registry.Connection, code constants.CloseCode, reason string) {
	if conn.Close(code, reason) && code != constants.CloseNormal {
		h.metrics.ConnectionClosed(strconv.Itoa(int(code)))
	}
}
