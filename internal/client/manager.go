// Package client keeps a connection to the sync relay open on behalf of a
// CLI or daemon. A Manager owns the connection state machine: it checks
// credentials, dials the relay, replays queued subscriptions once the socket
// opens and reconnects with backoff after an unexpected closure. After a
// reconnect it asks the relay for every update above the last sequence it
// delivered on each stream.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/constants"
	"github.com/enflame-media/syncrelay/internal/normalize"
)

// ErrNotConnected is returned by Send when no socket is open.
var ErrNotConnected = errors.New("not connected to the relay")

const (
	stateBufferSize   = 16
	messageBufferSize = 256
)

// Config describes how a Manager reaches the relay.
type Config struct {
	URL         string
	Token       string
	KeyMaterial string
	Scope       api.Scope
	SessionID   string
	MachineID   string
	Strategy    api.ReconnectionStrategy
}

// DefaultReconnectionStrategy returns 1s doubling up to 30s, ten attempts.
func DefaultReconnectionStrategy() api.ReconnectionStrategy {
	return api.ReconnectionStrategy{
		BaseDelayMs:       constants.DefaultReconnectBaseDelayMs,
		MaxDelayMs:        constants.DefaultReconnectMaxDelayMs,
		BackoffMultiplier: constants.DefaultReconnectBackoffMultiplier,
		MaxAttempts:       constants.DefaultReconnectMaxAttempts,
	}
}

// Manager is the client side of one relay connection. It is safe for
// concurrent use.
type Manager struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger
	after  func(time.Duration) <-chan time.Time

	mu            sync.Mutex
	state         State
	generation    uint64
	conn          Conn
	cancel        context.CancelFunc
	done          chan struct{}
	key           []byte
	strategy      api.ReconnectionStrategy
	subscriptions map[string]struct{}
	// lastSeq is the highest delivered sequence per stream, keyed by session
	// id with "" for the user stream.
	lastSeq map[string]int64

	states   chan State
	messages chan *api.NormalizedMessage
}

// NewManager creates a disconnected Manager.
func NewManager(cfg Config, dialer Dialer, log *slog.Logger) *Manager {
	strategy := cfg.Strategy
	if strategy == (api.ReconnectionStrategy{}) {
		strategy = DefaultReconnectionStrategy()
	}

	return &Manager{
		cfg:           cfg,
		dialer:        dialer,
		logger:        log,
		after:         time.After,
		state:         StateDisconnected,
		strategy:      strategy,
		subscriptions: make(map[string]struct{}),
		lastSeq:       make(map[string]int64),
		states:        make(chan State, stateBufferSize),
		messages:      make(chan *api.NormalizedMessage, messageBufferSize),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StateChanges delivers every state transition. Transitions are dropped when
// the receiver falls behind; State is always authoritative.
func (m *Manager) StateChanges() <-chan State {
	return m.states
}

// Messages delivers normalized messages received from the relay.
func (m *Manager) Messages() <-chan *api.NormalizedMessage {
	return m.messages
}

// Key returns the shared encryption key derived on the last Connect.
func (m *Manager) Key() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.key)
}

// LastSeq returns the highest update sequence delivered for the session
// stream, or for the user stream when sessionID is empty.
func (m *Manager) LastSeq(sessionID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeq[sessionID]
}

// SetReconnectionStrategy replaces the strategy used for the next reconnect.
func (m *Manager) SetReconnectionStrategy(strategy api.ReconnectionStrategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategy = strategy
}

// Connect starts connecting to the relay and returns without waiting for the
// socket to open. It does nothing unless the Manager is disconnected, and
// returns ErrMissingCredentials without leaving DISCONNECTED when the token
// or key material is missing.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateDisconnected {
		return nil
	}
	if m.cfg.Token == "" {
		return ErrMissingCredentials
	}
	key, err := DeriveKey(m.cfg.KeyMaterial)
	if err != nil {
		return err
	}
	target, err := m.endpoint()
	if err != nil {
		return fmt.Errorf("invalid relay url: %w", err)
	}

	m.key = key
	m.generation++
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.setStateLocked(StateConnecting)

	go m.run(runCtx, m.generation, target, m.done)
	return nil
}

// Disconnect closes any live socket and leaves the Manager DISCONNECTED. It
// is safe to call in any state and blocks until the connection goroutine has
// exited.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	conn, cancel, done := m.conn, m.cancel, m.done
	m.conn, m.cancel, m.done = nil, nil, nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}

// Subscribe binds the connection to sessionID. Outside CONNECTED the
// subscription is queued and sent once a socket opens.
func (m *Manager) Subscribe(sessionID string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}

	m.mu.Lock()
	m.subscriptions[sessionID] = struct{}{}
	conn := m.connectedLocked()
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	return m.write(conn, api.MessageTypeSubscribe, api.SubscriptionRequest{SID: sessionID})
}

// Unsubscribe removes sessionID from the subscriptions.
func (m *Manager) Unsubscribe(sessionID string) error {
	m.mu.Lock()
	_, known := m.subscriptions[sessionID]
	delete(m.subscriptions, sessionID)
	conn := m.connectedLocked()
	m.mu.Unlock()

	if conn == nil || !known {
		return nil
	}
	return m.write(conn, api.MessageTypeUnsubscribe, api.SubscriptionRequest{SID: sessionID})
}

// Send writes a client message on the open socket.
func (m *Manager) Send(msgType api.MessageType, payload any) error {
	m.mu.Lock()
	conn := m.connectedLocked()
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return m.write(conn, msgType, payload)
}

func (m *Manager) connectedLocked() Conn {
	if m.state != StateConnected {
		return nil
	}
	return m.conn
}

func (m *Manager) write(conn Conn, msgType api.MessageType, payload any) error {
	msg := api.ClientMessage{Event: string(msgType)}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		msg.Data = data
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msgType, err)
	}
	return conn.WriteMessage(data)
}

func (m *Manager) setStateLocked(state State) {
	if m.state == state {
		return
	}
	m.logger.Debug("relay connection state changed", "context", map[string]any{
		"from": m.state.String(),
		"to":   state.String(),
	})
	m.state = state

	select {
	case m.states <- state:
	default:
	}
}

func (m *Manager) endpoint() (string, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	query := u.Query()
	if m.cfg.Scope != "" {
		query.Set(constants.QueryParamClientType, string(m.cfg.Scope))
	}
	if m.cfg.SessionID != "" {
		query.Set(constants.QueryParamSessionID, m.cfg.SessionID)
	}
	if m.cfg.MachineID != "" {
		query.Set(constants.QueryParamMachineID, m.cfg.MachineID)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (m *Manager) header() http.Header {
	return http.Header{constants.AuthorizationHeader: []string{constants.BearerPrefix + m.cfg.Token}}
}

// run owns the socket of one Connect call until the generation changes.
func (m *Manager) run(ctx context.Context, gen uint64, target string, done chan struct{}) {
	defer close(done)

	failures := 0
	for {
		conn, err := m.dialer.Dial(ctx, target, m.header())
		if err != nil {
			if ctx.Err() != nil {
				m.finish(gen)
				return
			}
			failures++
			m.logger.Warn("relay connection failed", "context", map[string]any{
				"attempt": failures,
				"error":   err.Error(),
			})
			if !m.backoff(ctx, gen, failures) {
				return
			}
			continue
		}

		subs, replays, ok := m.opened(gen, conn)
		if !ok {
			_ = conn.Close()
			return
		}
		failures = 0
		for _, sid := range subs {
			if err := m.write(conn, api.MessageTypeSubscribe, api.SubscriptionRequest{SID: sid}); err != nil {
				m.logger.Warn("failed to send queued subscription", "context", map[string]any{
					"session_id": sid,
					"error":      err.Error(),
				})
			}
		}
		for _, req := range replays {
			if err := m.write(conn, api.MessageTypeReplay, req); err != nil {
				m.logger.Warn("failed to request missed updates", "context", map[string]any{
					"session_id": req.SID,
					"after":      *req.After,
					"error":      err.Error(),
				})
			}
		}

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		err = m.readLoop(ctx, conn)
		stop()

		if !m.closed(ctx, gen, err) {
			return
		}
		if !m.backoff(ctx, gen, 0) {
			return
		}
	}
}

// opened records conn as the live socket and returns the queued
// subscriptions and a replay request for every stream seen so far.
func (m *Manager) opened(gen uint64, conn Conn) ([]string, []api.ReplayRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen {
		return nil, nil, false
	}
	m.conn = conn
	m.setStateLocked(StateConnected)

	subs := make([]string, 0, len(m.subscriptions))
	for sid := range m.subscriptions {
		subs = append(subs, sid)
	}
	slices.Sort(subs)

	streams := make([]string, 0, len(m.lastSeq))
	for sid := range m.lastSeq {
		streams = append(streams, sid)
	}
	slices.Sort(streams)
	replays := make([]api.ReplayRequest, 0, len(streams))
	for _, sid := range streams {
		after := m.lastSeq[sid]
		replays = append(replays, api.ReplayRequest{SID: sid, After: &after})
	}
	return subs, replays, true
}

// track records the sequence of a delivered update on its stream.
func (m *Manager) track(msg *api.NormalizedMessage) {
	if msg.Type != string(api.MessageTypeUpdate) {
		return
	}
	var update api.Update
	if err := json.Unmarshal(msg.Payload, &update); err != nil || update.Seq <= 0 {
		return
	}

	incoming, err := api.DecodeUpdateBody(update.Body)
	if err != nil {
		return
	}
	sid := ""
	if address := incoming.Body.Address(); address.Category == api.AddressSession {
		sid = address.ID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if update.Seq > m.lastSeq[sid] {
		m.lastSeq[sid] = update.Seq
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		msg := normalize.Decode(data)
		if msg == nil {
			m.logger.Debug("dropping malformed relay message")
			continue
		}
		m.track(msg)

		select {
		case m.messages <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// closed handles the end of a socket and reports whether to reconnect.
func (m *Manager) closed(ctx context.Context, gen uint64, err error) bool {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return false
	}
	m.conn = nil
	m.mu.Unlock()

	if ctx.Err() != nil {
		m.finish(gen)
		return false
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && isTerminalClose(constants.CloseCode(closeErr.Code)) {
		m.logger.Error("relay rejected the connection", "context", map[string]any{
			"close_code": closeErr.Code,
			"reason":     closeErr.Text,
		})
		m.finish(gen)
		return false
	}

	m.logger.Warn("relay connection lost", "context", map[string]any{"error": errString(err)})
	return true
}

// backoff waits before the next dial and reports whether to dial again.
func (m *Manager) backoff(ctx context.Context, gen uint64, attempt int) bool {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return false
	}
	strategy := m.strategy
	if strategy.MaxAttempts > 0 && attempt >= strategy.MaxAttempts {
		m.mu.Unlock()
		m.logger.Error("giving up reconnecting to the relay", "context", map[string]any{
			"attempts": attempt,
		})
		m.finish(gen)
		return false
	}
	m.setStateLocked(StateReconnecting)
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		m.finish(gen)
		return false
	case <-m.after(reconnectDelay(strategy, attempt)):
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return false
	}
	m.setStateLocked(StateConnecting)
	return true
}

// finish ends the generation from inside the connection goroutine.
func (m *Manager) finish(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen {
		return
	}
	m.generation++
	if m.cancel != nil {
		m.cancel()
	}
	m.conn, m.cancel, m.done = nil, nil, nil
	m.setStateLocked(StateDisconnected)
}

// isTerminalClose reports close codes that a reconnect cannot fix.
func isTerminalClose(code constants.CloseCode) bool {
	switch code {
	case constants.CloseAuthFailed, constants.CloseInvalidHandshake,
		constants.CloseMissingSessionID, constants.CloseMissingMachineID:
		return true
	default:
		return false
	}
}

// reconnectDelay returns min(base * multiplier^attempt, max).
func reconnectDelay(strategy api.ReconnectionStrategy, attempt int) time.Duration {
	multiplier := strategy.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	maxDelay := strategy.MaxDelayMs
	if maxDelay <= 0 {
		maxDelay = constants.DefaultReconnectMaxDelayMs
	}

	delay := float64(strategy.BaseDelayMs) * math.Pow(multiplier, float64(max(attempt, 0)))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay) * time.Millisecond
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
