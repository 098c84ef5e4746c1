package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/enflame-media/syncrelay/internal/alarm"
	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/constants"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
	"github.com/enflame-media/syncrelay/internal/logger"
	"github.com/enflame-media/syncrelay/internal/normalize"
	"github.com/enflame-media/syncrelay/internal/registry"
)

// maxCloseReasonBytes is the room left for a reason in a close frame.
const maxCloseReasonBytes = 123

const dropUnauthenticated = "unauthenticated"

func truncateReason(reason string) string {
	if len(reason) <= maxCloseReasonBytes {
		return reason
	}
	cut := maxCloseReasonBytes
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

// session is one served socket.
type session struct {
	h         *Handler
	ws        *websocket.Conn
	conn      *registry.Connection
	logger    *slog.Logger
	authAlarm string
}

func (h *Handler) serve(parent context.Context, ws *websocket.Conn, hs handshake) {
	connID := h.newID()
	ctx, cancel := context.WithCancel(logger.WithConnectionID(parent, connID))
	defer cancel()

	s := &session{
		h:  h,
		ws: ws,
		conn: registry.NewConnection(registry.ConnectionOptions{
			ID:             connID,
			Scope:          hs.scope,
			SessionID:      hs.sessionID,
			MachineID:      hs.machineID,
			SendBufferSize: h.cfg.SendBufferSize,
			Now:            h.now(),
		}),
		logger: logger.DeriveRequestLogger(ctx, h.logger),
	}

	if hs.token != "" {
		if err := s.authenticate(ctx, hs.token); err != nil {
			h.reject(ws, err)
			return
		}
	} else if err := s.armAuthTimeout(); err != nil {
		h.reject(ws, apperrors.ErrInternalError("failed to arm authentication timeout", err))
		return
	}

	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writePump()
	}()

	s.readLoop(ctx)
	s.handleDisconnect()
	<-written
}

// authenticate verifies token, binds the connection to its user and registers it.
func (s *session) authenticate(ctx context.Context, token string) error {
	userID, err := s.h.verifier.Verify(ctx, token)
	if err != nil {
		return err
	}

	s.conn.SetAuthenticated(userID)
	if err := s.h.registry.Register(s.conn); err != nil {
		return err
	}

	if s.authAlarm != "" {
		s.h.scheduler.Cancel(s.authAlarm)
	}

	s.logger.Info("websocket connection established", "context", map[string]any{
		"user_id":    userID,
		"scope":      string(s.conn.Scope),
		"session_id": s.conn.SessionID,
		"machine_id": s.conn.MachineID,
	})

	if err := s.send(api.MessageTypeAuthenticated, api.AuthenticatedPayload{
		ConnectionID: s.conn.ID,
		UserID:       userID,
		Scope:        s.conn.Scope,
	}); err != nil {
		s.logger.Error("failed to encode authenticated message", "error", err)
	}
	return nil
}

// armAuthTimeout closes the socket unless an auth message arrives in time.
func (s *session) armAuthTimeout() error {
	conn := s.conn
	id, err := s.h.scheduler.Schedule(alarm.Task{
		ID:      constants.AlarmContextAuthTimeout + ":" + conn.ID,
		Context: constants.AlarmContextAuthTimeout,
		Run: func(context.Context) error {
			if !conn.Authenticated() {
				s.h.closeConnection(conn, constants.CloseAuthFailed, constants.CloseReasonAuthTimeout)
			}
			return nil
		},
	}, s.h.cfg.AuthTimeout)
	if err != nil {
		return err
	}
	s.authAlarm = id
	return nil
}

func (s *session) send(msgType api.MessageType, payload any) error {
	data, err := json.Marshal(api.ServerMessage{
		Type:      msgType,
		Payload:   payload,
		Timestamp: s.h.now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	s.conn.Enqueue(data)
	return nil
}

func (s *session) readLoop(ctx context.Context) {
	pongWait := s.h.cfg.PingInterval + s.h.cfg.WriteTimeout
	_ = s.ws.SetReadDeadline(s.h.now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		s.conn.Touch(s.h.now())
		return s.ws.SetReadDeadline(s.h.now().Add(pongWait))
	})

	for {
		msgType, data, err := s.ws.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}
		_ = s.ws.SetReadDeadline(s.h.now().Add(pongWait))
		s.conn.Touch(s.h.now())

		if msgType != websocket.TextMessage {
			s.h.closeConnection(s.conn, constants.CloseUnsupportedData, constants.CloseReasonBinaryFrame)
			return
		}

		msg := normalize.Decode(data)
		if msg == nil {
			s.h.metrics.EventDropped("malformed")
			continue
		}

		if !s.handleMessage(ctx, msg) {
			return
		}
	}
}

// handleMessage processes one frame and reports whether to keep reading.
func (s *session) handleMessage(ctx context.Context, msg *api.NormalizedMessage) bool {
	isAuth := api.MessageType(msg.Type) == api.MessageTypeAuth

	if s.conn.Authenticated() {
		if isAuth {
			s.h.metrics.EventDropped("already-authenticated")
			return true
		}
		s.h.router.Route(ctx, s.conn.UserID, msg, s.conn)
		return true
	}

	if !isAuth {
		s.h.metrics.EventDropped(dropUnauthenticated)
		s.h.closeConnection(s.conn, constants.CloseAuthFailed, "authentication required")
		return false
	}

	var req api.AuthRequest
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			s.h.closeConnection(s.conn, constants.CloseAuthFailed, "malformed auth message")
			return false
		}
	}
	if err := s.authenticate(ctx, req.Token); err != nil {
		s.logger.Debug("in-band authentication failed", "context", map[string]any{
			"error": err.Error(),
		})
		s.h.metrics.ConnectionRejected(apperrors.GetErrorCode(err))
		s.h.closeConnection(s.conn, apperrors.GetCloseCode(err), truncateReason(apperrors.GetErrorMessage(err)))
		return false
	}
	return true
}

func (s *session) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.h.closeConnection(s.conn, constants.CloseMessageTooBig, constants.CloseReasonMessageTooBig)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived):
		s.logger.Debug("websocket closed unexpectedly", "context", map[string]any{"error": err.Error()})
		s.conn.Close(constants.CloseNormal, "")
	default:
		s.conn.Close(constants.CloseNormal, "")
	}
}

func (s *session) handleDisconnect() {
	if s.authAlarm != "" {
		s.h.scheduler.Cancel(s.authAlarm)
	}
	if s.h.registry.Unregister(s.conn.ID) {
		code, reason := s.conn.CloseStatus()
		s.logger.Info("websocket connection closed", "context", map[string]any{
			"user_id":    s.conn.UserID,
			"close_code": int(code),
			"reason":     reason,
		})
	}
}

// writePump is the only writer of the socket.
func (s *session) writePump() {
	ticker := time.NewTicker(s.h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.ws.Close()
	}()

	for {
		select {
		case data := <-s.conn.Send():
			_ = s.ws.SetWriteDeadline(s.h.now().Add(s.h.cfg.WriteTimeout))
			if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.conn.Close(constants.CloseGoingAway, constants.CloseReasonWriteFailed)
				return
			}
		case <-ticker.C:
			deadline := s.h.now().Add(s.h.cfg.WriteTimeout)
			if err := s.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.conn.Close(constants.CloseGoingAway, constants.CloseReasonPingFailed)
				return
			}
		case <-s.conn.Done():
			s.flush()
			code, reason := s.conn.CloseStatus()
			deadline := s.h.now().Add(s.h.cfg.WriteTimeout)
			_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(int(code), reason), deadline)
			return
		}
	}
}

// flush writes what is already queued when the close is not caused by the
// queue itself.
func (s *session) flush() {
	if code, _ := s.conn.CloseStatus(); code == constants.ClosePolicyViolation {
		return
	}
	for {
		select {
		case data := <-s.conn.Send():
			_ = s.ws.SetWriteDeadline(s.h.now().Add(s.h.cfg.WriteTimeout))
			if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
