package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/constants"
)

// Connection is one live sync socket. The registry owns it from registration
// until it is unregistered; the transport only drains Send and watches Done.
type Connection struct {
	ID        string
	UserID    string
	Scope     api.Scope
	SessionID string
	MachineID string
	CreatedAt time.Time

	authenticated atomic.Bool
	lastActivity  atomic.Int64

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeCode constants.CloseCode
	reason    string

	mu            sync.Mutex
	subscriptions map[string]struct{}
	acks          map[api.StreamKey]int64
}

// ConnectionOptions describes a connection being created.
type ConnectionOptions struct {
	ID             string
	UserID         string
	Scope          api.Scope
	SessionID      string
	MachineID      string
	SendBufferSize int
	Now            time.Time
}

// NewConnection creates an unauthenticated connection with an empty outbound queue.
func NewConnection(opts ConnectionOptions) *Connection {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = constants.DefaultSendBufferSize
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	c := &Connection{
		ID:            opts.ID,
		UserID:        opts.UserID,
		Scope:         opts.Scope,
		SessionID:     opts.SessionID,
		MachineID:     opts.MachineID,
		CreatedAt:     opts.Now,
		send:          make(chan []byte, opts.SendBufferSize),
		done:          make(chan struct{}),
		subscriptions: make(map[string]struct{}),
		acks:          make(map[api.StreamKey]int64),
	}
	c.lastActivity.Store(opts.Now.UnixNano())
	return c
}

// Identity is the tuple duplicate detection compares: user, scope and the
// scope's bound identifier.
func (c *Connection) Identity() string {
	switch c.Scope {
	case api.ScopeSession:
		return c.UserID + "/" + string(c.Scope) + "/" + c.SessionID
	case api.ScopeMachine:
		return c.UserID + "/" + string(c.Scope) + "/" + c.MachineID
	default:
		return c.UserID + "/" + string(c.Scope)
	}
}

// Authenticated reports whether the connection completed authentication.
func (c *Connection) Authenticated() bool {
	return c.authenticated.Load()
}

// SetAuthenticated binds the connection to userID and marks it authenticated.
// It must be called before the connection is registered.
func (c *Connection) SetAuthenticated(userID string) {
	c.UserID = userID
	c.authenticated.Store(true)
}

// Touch records inbound traffic.
func (c *Connection) Touch(now time.Time) {
	c.lastActivity.Store(now.UnixNano())
}

// LastActivity returns the time of the last inbound traffic.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Enqueue queues msg for delivery without blocking. A full queue closes the
// connection with a policy violation; the client recovers persistent updates
// through replay.
func (c *Connection) Enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.Close(constants.ClosePolicyViolation, constants.CloseReasonSlowConsumer)
		return false
	}
}

// Send is the outbound queue drained by the transport's writer.
func (c *Connection) Send() <-chan []byte {
	return c.send
}

// Done is closed once Close has been called.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close asks the transport to close the socket with code and reason.
// Only the first call has an effect; it reports whether it was that call.
func (c *Connection) Close(code constants.CloseCode, reason string) bool {
	closed := false
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
		closed = true
	})
	return closed
}

// CloseStatus returns the code and reason given to Close.
func (c *Connection) CloseStatus() (constants.CloseCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.reason
}

// Subscribe binds the connection to a session.
func (c *Connection) Subscribe(sessionID string) {
	c.mu.Lock()
	c.subscriptions[sessionID] = struct{}{}
	c.mu.Unlock()
}

// Unsubscribe removes a session binding made by Subscribe.
func (c *Connection) Unsubscribe(sessionID string) {
	c.mu.Lock()
	delete(c.subscriptions, sessionID)
	c.mu.Unlock()
}

// InterestedIn reports whether events of the session should reach this
// connection: user-scoped connections see every session of their user,
// session-scoped ones their own session, and any connection the sessions
// it subscribed to.
func (c *Connection) InterestedIn(sessionID string) bool {
	if c.Scope == api.ScopeUser {
		return true
	}
	if c.Scope == api.ScopeSession && c.SessionID == sessionID {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[sessionID]
	return ok
}

// Ack records the last sequence the client applied on a stream.
// Acks never move backwards.
func (c *Connection) Ack(stream api.StreamKey, seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.acks[stream] {
		c.acks[stream] = seq
	}
}

// LastAck returns the last acknowledged sequence on a stream, 0 if none.
func (c *Connection) LastAck(stream api.StreamKey) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acks[stream]
}
