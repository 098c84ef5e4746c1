// Package registry tracks live sync connections per user.
//
// Each user has its own bucket guarded by its own mutex, so registrations of
// different users never contend. Locks are held only for bookkeeping; nothing
// in this package performs I/O.
package registry

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/constants"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
	"github.com/enflame-media/syncrelay/internal/metrics"
)

// Config holds the registry limits.
type Config struct {
	MaxConnectionsPerUser int
	ConnectionTimeout     time.Duration
	// AllowDuplicates says, per scope, whether two live connections may share
	// an identity tuple. Scopes missing from the map allow duplicates.
	AllowDuplicates map[api.Scope]bool
}

// DefaultConfig returns the default limits: 100 connections per user, a five
// minute idle timeout and duplicate machine connections rejected.
func DefaultConfig() Config {
	return Config{
		MaxConnectionsPerUser: constants.DefaultMaxConnectionsPerUser,
		ConnectionTimeout:     constants.DefaultConnectionTimeout,
		AllowDuplicates: map[api.Scope]bool{
			api.ScopeUser:    true,
			api.ScopeSession: true,
			api.ScopeMachine: false,
		},
	}
}

type userBucket struct {
	mu    sync.Mutex
	conns map[string]*Connection
	// dead is set when the bucket was emptied and removed from the users map;
	// a registration that loaded it must retry with a fresh bucket.
	dead bool
}

// Registry tracks live connections. It is safe for concurrent use.
type Registry struct {
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	users sync.Map // user ID -> *userBucket
	byID  sync.Map // connection ID -> *Connection

	connections atomic.Int64
	userCount   atomic.Int64
}

// New creates an empty registry. m may be nil.
func New(cfg Config, m *metrics.Metrics, log *slog.Logger) *Registry {
	if cfg.MaxConnectionsPerUser <= 0 {
		cfg.MaxConnectionsPerUser = constants.DefaultMaxConnectionsPerUser
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = constants.DefaultConnectionTimeout
	}
	return &Registry{cfg: cfg, metrics: m, logger: log}
}

// Register adds an authenticated connection. It fails with a
// connection-limit error when the user already holds the maximum number of
// connections, and with a duplicate-connection error when the scope forbids
// duplicates and a connection with the same identity is live.
func (r *Registry) Register(conn *Connection) error {
	if !conn.Authenticated() || conn.UserID == "" {
		return apperrors.ErrAuthFailed("connection is not authenticated", nil)
	}

	for {
		value, _ := r.users.LoadOrStore(conn.UserID, &userBucket{conns: make(map[string]*Connection)})
		bucket, _ := value.(*userBucket)

		bucket.mu.Lock()
		if bucket.dead {
			bucket.mu.Unlock()
			continue
		}

		if err := r.admit(bucket, conn); err != nil {
			bucket.mu.Unlock()
			r.metrics.ConnectionRejected(apperrors.GetErrorCode(err))
			return err
		}

		bucket.conns[conn.ID] = conn
		newUser := len(bucket.conns) == 1
		bucket.mu.Unlock()

		r.byID.Store(conn.ID, conn)
		r.connections.Add(1)
		if newUser {
			r.userCount.Add(1)
		}
		r.metrics.ConnectionOpened(string(conn.Scope), newUser)
		return nil
	}
}

func (r *Registry) admit(bucket *userBucket, conn *Connection) error {
	if _, exists := bucket.conns[conn.ID]; exists {
		return apperrors.ErrDuplicateConnection(conn.ID)
	}
	if len(bucket.conns) >= r.cfg.MaxConnectionsPerUser {
		return apperrors.ErrConnectionLimitExceeded(conn.UserID, r.cfg.MaxConnectionsPerUser)
	}

	if allowed, ok := r.cfg.AllowDuplicates[conn.Scope]; ok && !allowed {
		identity := conn.Identity()
		for _, existing := range bucket.conns {
			if existing.Identity() == identity {
				return apperrors.ErrDuplicateConnection(identity)
			}
		}
	}

	return nil
}

// Unregister removes the connection. It returns false when the connection
// was not registered, which makes it safe to call more than once.
func (r *Registry) Unregister(connectionID string) bool {
	value, ok := r.byID.LoadAndDelete(connectionID)
	if !ok {
		return false
	}
	conn, _ := value.(*Connection)

	lastForUser := false
	if value, ok := r.users.Load(conn.UserID); ok {
		bucket, _ := value.(*userBucket)
		bucket.mu.Lock()
		delete(bucket.conns, connectionID)
		if len(bucket.conns) == 0 {
			bucket.dead = true
			r.users.CompareAndDelete(conn.UserID, bucket)
			lastForUser = true
		}
		bucket.mu.Unlock()
	}

	r.connections.Add(-1)
	if lastForUser {
		r.userCount.Add(-1)
	}
	r.metrics.ConnectionRemoved(string(conn.Scope), lastForUser)
	return true
}

// Get returns a registered connection by ID.
func (r *Registry) Get(connectionID string) (*Connection, bool) {
	value, ok := r.byID.Load(connectionID)
	if !ok {
		return nil, false
	}
	conn, _ := value.(*Connection)
	return conn, true
}

// Find returns a snapshot of the user's connections matching the filter.
func (r *Registry) Find(filter Filter) []*Connection {
	value, ok := r.users.Load(filter.UserID)
	if !ok {
		return nil
	}
	bucket, _ := value.(*userBucket)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	matches := make([]*Connection, 0, len(bucket.conns))
	for _, conn := range bucket.conns {
		if filter.Matches(conn) {
			matches = append(matches, conn)
		}
	}
	return matches
}

// ReapIdle closes and unregisters every connection with no inbound traffic
// within the connection timeout. It returns the number of connections reaped.
func (r *Registry) ReapIdle(now time.Time) int {
	cutoff := now.Add(-r.cfg.ConnectionTimeout)

	var idle []*Connection
	r.byID.Range(func(_, value any) bool {
		conn, _ := value.(*Connection)
		if conn.LastActivity().Before(cutoff) {
			idle = append(idle, conn)
		}
		return true
	})

	for _, conn := range idle {
		conn.Close(constants.CloseGoingAway, constants.CloseReasonIdleTimeout)
		if r.Unregister(conn.ID) {
			r.metrics.ConnectionClosed(strconv.Itoa(int(constants.CloseGoingAway)))
			r.logger.Info("closed idle connection", "context", map[string]any{
				"connection_id": conn.ID,
				"user_id":       conn.UserID,
				"scope":         conn.Scope,
				"idle_for":      now.Sub(conn.LastActivity()).String(),
			})
		}
	}

	return len(idle)
}

// CloseAll closes and unregisters every connection, e.g. on shutdown.
func (r *Registry) CloseAll(code constants.CloseCode, reason string) int {
	closed := 0
	r.byID.Range(func(key, value any) bool {
		conn, _ := value.(*Connection)
		conn.Close(code, reason)
		if id, ok := key.(string); ok && r.Unregister(id) {
			closed++
		}
		return true
	})
	return closed
}

// Stats returns the number of live connections and users.
func (r *Registry) Stats() (connections, users int) {
	return int(r.connections.Load()), int(r.userCount.Load())
}
