// Package sessioncache answers "does session S belong to user U and is it
// live?" without a storage round-trip per message.
//
// Entries are keyed by session ID and remember the owning user, so a lookup
// for another user's session is answered from the same entry. Lookups fail
// closed: a store error yields false and is never cached.
package sessioncache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/enflame-media/syncrelay/internal/constants"
	"github.com/enflame-media/syncrelay/internal/database"
	"github.com/enflame-media/syncrelay/internal/logger"
	"github.com/enflame-media/syncrelay/internal/metrics"
)

// Lookup results recorded in metrics.
const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultError = "error"
)

// Config controls entry lifetimes.
type Config struct {
	// TTL is how long a live session stays cached.
	TTL time.Duration
	// NegativeTTL is how long unknown or archived sessions stay cached.
	NegativeTTL time.Duration
}

type entry struct {
	ownerID   string
	live      bool
	expiresAt time.Time
}

func (e *entry) validFor(userID string) bool {
	return e.live && e.ownerID == userID
}

// Cache is a TTL-bounded session ownership cache. It is safe for concurrent use.
type Cache struct {
	sessions database.SessionRepository
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	// generation changes on every write that did not come from a store
	// lookup; a lookup started under an older generation does not cache.
	generation uint64

	group singleflight.Group
}

// New creates a cache backed by the session repository. m may be nil.
func New(sessions database.SessionRepository, cfg Config, m *metrics.Metrics, log *slog.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = constants.DefaultSessionCacheTTL
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = constants.DefaultSessionCacheNegativeTTL
	}
	return &Cache{
		sessions: sessions,
		cfg:      cfg,
		metrics:  m,
		logger:   log,
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
}

// IsSessionValid reports whether sessionID belongs to userID and is live.
// Concurrent misses for the same session share one store lookup.
func (c *Cache) IsSessionValid(ctx context.Context, sessionID, userID string) bool {
	if sessionID == "" || userID == "" {
		return false
	}

	if e, ok := c.get(sessionID); ok {
		c.metrics.SessionLookup(resultHit)
		return e.validFor(userID)
	}

	c.mu.RLock()
	generation := c.generation
	c.mu.RUnlock()

	result, err, _ := c.group.Do(sessionID, func() (any, error) {
		return c.load(ctx, sessionID, generation)
	})
	if err != nil {
		c.metrics.SessionLookup(resultError)
		logger.DeriveRequestLogger(ctx, c.logger).Warn("session lookup failed, treating session as invalid",
			"context", map[string]any{
				"session_id": sessionID,
				"user_id":    userID,
				"error":      err.Error(),
			})
		return false
	}

	c.metrics.SessionLookup(resultMiss)
	e, _ := result.(*entry)
	return e != nil && e.validFor(userID)
}

func (c *Cache) get(sessionID string) (*entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[sessionID]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e, true
}

func (c *Cache) load(ctx context.Context, sessionID string, generation uint64) (*entry, error) {
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.StorageCallTimeout)
	defer cancel()

	record, err := c.sessions.GetSession(lookupCtx, sessionID)
	if err != nil {
		return nil, err
	}

	e := &entry{expiresAt: c.now().Add(c.cfg.NegativeTTL)}
	if record != nil {
		e.ownerID = record.UserID
		e.live = record.Active && record.ArchivedAt == 0
		if e.live {
			e.expiresAt = c.now().Add(c.cfg.TTL)
		}
	}

	c.mu.Lock()
	if c.generation == generation {
		c.entries[sessionID] = e
	}
	c.mu.Unlock()

	return e, nil
}

// Invalidate drops the cached entry, e.g. when the session is archived or deleted.
// Lookups already in flight for the session will not repopulate it.
func (c *Cache) Invalidate(sessionID string) {
	c.mu.Lock()
	delete(c.entries, sessionID)
	c.generation++
	c.mu.Unlock()

	c.group.Forget(sessionID)
}

// MarkValid records a session known to be live for userID, e.g. right after it
// was created, so the first events do not wait on the store.
func (c *Cache) MarkValid(sessionID, userID string) {
	if sessionID == "" || userID == "" {
		return
	}

	c.mu.Lock()
	c.entries[sessionID] = &entry{
		ownerID:   userID,
		live:      true,
		expiresAt: c.now().Add(c.cfg.TTL),
	}
	c.generation++
	c.mu.Unlock()

	c.group.Forget(sessionID)
}

// Cleanup removes expired entries. It runs as a recurring alarm task.
func (c *Cache) Cleanup(_ context.Context) error {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for sessionID, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, sessionID)
			removed++
		}
	}
	remaining := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug("session cache cleanup", "context", map[string]int{
			"removed":   removed,
			"remaining": remaining,
		})
	}
	return nil
}

// Len returns the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
