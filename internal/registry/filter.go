package registry

import "github.com/enflame-media/syncrelay/internal/api"

// FilterKind selects which of a user's connections receive an event.
type FilterKind string

// Recipient filters.
const (
	// AllInterestedInSession matches every connection bound to the session:
	// user-scoped connections, the session's own connections and subscribers.
	AllInterestedInSession FilterKind = "all-interested-in-session"
	// UserScopedOnly matches user-scoped connections.
	UserScopedOnly FilterKind = "user-scoped-only"
	// AllUserAuthenticatedConnections matches every authenticated connection of the user.
	AllUserAuthenticatedConnections FilterKind = "all-user-authenticated-connections"
)

// Filter selects recipients among one user's connections.
type Filter struct {
	UserID string
	Kind   FilterKind
	// SessionID is required by AllInterestedInSession.
	SessionID string
	// SkipConnectionID excludes the sender to prevent echo-back.
	SkipConnectionID string
}

// Matches reports whether conn is a recipient under the filter.
func (f Filter) Matches(conn *Connection) bool {
	if conn.ID == f.SkipConnectionID || !conn.Authenticated() || conn.UserID != f.UserID {
		return false
	}

	switch f.Kind {
	case AllInterestedInSession:
		return f.SessionID != "" && conn.InterestedIn(f.SessionID)
	case UserScopedOnly:
		return conn.Scope == api.ScopeUser
	case AllUserAuthenticatedConnections:
		return true
	default:
		return false
	}
}
