package api

// Scope is the addressing granularity of a connection.
type Scope string

const (
	// ScopeUser receives everything addressed to the user.
	ScopeUser Scope = "user-scoped"
	// ScopeSession is bound to a single session.
	ScopeSession Scope = "session-scoped"
	// ScopeMachine is bound to a single machine (daemon).
	ScopeMachine Scope = "machine-scoped"
)

// ParseScope maps a handshake clientType to a Scope.
// An empty value means user-scoped.
func ParseScope(clientType string) (Scope, bool) {
	switch Scope(clientType) {
	case "", ScopeUser:
		return ScopeUser, true
	case ScopeSession:
		return ScopeSession, true
	case ScopeMachine:
		return ScopeMachine, true
	default:
		return "", false
	}
}

// String returns the wire name of the scope.
func (s Scope) String() string {
	return string(s)
}
