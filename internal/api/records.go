package api

// SessionRecord is the externally owned session row backing the session
// activity cache.
type SessionRecord struct {
	SessionID  string `json:"sessionId"`
	UserID     string `json:"userId"`
	Active     bool   `json:"active"`
	ArchivedAt int64  `json:"archivedAt,omitempty"`
}

// Valid reports whether the session belongs to userID and is still live.
func (s *SessionRecord) Valid(userID string) bool {
	return s != nil && s.UserID == userID && s.Active && s.ArchivedAt == 0
}

// TokenRecord maps a hashed bearer token to the user it authenticates.
type TokenRecord struct {
	TokenHash string `json:"tokenHash"`
	UserID    string `json:"userId"`
	// Role selects the operator API permissions; empty means a plain user.
	Role      string `json:"role,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	// ExpiresAt is a unix timestamp in seconds; zero means no expiry.
	ExpiresAt int64 `json:"expiresAt,omitempty"`
	Revoked   bool  `json:"revoked,omitempty"`
}

// Expired reports whether the token is no longer usable at the given unix time.
func (t *TokenRecord) Expired(nowUnix int64) bool {
	return t.Revoked || (t.ExpiresAt != 0 && nowUnix >= t.ExpiresAt)
}
