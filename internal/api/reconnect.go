package api

// ReconnectionStrategy governs automatic client reconnection after an
// unexpected transport closure. It is replaced as a whole, never mutated.
type ReconnectionStrategy struct {
	BaseDelayMs       int64   `json:"baseDelayMs"`
	MaxDelayMs        int64   `json:"maxDelayMs"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
	// MaxAttempts is the number of consecutive failed reconnects tolerated
	// before giving up. Zero means unlimited.
	MaxAttempts int `json:"maxAttempts"`
}
