package alarm

import (
	"math"
	"math/rand/v2"

	"github.com/enflame-media/syncrelay/internal/constants"
)

// Config controls retry backoff and dead-lettering.
type Config struct {
	MaxRetries   int
	BaseDelayMs  int64
	MaxDelayMs   int64
	JitterFactor float64
}

// DefaultConfig returns maxRetries=3, baseDelayMs=1000, maxDelayMs=30000 and jitterFactor=0.2.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   constants.DefaultAlarmMaxRetries,
		BaseDelayMs:  constants.DefaultAlarmBaseDelayMs,
		MaxDelayMs:   constants.DefaultAlarmMaxDelayMs,
		JitterFactor: constants.DefaultAlarmJitterFactor,
	}
}

// randFloat returns a uniform value in [0, 1). Replaced in tests.
var randFloat = rand.Float64

// CalculateBackoffDelay returns the delay in milliseconds before retry number
// attempt (zero-indexed): min(base * 2^attempt, max) plus a uniform jitter in
// [0, delay * jitterFactor], floored. Jitter is added after capping, so the
// result can exceed maxDelayMs by up to jitterFactor. A nil cfg uses the defaults.
func CalculateBackoffDelay(attempt int, cfg *Config) int64 {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if attempt < 0 {
		attempt = 0
	}
	base := math.Max(float64(c.BaseDelayMs), 0)
	maxDelay := math.Max(float64(c.MaxDelayMs), 0)
	jitterFactor := math.Min(math.Max(c.JitterFactor, 0), 1)

	delay := math.Min(math.Ldexp(base, attempt), maxDelay)
	if jitterFactor > 0 {
		delay += randFloat() * delay * jitterFactor
	}

	return int64(math.Floor(delay))
}
