package server

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// acceptBackoff paces retries after transient accept failures (EMFILE and
// friends). Jitter spreads retries from listeners sharing one fd limit.
var acceptBackoff = BackoffConfig{
	InitialDelay: 5 * time.Millisecond,
	Multiplier:   2.0,
	MaxDelay:     time.Second,
	Jitter:       true,
}

// NextBackoffDelay returns the retry delay for attempt N (1-based). With
// Jitter the delay is scaled by [0.5, 1.5) drawn from rng, or by 0.5 when
// rng is nil.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}
