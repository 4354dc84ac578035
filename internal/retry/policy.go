package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/alexnthnz/notification-dispatch/internal/config"
)

// Policy computes retry delays: exponential growth from BaseDelay by
// Factor, capped at MaxDelay, with jitter so synchronized failures do
// not retry in lockstep. MaxAttempts bounds the whole sequence.
type Policy struct {
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// PolicyFromConfig builds a Policy from deployment configuration.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		BaseDelay:   cfg.BaseDelay,
		Factor:      cfg.Factor,
		MaxDelay:    cfg.MaxDelay,
		MaxAttempts: cfg.MaxAttempts,
	}
}

// Delay returns the backoff before the given attempt (0-based: the
// delay after the first failure is Delay(0)). Jitter spreads the
// result uniformly over [delay/2, delay].
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt))
	if base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}

	half := base / 2
	return time.Duration(half + rand.Float64()*half)
}

// Exhausted reports whether the given attempt count has spent the
// retry budget.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
