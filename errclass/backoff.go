package errclass

import (
	"math/rand"
	"time"
)

// Strategy selects the delay shape between retry attempts. The values match
// the request-level retry_strategy option.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyNone        Strategy = "none"
)

// maxExponentialDelay caps exponential growth before jitter.
const maxExponentialDelay = 60 * time.Second

// Delay computes the backoff before retry number attempt (zero-based).
//
// Exponential: min(base * 2^attempt, 60s) plus uniform jitter in
// [0.1*delay, 0.3*delay] to avoid synchronized retry storms.
// Linear: base * (attempt + 1), no jitter.
// None: zero delay.
//
// rng may be nil, in which case the package-level source is used; tests pass
// a seeded source for determinism.
func Delay(strategy Strategy, attempt int, base time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	switch strategy {
	case StrategyExponential:
		d := base << uint(attempt)
		if d > maxExponentialDelay || d <= 0 {
			d = maxExponentialDelay
		}
		return d + jitter(d, rng)
	case StrategyLinear:
		return base * time.Duration(attempt+1)
	default:
		return 0
	}
}

// jitter draws a uniform duration in [0.1*d, 0.3*d].
func jitter(d time.Duration, rng *rand.Rand) time.Duration {
	lo := d / 10
	span := d/5 + 1
	if rng != nil {
		return lo + time.Duration(rng.Int63n(int64(span)))
	}
	return lo + time.Duration(rand.Int63n(int64(span))) // #nosec G404 -- retry jitter, not security-sensitive
}
