package exchange

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes reconnect delays with an exponential shape:
// base 1s, doubling each attempt, capped at 60s, with +/-20% jitter so a
// mass disconnect (exchange-side restart) doesn't make every session
// retry in lockstep.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64
}

// NewBackoff returns the default base=1s/cap=60s/jitter=20% shape.
func NewBackoff() Backoff {
	return Backoff{Base: time.Second, Cap: 60 * time.Second, Jitter: 0.2}
}

// Duration returns the delay before reconnect attempt n (0-indexed).
func (b Backoff) Duration(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	ceiling := b.Cap
	if ceiling <= 0 {
		ceiling = 60 * time.Second
	}

	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(ceiling) {
		d = float64(ceiling)
	}

	jitter := b.Jitter
	if jitter <= 0 {
		return time.Duration(d)
	}
	span := d * jitter
	delta := (rand.Float64()*2 - 1) * span
	result := d + delta
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}
