package realtime

import (
	"math/rand/v2"
	"time"
)

// backoff computes reconnect delays. The first attempt fires immediately;
// later attempts double from base up to max with up to jitter extra. Delays
// never decrease within one reconnect cycle.
type backoff struct {
	base   time.Duration
	max    time.Duration
	jitter float64
	rand   func() float64
	prev   time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	if max < base {
		max = base
	}
	return &backoff{base: base, max: max, jitter: 0.2, rand: rand.Float64}
}

// next returns the delay to wait before the given 1-based attempt.
func (b *backoff) next(attempt int) time.Duration {
	if attempt <= 1 {
		b.prev = 0
		return 0
	}
	d := b.max
	if shift := attempt - 2; shift < 62 {
		if exp := b.base << shift; exp > 0 && exp < b.max {
			d = exp
		}
	}
	d += time.Duration(b.rand() * b.jitter * float64(d))
	if d > b.max {
		d = b.max
	}
	if d < b.prev {
		d = b.prev
	}
	b.prev = d
	return d
}
