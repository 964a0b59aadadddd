package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffFirstAttemptIsImmediate(t *testing.T) {
	b := newBackoff(time.Second, 30*time.Second)
	assert.Zero(t, b.next(1))
}

func TestBackoffDoublesWithoutJitter(t *testing.T) {
	b := newBackoff(time.Second, 30*time.Second)
	b.rand = func() float64 { return 0 }

	var got []time.Duration
	for attempt := 1; attempt <= 8; attempt++ {
		got = append(got, b.next(attempt))
	}
	assert.Equal(t, []time.Duration{
		0, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)
}

func TestBackoffIsMonotonicUnderJitter(t *testing.T) {
	// Alternate full and zero jitter: the clamp must keep delays from dropping.
	flip := false
	b := newBackoff(100*time.Millisecond, 900*time.Millisecond)
	b.rand = func() float64 {
		flip = !flip
		if flip {
			return 1
		}
		return 0
	}

	var prev time.Duration
	for attempt := 1; attempt <= 20; attempt++ {
		d := b.next(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, 900*time.Millisecond)
		prev = d
	}
}

func TestBackoffLargeAttemptDoesNotOverflow(t *testing.T) {
	b := newBackoff(time.Second, time.Minute)
	b.rand = func() float64 { return 0.5 }
	assert.Equal(t, time.Minute, b.next(200))
}
