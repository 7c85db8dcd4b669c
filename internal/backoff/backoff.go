// Package backoff implements the exponential-with-jitter reconnect delay
// used by pod followers, modeled on the teacher's k8s.io/apimachinery
// wait.Backoff usage but adapted to the spec's exact parameters: doubling
// from a minimum, capped at a maximum, with additive jitter so that
// simultaneously-reconnecting followers do not synchronize.
package backoff

import (
	"math/rand"
	"time"
)

// Jitter is the additive jitter window applied to every delay.
const Jitter = 250 * time.Millisecond

// Backoff tracks the current reconnect delay for a single follower.
// Not safe for concurrent use; each follower owns one.
type Backoff struct {
	min time.Duration
	max time.Duration
	cur time.Duration
	rng *rand.Rand
}

// New returns a Backoff starting at min and capped at max.
func New(min, max time.Duration) *Backoff {
	return &Backoff{
		min: min,
		max: max,
		cur: min,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Reset returns the delay to the minimum. Called after a successful open.
func (b *Backoff) Reset() {
	b.cur = b.min
}

// Next returns the delay to wait before the next attempt and advances the
// internal state by doubling (capped at max). The returned delay includes
// jitter in [0, Jitter).
func (b *Backoff) Next() time.Duration {
	d := b.cur
	next := b.cur * 2
	if next > b.max || next < b.cur {
		next = b.max
	}
	b.cur = next
	return d + time.Duration(b.rng.Int63n(int64(Jitter)))
}
