// Package throttle slows down a flapping reaction loop: bursts of
// non-handler errors (API connectivity and the like) back off exponentially
// per object, separately from any per-handler retry state, so a broken API
// server does not spin the reactor.
package throttle

import "time"

const (
	// DefaultInitial is the first backoff step.
	DefaultInitial = 1 * time.Second

	// DefaultCap bounds the backoff growth.
	DefaultCap = 600 * time.Second

	factor = 2
)

// Throttler tracks the error backoff of one object. It is owned by the
// object's single processing task and needs no locking.
type Throttler struct {
	initial time.Duration
	cap     time.Duration
	next    time.Duration
}

// New creates a throttler. Zero arguments select the defaults.
func New(initial, cap time.Duration) *Throttler {
	if initial <= 0 {
		initial = DefaultInitial
	}
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Throttler{initial: initial, cap: cap}
}

// Failure registers one more failure and returns how long to pause before
// the next attempt.
func (t *Throttler) Failure() time.Duration {
	if t.next == 0 {
		t.next = t.initial
	}
	delay := t.next
	t.next *= factor
	if t.next > t.cap {
		t.next = t.cap
	}
	return delay
}

// Success resets the backoff after a clean cycle.
func (t *Throttler) Success() {
	t.next = 0
}

// Active reports whether the throttler is currently backing off.
func (t *Throttler) Active() bool {
	return t.next != 0
}
