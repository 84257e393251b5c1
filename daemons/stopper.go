// Package daemons spawns, tracks and terminates the long-running per-object
// background tasks (daemons and timers), bound one-to-one to the object's
// lifetime, with a graceful, then forced, then orphaned stop escalation.
package daemons

import (
	"strings"
	"sync"
	"time"
)

// StopReason is a bitmask of why a daemon was asked to stop. Multiple
// reasons may accumulate before the task actually exits.
type StopReason uint8

const (
	StopReasonNone StopReason = 0

	// StopReasonFiltersMismatch: the object no longer matches the
	// handler's filters.
	StopReasonFiltersMismatch StopReason = 1 << iota

	// StopReasonResourceDeleted: the object is being or has been deleted.
	StopReasonResourceDeleted

	// StopReasonOperatorPausing: a higher-priority peer took over.
	StopReasonOperatorPausing

	// StopReasonOperatorExiting: the operator is shutting down.
	StopReasonOperatorExiting
)

func (r StopReason) String() string {
	if r == StopReasonNone {
		return "none"
	}
	var parts []string
	if r&StopReasonFiltersMismatch != 0 {
		parts = append(parts, "filters-mismatch")
	}
	if r&StopReasonResourceDeleted != 0 {
		parts = append(parts, "resource-deleted")
	}
	if r&StopReasonOperatorPausing != 0 {
		parts = append(parts, "operator-pausing")
	}
	if r&StopReasonOperatorExiting != 0 {
		parts = append(parts, "operator-exiting")
	}
	return strings.Join(parts, "+")
}

// Stopper is the cooperative stop token of one daemon. Setting it once
// closes the signalling channel; later sets only accumulate reasons.
type Stopper struct {
	mu     sync.Mutex
	reason StopReason
	setAt  *time.Time
	ch     chan struct{}
}

// NewStopper creates an unset stopper.
func NewStopper() *Stopper {
	return &Stopper{ch: make(chan struct{})}
}

// Set signals the stop with a reason. The first call records the signalling
// time and closes the channel.
func (s *Stopper) Set(reason StopReason, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reason |= reason
	if s.setAt == nil {
		at := now
		s.setAt = &at
		close(s.ch)
	}
}

// IsSet reports whether a stop has been requested.
func (s *Stopper) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setAt != nil
}

// SetAt returns when the stop was first requested.
func (s *Stopper) SetAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setAt == nil {
		return time.Time{}, false
	}
	return *s.setAt, true
}

// Reason returns the accumulated stop reasons.
func (s *Stopper) Reason() StopReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done returns the channel closed on the first stop request.
func (s *Stopper) Done() <-chan struct{} {
	return s.ch
}
