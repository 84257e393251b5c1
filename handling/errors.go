package handling

import (
	"fmt"
	"time"
)

// permanent is the behavior interface of errors that must never be retried.
type permanent interface {
	Permanent() bool
}

// temporary is the behavior interface of errors that request a retry, with
// an optional explicit delay before the next attempt.
type temporary interface {
	RetryDelay() (delay time.Duration, ok bool)
}

// PermanentError marks a handler failure as final: the handler will not be
// retried and the failure is persisted.
type PermanentError struct {
	Err error
}

// NewPermanentError wraps an error as permanent.
func NewPermanentError(err error) *PermanentError {
	return &PermanentError{Err: err}
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Permanent() bool { return true }

// TemporaryError marks a handler failure as retriable. An explicit delay may
// be carried; without one, the handler's configured backoff applies.
type TemporaryError struct {
	Err   error
	Delay time.Duration
	// HasDelay distinguishes "retry immediately next cycle" (zero delay)
	// from "no explicit delay given".
	HasDelay bool
}

// NewTemporaryError wraps an error as retriable with an explicit delay.
func NewTemporaryError(err error, delay time.Duration) *TemporaryError {
	return &TemporaryError{Err: err, Delay: delay, HasDelay: true}
}

func (e *TemporaryError) Error() string { return e.Err.Error() }
func (e *TemporaryError) Unwrap() error { return e.Err }
func (e *TemporaryError) RetryDelay() (time.Duration, bool) {
	return e.Delay, e.HasDelay
}

// TimeoutError is raised by the framework when a handler's configured
// runtime limit is exhausted before the invocation. It is permanent.
type TimeoutError struct {
	HandlerID string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("handler %q has timed out after %s of retrying", e.HandlerID, e.Timeout)
}
func (e *TimeoutError) Permanent() bool { return true }

// RetriesExceededError is raised by the framework when a handler's configured
// retry limit is exhausted. It is permanent.
type RetriesExceededError struct {
	HandlerID string
	Retries   int
}

func (e *RetriesExceededError) Error() string {
	return fmt.Sprintf("handler %q has exceeded %d retries", e.HandlerID, e.Retries)
}
func (e *RetriesExceededError) Permanent() bool { return true }

// IsPermanent checks if the given error declares itself non-retriable.
func IsPermanent(err error) bool {
	for err != nil {
		if e, ok := err.(permanent); ok {
			return e.Permanent()
		}
		err = unwrap(err)
	}
	return false
}

// IsTemporary checks if the given error declares itself retriable, and
// returns its explicit delay, if any.
func IsTemporary(err error) (delay time.Duration, hasDelay bool, isTemporary bool) {
	for err != nil {
		if e, ok := err.(temporary); ok {
			delay, hasDelay = e.RetryDelay()
			return delay, hasDelay, true
		}
		err = unwrap(err)
	}
	return 0, false, false
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}
