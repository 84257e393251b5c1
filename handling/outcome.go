package handling

import "time"

// ErrorsMode tells how an uncaught handler error (one that is neither
// permanent nor temporary by behavior) is classified.
type ErrorsMode int

const (
	// ErrorsTemporary retries the handler with its configured backoff.
	// This is the default mode.
	ErrorsTemporary ErrorsMode = iota

	// ErrorsPermanent fails the handler finally, with no retry.
	ErrorsPermanent

	// ErrorsIgnored treats the error as a success: nothing is recorded.
	ErrorsIgnored
)

func (m ErrorsMode) String() string {
	switch m {
	case ErrorsPermanent:
		return "permanent"
	case ErrorsIgnored:
		return "ignored"
	default:
		return "temporary"
	}
}

// Outcome is the in-memory result of one handler invocation attempt. It is
// never persisted directly; the state machine translates it into handler
// state deltas.
type Outcome struct {
	// Final tells whether the handler is finished, either successfully
	// (Err is nil) or with a permanent failure (Err is set). A non-final
	// outcome schedules a retry.
	Final bool

	// Delay is the requested pause before the next attempt of a non-final
	// outcome. A nil delay means "retry immediately next cycle".
	Delay *time.Duration

	// Result is the opaque value returned by a successful handler.
	Result interface{}

	// Err is the failure of this attempt, if any.
	Err error

	// Subrefs are the ids of sub-handlers registered during this attempt;
	// they keep the overall cycle unfinished until they finish too.
	Subrefs []string
}

// DelayOf is a convenience constructor for the Delay field.
func DelayOf(d time.Duration) *time.Duration {
	return &d
}
