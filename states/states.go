// Package states drives the per-handler persisted state machine: whether a
// handler is due to run, how an invocation outcome mutates its state, and
// when a whole cycle of handlers is done.
package states

import (
	"reflect"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubereactor/kreactor/handling"
	"github.com/kubereactor/kreactor/object"
	"github.com/kubereactor/kreactor/progress"
)

// timeLayout is the persisted timestamp form: ISO 8601 in UTC without a
// zone designator, microsecond precision.
const timeLayout = "2006-01-02T15:04:05.000000"

// State is the in-memory view of one handler's persisted progress within one
// cause episode.
type State struct {
	Started *time.Time
	Stopped *time.Time
	Delayed *time.Time
	Retries int
	Success bool
	Failure bool
	Message string
	Subrefs sets.String
}

// NewFromScratch starts a fresh handler state at the first invocation
// attempt.
func NewFromScratch(now time.Time) *State {
	started := now
	return &State{Started: &started, Subrefs: sets.NewString()}
}

// FromRecord restores a state previously persisted by this or another
// operator process.
func FromRecord(rec *progress.Record) *State {
	s := &State{
		Started: parseTime(rec.Started),
		Stopped: parseTime(rec.Stopped),
		Delayed: parseTime(rec.Delayed),
		Retries: rec.Retries,
		Success: rec.Success,
		Failure: rec.Failure,
		Subrefs: sets.NewString(rec.Subrefs...),
	}
	if rec.Message != nil {
		s.Message = *rec.Message
	}
	return s
}

// Record converts the state into its persisted form.
func (s *State) Record() *progress.Record {
	rec := &progress.Record{
		Started: formatTime(s.Started),
		Stopped: formatTime(s.Stopped),
		Delayed: formatTime(s.Delayed),
		Retries: s.Retries,
		Success: s.Success,
		Failure: s.Failure,
	}
	if s.Message != "" {
		msg := s.Message
		rec.Message = &msg
	}
	if s.Subrefs.Len() > 0 {
		rec.Subrefs = s.Subrefs.List()
	}
	return rec
}

// Finished reports whether the handler reached a terminal state.
func (s *State) Finished() bool {
	return s.Success || s.Failure
}

// Due reports whether the handler should be invoked now: not finished, and
// either no delay is scheduled or the delay has elapsed.
func (s *State) Due(now time.Time) bool {
	if s.Finished() {
		return false
	}
	return s.Delayed == nil || !now.Before(*s.Delayed)
}

// Runtime returns how long the handler has been retrying overall.
func (s *State) Runtime(now time.Time) time.Duration {
	if s.Started == nil {
		return 0
	}
	return now.Sub(*s.Started)
}

// WithOutcome applies one invocation outcome. Retries increase by exactly
// one on every call regardless of the outcome kind; Started is never
// overwritten.
func (s *State) WithOutcome(outcome handling.Outcome, now time.Time) *State {
	next := *s
	next.Subrefs = s.Subrefs.Union(sets.NewString(outcome.Subrefs...))
	next.Retries = s.Retries + 1
	next.Delayed = nil

	switch {
	case !outcome.Final:
		if outcome.Delay != nil {
			delayed := now.Add(*outcome.Delay)
			next.Delayed = &delayed
		}
	case outcome.Err != nil:
		stopped := now
		next.Stopped = &stopped
		next.Failure = true
		next.Message = outcome.Err.Error()
	default:
		stopped := now
		next.Stopped = &stopped
		next.Success = true
		next.Message = ""
	}
	return &next
}

// Cycle is the set of handler states for one cause episode, keyed by
// handler id.
type Cycle map[string]*State

// Restore builds the cycle for the given handler ids: persisted records are
// restored, missing ones start from scratch.
func Restore(ids []string, body object.Body, store progress.Store, now time.Time) (Cycle, error) {
	cycle := Cycle{}
	for _, id := range ids {
		rec, err := store.Fetch(id, body)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			cycle[id] = FromRecord(rec)
		} else {
			cycle[id] = NewFromScratch(now)
		}
	}
	return cycle, nil
}

// Done reports whether every handler in the cycle is finished.
func (c Cycle) Done() bool {
	for _, state := range c {
		if !state.Finished() {
			return false
		}
	}
	return true
}

// Delay returns the recommended sleep before re-checking the cycle: the
// minimum remaining delay across unfinished handlers, floored at zero. A
// handler with no delay set wants an immediate retry, making the cycle
// delay zero. The second value is false when nothing remains to wait for.
func (c Cycle) Delay(now time.Time) (time.Duration, bool) {
	var min time.Duration
	found := false
	for _, state := range c {
		if state.Finished() {
			continue
		}
		var remaining time.Duration
		if state.Delayed != nil {
			remaining = state.Delayed.Sub(now)
			if remaining < 0 {
				remaining = 0
			}
		}
		if !found || remaining < min {
			min = remaining
			found = true
		}
	}
	return min, found
}

// Persist writes every state in the cycle into the pending patch. States
// whose persisted form already matches what the body carries are skipped:
// re-sending them would make the patch a server-side no-op that produces no
// watch event, while silently suppressing the sleep that a delayed retry is
// waiting on.
func (c Cycle) Persist(body object.Body, store progress.Store, patch *object.Patch) error {
	for id, state := range c {
		rec := state.Record()
		prior, err := store.Fetch(id, body)
		if err != nil {
			return err
		}
		if prior != nil && reflect.DeepEqual(rec, prior) {
			continue
		}
		if err := store.Store(id, rec, body, patch); err != nil {
			return err
		}
	}
	return nil
}

// Purge removes every state of the cycle from storage, once the owning
// cause episode is complete.
func (c Cycle) Purge(body object.Body, store progress.Store, patch *object.Patch) error {
	for id := range c {
		if err := store.Purge(id, body, patch); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(timeLayout, *s)
	if err != nil {
		return nil
	}
	return &t
}
