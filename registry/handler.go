// Package registry stores the registered handlers, indexed by resource kind
// and concern, and resolves the applicable subset for a given cause through
// reason, field, label, annotation and predicate filters.
package registry

import (
	"context"
	"reflect"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"

	"github.com/kubereactor/kreactor/cause"
	"github.com/kubereactor/kreactor/diff"
	"github.com/kubereactor/kreactor/handling"
	"github.com/kubereactor/kreactor/object"
)

// Request is the contract-fixed argument set passed to every handler
// callback.
type Request struct {
	Resource  schema.GroupVersionResource
	Namespace string
	Name      string
	UID       types.UID

	Body   object.Body
	Patch  *object.Patch
	Logger logr.Logger
	Memo   map[string]interface{}

	Reason cause.Reason
	Diff   diff.Diff
	Old    diff.Essence
	New    diff.Essence

	Retries int
	Started time.Time
	Runtime time.Duration

	// Param is the static value declared at registration time.
	Param interface{}

	// Stopped is closed when a daemon handler is asked to stop. Nil for
	// regular handlers.
	Stopped <-chan struct{}

	// Subrefs collects the ids of sub-handlers registered during this
	// invocation. Sub-handler registration is explicit: the parent
	// invocation hands the ids back instead of fetching them from any
	// ambient context.
	Subrefs *SubrefSink
}

// SubrefSink accumulates sub-handler ids during one invocation attempt.
type SubrefSink struct {
	ids []string
}

// Add records a sub-handler id.
func (s *SubrefSink) Add(id string) {
	s.ids = append(s.ids, id)
}

// IDs returns the collected ids.
func (s *SubrefSink) IDs() []string {
	return s.ids
}

// Callback is a handler function. The returned value becomes the outcome
// result of a successful attempt.
type Callback func(ctx context.Context, req Request) (interface{}, error)

type criterionOp int

const (
	opLiteral criterionOp = iota
	opPresent
	opAbsent
	opCallback
)

// Criterion is a single filter entry for labels, annotations and field
// values: a literal for exact equality, a presence/absence sentinel, or a
// predicate callback receiving the full body context.
type Criterion struct {
	op    criterionOp
	value interface{}
	fn    func(body object.Body, value interface{}, found bool) bool
}

// Eq matches a value by deep equality.
func Eq(value interface{}) Criterion {
	return Criterion{op: opLiteral, value: value}
}

// Present matches when the key exists, whatever the value.
var Present = Criterion{op: opPresent}

// Absent matches when the key does not exist.
var Absent = Criterion{op: opAbsent}

// Satisfies matches through a predicate callback.
func Satisfies(fn func(body object.Body, value interface{}, found bool) bool) Criterion {
	return Criterion{op: opCallback, fn: fn}
}

func (c Criterion) check(body object.Body, value interface{}, found bool) bool {
	switch c.op {
	case opPresent:
		return found
	case opAbsent:
		return !found
	case opCallback:
		return c.fn != nil && c.fn(body, value, found)
	default:
		return found && reflect.DeepEqual(value, c.value)
	}
}

// Handler is an immutable registration record.
type Handler struct {
	// ID identifies the handler in logs and in the persisted progress.
	ID string

	// Fn is the user callback.
	Fn Callback

	// Reason restricts the handler to one cause reason; nil is catch-all.
	Reason *cause.Reason

	// InitialOnly marks resume-style handlers: they fire only when the
	// RESUME classification is layered onto the cause.
	InitialOnly bool

	// Field scopes the handler to changes under this path. Empty matches
	// everything.
	Field []string

	// Value, OldValue and NewValue are optional checks on the field's
	// current, previous and next values.
	Value    *Criterion
	OldValue *Criterion
	NewValue *Criterion

	// Labels and Annotations filters; all entries must pass.
	Labels      map[string]Criterion
	Annotations map[string]Criterion

	// When is a free-form predicate on the body.
	When func(body object.Body) bool

	// ErrorsMode classifies uncaught callback errors.
	ErrorsMode handling.ErrorsMode

	// Timeout limits the overall retrying duration; nil means unlimited.
	Timeout *time.Duration

	// Retries limits the number of attempts; nil means unlimited.
	Retries *int

	// Backoff is the pause before a retry when the error carries no
	// explicit delay. Nil falls back to the 60s default.
	Backoff *time.Duration

	// Optional deletion handlers do not demand the finalizer; the object
	// may physically vanish before they ever run.
	Optional bool

	// Param is handed to the callback verbatim.
	Param interface{}

	// Daemon/timer extras.
	InitialDelay        *time.Duration
	CancellationBackoff *time.Duration
	CancellationTimeout *time.Duration
	Interval            *time.Duration
	Sharp               bool
	Idle                *time.Duration
}

// ReasonOf is a convenience constructor for the Reason field.
func ReasonOf(r cause.Reason) *cause.Reason {
	return &r
}
