package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	multierror "github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/kubereactor/kreactor/cause"
	eventv1 "github.com/kubereactor/kreactor/event/v1"
	"github.com/kubereactor/kreactor/handling"
	"github.com/kubereactor/kreactor/object"
	"github.com/kubereactor/kreactor/registry"
	"github.com/kubereactor/kreactor/states"
)

var log = ctrl.Log.WithName("execution")

// DefaultBackoff is the retry pause when neither the error nor the handler
// declares one.
const DefaultBackoff = 60 * time.Second

// Executor invokes handlers under a lifecycle policy and translates their
// errors into outcomes.
type Executor struct {
	lifecycle Policy
	clock     clock.Clock
	recorder  record.EventRecorder
	workers   chan struct{}
	log       logr.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLifecycle sets the handler selection policy.
func WithLifecycle(p Policy) ExecutorOption {
	return func(e *Executor) { e.lifecycle = p }
}

// WithClock overrides the clock, for tests.
func WithClock(c clock.Clock) ExecutorOption {
	return func(e *Executor) { e.clock = c }
}

// WithEventRecorder enables posting handler outcomes as Kubernetes events.
func WithEventRecorder(recorder record.EventRecorder) ExecutorOption {
	return func(e *Executor) { e.recorder = recorder }
}

// WithWorkerLimit bounds the number of concurrently running user callbacks
// across all objects, so blocking callbacks never starve the scheduler.
func WithWorkerLimit(n int) ExecutorOption {
	return func(e *Executor) { e.workers = make(chan struct{}, n) }
}

// NewExecutor creates an executor. The default policy is ASAP.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		lifecycle: ASAP,
		clock:     clock.RealClock{},
		log:       log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunCycle invokes the due handlers of one cause under the lifecycle policy
// and applies their outcomes to the cycle states. Individual handler
// failures never fail the cycle; only a context cancellation propagates, to
// abort the whole reaction on shutdown.
func (e *Executor) RunCycle(ctx context.Context, handlers []*registry.Handler, c *cause.ResourceCause, cycle states.Cycle) error {
	tr := otel.Tracer("RunCycle")
	ctx, span := tr.Start(ctx, "RunCycle")
	defer span.End()

	now := e.clock.Now()

	// Hard stops come first: a handler over its time or retry limits fails
	// permanently without being called at all.
	var due []*registry.Handler
	for _, h := range handlers {
		state := cycle[h.ID]
		if state == nil || !state.Due(now) {
			continue
		}
		if outcome, stopped := e.hardStop(h, state, now); stopped {
			cycle[h.ID] = state.WithOutcome(outcome, now)
			e.report(c, h, outcome)
			continue
		}
		due = append(due, h)
	}

	var failures error
	for _, h := range e.lifecycle.Select(due, cycle) {
		state := cycle[h.ID]
		outcome, err := e.Invoke(ctx, h, c, state)
		if err != nil {
			return err
		}
		cycle[h.ID] = state.WithOutcome(outcome, e.clock.Now())
		e.report(c, h, outcome)
		if outcome.Err != nil {
			failures = multierror.Append(failures, outcome.Err)
		}
	}
	if failures != nil {
		c.Logger.V(1).Info("some handlers failed this cycle", "errors", failures.Error())
	}
	return nil
}

// hardStop checks the pre-invocation limits of a handler.
func (e *Executor) hardStop(h *registry.Handler, state *states.State, now time.Time) (handling.Outcome, bool) {
	if h.Timeout != nil && state.Runtime(now) >= *h.Timeout {
		return handling.Outcome{
			Final: true,
			Err:   &handling.TimeoutError{HandlerID: h.ID, Timeout: *h.Timeout},
		}, true
	}
	if h.Retries != nil && state.Retries >= *h.Retries {
		return handling.Outcome{
			Final: true,
			Err:   &handling.RetriesExceededError{HandlerID: h.ID, Retries: *h.Retries},
		}, true
	}
	return handling.Outcome{}, false
}

// Invoke calls one handler and classifies the result into an outcome. The
// returned error is non-nil only for cancellation, which must abort the
// whole cycle untouched.
func (e *Executor) Invoke(ctx context.Context, h *registry.Handler, c *cause.ResourceCause, state *states.State) (handling.Outcome, error) {
	return e.InvokeWithStop(ctx, h, c, state, nil)
}

// InvokeWithStop is Invoke for daemon handlers: the stop channel is exposed
// to the callback through the request, so it can exit cooperatively.
func (e *Executor) InvokeWithStop(ctx context.Context, h *registry.Handler, c *cause.ResourceCause, state *states.State, stopped <-chan struct{}) (handling.Outcome, error) {
	now := e.clock.Now()
	subrefs := &registry.SubrefSink{}
	req := registry.Request{
		Resource:  c.Resource,
		Namespace: object.Namespace(c.Body),
		Name:      object.Name(c.Body),
		UID:       object.UID(c.Body),
		Body:      c.Body,
		Patch:     c.Patch,
		Logger:    c.Logger.WithValues("handler", h.ID),
		Memo:      c.Memo,
		Reason:    c.Reason,
		Diff:      c.Diff,
		Old:       c.OldEssence,
		New:       c.NewEssence,
		Retries:   state.Retries,
		Runtime:   state.Runtime(now),
		Param:     h.Param,
		Subrefs:   subrefs,
		Stopped:   stopped,
	}
	if state.Started != nil {
		req.Started = *state.Started
	}
	if len(h.Field) > 0 {
		req.Diff = c.Diff.Reduced(h.Field)
	}

	result, err := e.call(ctx, h, req)

	if err != nil && (errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled) {
		// A cancellation signal is never interpreted as a handler
		// failure; it aborts the cycle for shutdown.
		return handling.Outcome{}, context.Canceled
	}

	outcome := e.classify(h, err)
	outcome.Result = result
	outcome.Subrefs = subrefs.IDs()
	return outcome, nil
}

// call runs the callback, bounded by the worker semaphore, recovering from
// panics into plain errors.
func (e *Executor) call(ctx context.Context, h *registry.Handler, req registry.Request) (result interface{}, err error) {
	if e.workers != nil {
		select {
		case e.workers <- struct{}{}:
			defer func() { <-e.workers }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %q panicked: %v", h.ID, r)
		}
	}()
	return h.Fn(ctx, req)
}

// classify translates an invocation error into an outcome, per the error
// behavior and the handler's errors mode.
func (e *Executor) classify(h *registry.Handler, err error) handling.Outcome {
	switch {
	case err == nil:
		return handling.Outcome{Final: true}

	case handling.IsPermanent(err):
		return handling.Outcome{Final: true, Err: err}

	default:
		if delay, hasDelay, isTemporary := handling.IsTemporary(err); isTemporary {
			if !hasDelay {
				delay = DefaultBackoff
			}
			return handling.Outcome{Delay: handling.DelayOf(delay), Err: err}
		}

		switch h.ErrorsMode {
		case handling.ErrorsIgnored:
			e.log.V(1).Info("ignoring the handler error as configured", "handler", h.ID, "error", err.Error())
			return handling.Outcome{Final: true}
		case handling.ErrorsPermanent:
			return handling.Outcome{Final: true, Err: err}
		default:
			backoff := DefaultBackoff
			if h.Backoff != nil {
				backoff = *h.Backoff
			}
			return handling.Outcome{Delay: handling.DelayOf(backoff), Err: err}
		}
	}
}

// report posts the outcome as a Kubernetes event, when a recorder is set.
func (e *Executor) report(c *cause.ResourceCause, h *registry.Handler, outcome handling.Outcome) {
	if e.recorder == nil {
		return
	}
	var event eventv1.ReactionEvent
	switch {
	case outcome.Final && outcome.Err == nil:
		event = &eventv1.HandlerSucceeded{Body: c.Body, HandlerID: h.ID}
	case outcome.Final:
		event = &eventv1.HandlerFailed{Body: c.Body, HandlerID: h.ID, Message: outcome.Err.Error()}
	case outcome.Err != nil:
		event = &eventv1.HandlerRetried{Body: c.Body, HandlerID: h.ID, Message: outcome.Err.Error()}
	default:
		return
	}
	event.Record(e.recorder)
}
