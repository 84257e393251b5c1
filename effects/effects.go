// Package effects turns the accumulated state and results of one reaction
// cycle into at most one PATCH call plus an optional interruptible sleep.
// Batching all the logical changes into a single API write per cycle keeps
// the write amplification at one, no matter how many handlers ran.
package effects

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/kubereactor/kreactor/client"
	"github.com/kubereactor/kreactor/object"
	"github.com/kubereactor/kreactor/progress"
)

var log = ctrl.Log.WithName("effects")

// keepaliveCap limits a single sleep, so the reactor emits periodic
// liveness instead of blocking indefinitely on a distant wake-up.
const keepaliveCap = 600 * time.Second

// Applier sends the accumulated patch and handles the inter-cycle sleeping.
type Applier struct {
	client client.KubeClient
	store  progress.Store
	clock  clock.Clock
	log    logr.Logger
}

// ApplierOption configures an Applier.
type ApplierOption func(*Applier)

// WithClock overrides the clock, for tests.
func WithClock(c clock.Clock) ApplierOption {
	return func(a *Applier) { a.clock = c }
}

// NewApplier creates an applier over a patch client and a progress store
// (used for the touch-dummy field only).
func NewApplier(kube client.KubeClient, store progress.Store, opts ...ApplierOption) *Applier {
	a := &Applier{
		client: kube,
		store:  store,
		clock:  clock.RealClock{},
		log:    log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply finalizes one reaction cycle: it sends the accumulated patch, if
// any, and otherwise sleeps out the requested delay. The sleep is
// interruptible by new-event arrival through the wakeup channel -- an event
// always takes priority over a scheduled wake-up. If the sleep fully
// elapses with nothing patched, a harmless always-changing field is patched
// once to provoke exactly one more watch event, so the next delayed handler
// gets re-evaluated even though nothing externally changed.
//
// When a patch was sent and a delay is also pending, the sleep is skipped:
// the patch itself re-triggers a cycle sooner.
func (a *Applier) Apply(
	ctx context.Context,
	resource schema.GroupVersionResource,
	body object.Body,
	patch *object.Patch,
	delay time.Duration,
	hasDelay bool,
	wakeup <-chan struct{},
) error {
	tr := otel.Tracer("Apply")
	ctx, span := tr.Start(ctx, "Apply")
	defer span.End()

	patched := false
	if !patch.IsEmpty() {
		if err := a.patch(ctx, resource, body, patch.Body()); err != nil {
			return err
		}
		patch.Clear()
		patched = true
	}

	if patched || !hasDelay {
		return nil
	}

	if delay < 0 {
		delay = 0
	}
	limited := delay
	if limited > keepaliveCap {
		limited = keepaliveCap
	}

	if interrupted := a.sleep(ctx, limited, wakeup); interrupted {
		return nil
	}

	// The sleep elapsed in silence: provoke one watch event via the touch
	// field, so the due handlers get another cycle.
	touch := object.NewPatch()
	value := a.clock.Now().UTC().Format(time.RFC3339Nano)
	if err := a.store.Touch(body, touch, &value); err != nil {
		return err
	}
	if touch.IsEmpty() {
		return nil
	}
	return a.patch(ctx, resource, body, touch.Body())
}

func (a *Applier) patch(ctx context.Context, resource schema.GroupVersionResource, body object.Body, patch map[string]interface{}) error {
	namespace := object.Namespace(body)
	name := object.Name(body)
	if _, err := a.client.Patch(ctx, resource, namespace, name, patch); err != nil {
		return errors.Wrapf(err, "failed to patch %s/%s", namespace, name)
	}
	return nil
}

// sleep waits out the duration. It returns true when interrupted by a new
// event or by shutdown, false when the time fully elapsed.
func (a *Applier) sleep(ctx context.Context, d time.Duration, wakeup <-chan struct{}) bool {
	if d <= 0 {
		return false
	}
	timer := a.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C():
		return false
	case <-wakeup:
		return true
	case <-ctx.Done():
		return true
	}
}
