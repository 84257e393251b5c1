// Package reactor is the orchestrator: it pumps watch events from the API,
// routes them to one worker per object, classifies each event into a cause,
// runs the matching handlers through the retry state machine, manages the
// daemon lifecycles, and folds everything back into at most one patch per
// cycle. Peering, when enabled, can freeze the whole loop in favor of a
// higher-priority operator instance.
package reactor

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/kubereactor/kreactor/cause"
	"github.com/kubereactor/kreactor/client"
	"github.com/kubereactor/kreactor/daemons"
	"github.com/kubereactor/kreactor/effects"
	"github.com/kubereactor/kreactor/execution"
	"github.com/kubereactor/kreactor/finalizers"
	"github.com/kubereactor/kreactor/object"
	"github.com/kubereactor/kreactor/peering"
	"github.com/kubereactor/kreactor/progress"
	"github.com/kubereactor/kreactor/registry"
	"github.com/kubereactor/kreactor/telemetry"
)

var log = ctrl.Log.WithName("reactor")

// Reactor drives the whole event-to-cause-to-handlers pipeline for every
// registered resource.
type Reactor struct {
	registry *registry.Registry
	kube     client.KubeClient
	watcher  client.WatchClient

	finalizer string
	namespace string
	monitor   *peering.Monitor

	executor *execution.Executor
	store    progress.Store
	diffbase progress.DiffbaseStore
	applier  *effects.Applier
	daemons  *daemons.Manager

	clock clock.Clock
	log   logr.Logger
	instr *telemetry.Instrumentation

	mu       sync.Mutex
	runCtx   context.Context
	memories map[types.UID]*memory
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithFinalizer overrides the finalizer token written on blocked objects.
func WithFinalizer(finalizer string) Option {
	return func(r *Reactor) { r.finalizer = finalizer }
}

// WithNamespace restricts watching to one namespace; empty means
// cluster-wide.
func WithNamespace(namespace string) Option {
	return func(r *Reactor) { r.namespace = namespace }
}

// WithMonitor enables peering through the given monitor.
func WithMonitor(m *peering.Monitor) Option {
	return func(r *Reactor) { r.monitor = m }
}

// WithExecutor overrides the handler executor.
func WithExecutor(e *execution.Executor) Option {
	return func(r *Reactor) { r.executor = e }
}

// WithProgressStore overrides the per-handler progress store.
func WithProgressStore(s progress.Store) Option {
	return func(r *Reactor) { r.store = s }
}

// WithDiffbaseStore overrides the last-handled-essence store.
func WithDiffbaseStore(s progress.DiffbaseStore) Option {
	return func(r *Reactor) { r.diffbase = s }
}

// WithApplier overrides the patch applier, for tests.
func WithApplier(a *effects.Applier) Option {
	return func(r *Reactor) { r.applier = a }
}

// WithDaemonManager overrides the daemon manager, for tests.
func WithDaemonManager(m *daemons.Manager) Option {
	return func(r *Reactor) { r.daemons = m }
}

// WithClock overrides the clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(r *Reactor) { r.clock = c }
}

// New creates a reactor over a handler registry and the API access
// interfaces. Collaborators not overridden by options are constructed with
// their defaults.
func New(reg *registry.Registry, kube client.KubeClient, watcher client.WatchClient, opts ...Option) (*Reactor, error) {
	if reg == nil {
		return nil, errors.New("a handler registry must be provided")
	}
	if kube == nil {
		return nil, errors.New("a kube client must be provided")
	}
	if watcher == nil {
		return nil, errors.New("a watch client must be provided")
	}
	r := &Reactor{
		registry:  reg,
		kube:      kube,
		watcher:   watcher,
		finalizer: finalizers.Finalizer,
		clock:     clock.RealClock{},
		log:       log,
		memories:  map[types.UID]*memory{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.instr = telemetry.NewInstrumentation("reactor", r.log)
	if r.store == nil {
		r.store = progress.NewSmartStore()
	}
	if r.diffbase == nil {
		r.diffbase = progress.NewSmartDiffbaseStore()
	}
	if r.executor == nil {
		r.executor = execution.NewExecutor(execution.WithClock(r.clock))
	}
	if r.applier == nil {
		r.applier = effects.NewApplier(kube, r.store, effects.WithClock(r.clock))
	}
	if r.daemons == nil {
		r.daemons = daemons.NewManager(r.executor, r.store, daemons.WithClock(r.clock))
	}
	return r, nil
}

// Run blocks until the context is cancelled or a root task fails. Startup
// activity handlers run first and a mandatory failure halts the operator
// before any watching begins. On the way out, all daemons are stopped and
// the cleanup activity handlers run.
func (r *Reactor) Run(ctx context.Context) error {
	r.mu.Lock()
	r.runCtx = ctx
	r.mu.Unlock()

	if err := r.runActivity(ctx, registry.ActivityStartup); err != nil {
		return errors.Wrap(err, "startup failed")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, gvr := range r.registry.Resources() {
		gvr := gvr
		g.Go(func() error { return r.pumpResource(gctx, gvr) })
	}
	if r.monitor != nil {
		g.Go(func() error { return r.monitor.Keepalive(gctx) })
		g.Go(func() error { return r.pumpPeering(gctx) })
		g.Go(func() error { r.observePauses(gctx); return nil })
	}
	err := g.Wait()

	r.daemons.StopAll(daemons.StopReasonOperatorExiting)
	if cerr := r.runActivity(context.Background(), registry.ActivityCleanup); cerr != nil {
		r.log.Error(cerr, "cleanup failed")
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runActivity invokes the handlers of one non-resource segment. Optional
// handler failures are logged and swallowed; mandatory ones aggregate into
// the returned error.
func (r *Reactor) runActivity(ctx context.Context, activity registry.Activity) error {
	var failures error
	for _, h := range r.registry.ResolveActivity(activity) {
		logger := r.log.WithValues("activity", string(activity), "handler", h.ID)
		req := registry.Request{
			Logger:  logger,
			Memo:    map[string]interface{}{},
			Param:   h.Param,
			Subrefs: &registry.SubrefSink{},
		}
		if _, err := h.Fn(ctx, req); err != nil {
			if h.Optional {
				logger.Error(err, "optional activity handler failed")
				continue
			}
			failures = multierror.Append(failures, errors.Wrapf(err, "activity handler %q failed", h.ID))
		}
	}
	return failures
}

// pumpResource feeds one resource's watch stream into the per-object
// workers. Reconnects are the watch client's concern; the stream ends only
// with the context.
func (r *Reactor) pumpResource(ctx context.Context, gvr schema.GroupVersionResource) error {
	ch, err := r.watcher.Watch(ctx, gvr, r.namespace)
	if err != nil {
		return errors.Wrapf(err, "failed to watch %s", gvr.Resource)
	}
	for ev := range ch {
		r.dispatch(ctx, gvr, ev)
	}
	return ctx.Err()
}

func (r *Reactor) dispatch(ctx context.Context, gvr schema.GroupVersionResource, ev client.RawEvent) {
	uid := object.UID(ev.Object)
	if uid == "" {
		r.log.V(1).Info("skipping an object with no uid", "resource", gvr.Resource)
		return
	}
	mem := r.ensureMemory(uid, gvr)
	if ev.Type == "" {
		// A synthetic event from the initial listing: the object
		// pre-existed this operator process.
		mem.setNoticedByListing()
	}
	select {
	case mem.events <- ev:
		mem.signalWakeup()
	case <-ctx.Done():
	}
}

func (r *Reactor) ensureMemory(uid types.UID, gvr schema.GroupVersionResource) *memory {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem, ok := r.memories[uid]
	if !ok {
		mem = newMemory(uid, gvr)
		mem.bumpIdle(r.clock.Now())
		r.memories[uid] = mem
		runCtx := r.runCtx
		if runCtx == nil {
			runCtx = context.Background()
		}
		go r.work(runCtx, mem)
	}
	return mem
}

func (r *Reactor) dropMemory(uid types.UID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.memories, uid)
}

func (r *Reactor) runContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runCtx == nil {
		return context.Background()
	}
	return r.runCtx
}

// work is the single processing task of one object: events in, cycles out,
// strictly sequentially. Two cycles of the same object never overlap.
func (r *Reactor) work(ctx context.Context, mem *memory) {
	for {
		var ev client.RawEvent
		select {
		case ev = <-mem.events:
		case <-ctx.Done():
			return
		}

		// Collapse a backlog down to the newest event: every event carries
		// a full body snapshot, so the intermediate ones are disposable.
		drained := false
		for !drained {
			select {
			case next := <-mem.events:
				ev = next
			default:
				drained = true
			}
		}
		mem.drainWakeup()

		if r.monitor != nil && r.monitor.Paused() {
			// Frozen: remember the body for the replay on resume, react to
			// nothing.
			mem.setBody(ev.Object)
			continue
		}

		for {
			err := r.processEvent(ctx, mem, ev)
			if err == nil {
				mem.throttler.Success()
				break
			}
			if errors.Is(err, errObjectGone) {
				r.dropMemory(mem.uid)
				return
			}
			if ctx.Err() != nil {
				return
			}
			delay := mem.throttler.Failure()
			r.log.Error(err, "processing failed; will retry",
				"resource", mem.resource.Resource, "uid", string(mem.uid), "delay", delay)
			if interrupted := r.throttleSleep(ctx, mem, delay); interrupted {
				// A newer event supersedes the failed one.
				break
			}
		}
	}
}

func (r *Reactor) throttleSleep(ctx context.Context, mem *memory, delay time.Duration) bool {
	if delay <= 0 {
		return false
	}
	timer := r.clock.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C():
		return false
	case <-mem.wakeup:
		return true
	case <-ctx.Done():
		return true
	}
}

// pumpPeering watches the shared sync object and feeds its updates to the
// monitor, which recomputes the pause flag.
func (r *Reactor) pumpPeering(ctx context.Context) error {
	gvr, namespace, name := r.monitor.Resource()
	ch, err := r.watcher.Watch(ctx, gvr, namespace)
	if err != nil {
		return errors.Wrap(err, "failed to watch the peering objects")
	}
	for ev := range ch {
		if object.Name(ev.Object) != name || ev.Type == cause.EventDeleted {
			continue
		}
		if perr := r.monitor.Process(ctx, ev.Object); perr != nil {
			r.log.Error(perr, "failed to process a peering update")
		}
	}
	return ctx.Err()
}

// observePauses reacts to pause-state transitions: freezing kills all
// daemons, resuming lifts the forever-stopped marks and replays the
// remembered bodies so everything respawns and re-evaluates.
func (r *Reactor) observePauses(ctx context.Context) {
	for {
		select {
		case paused := <-r.monitor.Pauses():
			if paused {
				r.log.Info("freezing: stopping all daemons while paused")
				r.daemons.StopAll(daemons.StopReasonOperatorPausing)
			} else {
				r.log.Info("resuming: replaying the remembered objects")
				r.replayAll()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reactor) replayAll() {
	r.mu.Lock()
	mems := make([]*memory, 0, len(r.memories))
	for _, mem := range r.memories {
		mems = append(mems, mem)
	}
	r.mu.Unlock()

	for _, mem := range mems {
		mem.clearAllForever()
		body := mem.getBody()
		if body == nil {
			continue
		}
		select {
		case mem.events <- client.RawEvent{Type: cause.EventModified, Object: body}:
			mem.signalWakeup()
		default:
			// The worker has a backlog anyway; it will see a fresh body.
		}
	}
}
