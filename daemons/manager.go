package daemons

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/kubereactor/kreactor/execution"
	"github.com/kubereactor/kreactor/object"
	"github.com/kubereactor/kreactor/progress"
	"github.com/kubereactor/kreactor/registry"
)

var log = ctrl.Log.WithName("daemons")

// Env is the per-object environment the orchestrator hands to the manager:
// live-body access, immediate patching, idle tracking, and the
// forever-stopped bookkeeping. All hooks are owned by the object's single
// processing task.
type Env struct {
	Resource schema.GroupVersionResource
	UID      types.UID

	// Body returns the object's current live body.
	Body func() object.Body

	// ApplyPatch sends a patch immediately. Daemons patch per iteration
	// rather than batching: one iteration may run for an unbounded time.
	ApplyPatch func(ctx context.Context, patch *object.Patch) error

	// IdleAnchor returns the last time an essential change was observed,
	// for idle-gated timers.
	IdleAnchor func() time.Time

	// MarkForeverStopped records that a daemon exited on its own, with no
	// stop requested: it must not be respawned by future matching events.
	MarkForeverStopped func(id string)

	// ClearForeverStopped lifts the mark, on filter mismatch, so a later
	// rematch can respawn the daemon.
	ClearForeverStopped func(id string)

	Memo   map[string]interface{}
	Logger logr.Logger
}

type daemonKey struct {
	uid types.UID
	id  string
}

// Daemon is one live background task. Process-local and in-memory only.
type Daemon struct {
	handler *registry.Handler
	stopper *Stopper
	cancel  context.CancelFunc
	done    chan struct{}
	logger  logr.Logger

	mu          sync.Mutex
	cancelledAt *time.Time
	abandoned   bool
}

func (d *Daemon) isDone() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Manager owns all live daemons, keyed by (object uid, handler id). At most
// one live task exists per key at any time; a respawn can only happen after
// the previous task's entry has been removed.
type Manager struct {
	clock    clock.Clock
	executor *execution.Executor
	store    progress.Store
	log      logr.Logger

	// grace is the instant-exit window after signalling, hoping the task
	// exits on its own before anything heavier is done.
	grace time.Duration

	// poll is the re-check pacing while waiting on a cancelled task with
	// no declared cancellation timeout.
	poll time.Duration

	mu      sync.Mutex
	daemons map[daemonKey]*Daemon
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the clock, for tests.
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithGrace overrides the instant-exit window.
func WithGrace(d time.Duration) ManagerOption {
	return func(m *Manager) { m.grace = d }
}

// NewManager creates a daemon manager using the given executor for handler
// invocation and the given store for per-iteration progress persistence.
func NewManager(executor *execution.Executor, store progress.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		clock:    clock.RealClock{},
		executor: executor,
		store:    store,
		log:      log,
		grace:    500 * time.Millisecond,
		poll:     5 * time.Second,
		daemons:  map[daemonKey]*Daemon{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Running returns the ids of the live daemons of one object.
func (m *Manager) Running(uid types.UID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.daemons {
		if k.uid == uid {
			out = append(out, k.id)
		}
	}
	return out
}

// Spawn starts the daemons of the matching handlers that are not already
// running. Spawning is idempotent: a handler with a present entry is a
// no-op. The context must be the operator's long-lived run context, not the
// per-event one: daemons outlive reaction cycles.
func (m *Manager) Spawn(ctx context.Context, env Env, handlers []*registry.Handler) {
	for _, h := range handlers {
		k := daemonKey{uid: env.UID, id: h.ID}

		m.mu.Lock()
		if _, exists := m.daemons[k]; exists {
			m.mu.Unlock()
			continue
		}
		dctx, cancel := context.WithCancel(ctx)
		d := &Daemon{
			handler: h,
			stopper: NewStopper(),
			cancel:  cancel,
			done:    make(chan struct{}),
			logger:  env.Logger.WithValues("daemon", h.ID),
		}
		m.daemons[k] = d
		m.mu.Unlock()

		go m.run(dctx, k, d, env)
	}
}

// run hosts one daemon task from spawn to removal.
func (m *Manager) run(ctx context.Context, k daemonKey, d *Daemon, env Env) {
	defer close(d.done)
	defer m.removeIfCurrent(k, d)

	if h := d.handler; h.Interval != nil || h.Idle != nil {
		m.runTimer(ctx, d, env)
	} else {
		m.runDaemon(ctx, d, env)
	}

	// A self-exit with no stop requested is final for this object: only a
	// filter mismatch-then-rematch or a peering resume lifts the mark.
	if !d.stopper.IsSet() && ctx.Err() == nil {
		env.MarkForeverStopped(d.handler.ID)
		d.logger.V(1).Info("daemon exited on its own and will not be respawned")
	}
}

// removeIfCurrent removes the key's entry only if it still points to this
// daemon, so an abandoned task cannot evict its own replacement later.
func (m *Manager) removeIfCurrent(k daemonKey, d *Daemon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.daemons[k] == d {
		delete(m.daemons, k)
	}
}

// StopDaemons advances the stop escalation of every live daemon of one
// object, without blocking. It returns the shortest delay after which the
// escalation should be re-checked, and whether any daemon is still pending.
// Zero pending daemons with pending work means the object's deletion is no
// longer blocked by this manager.
func (m *Manager) StopDaemons(env Env, reason StopReason) (time.Duration, bool) {
	return m.stopSome(env.UID, reason, nil)
}

// StopMismatched stops the daemons of one object whose handlers are no
// longer in the matching set, and lifts their forever-stopped marks so a
// future rematch can respawn them.
func (m *Manager) StopMismatched(env Env, matching []*registry.Handler) (time.Duration, bool) {
	matched := map[string]bool{}
	for _, h := range matching {
		matched[h.ID] = true
	}
	for _, id := range m.Running(env.UID) {
		if !matched[id] {
			env.ClearForeverStopped(id)
		}
	}
	return m.stopSome(env.UID, StopReasonFiltersMismatch, func(id string) bool {
		return !matched[id]
	})
}

func (m *Manager) stopSome(uid types.UID, reason StopReason, selects func(id string) bool) (time.Duration, bool) {
	m.mu.Lock()
	snapshot := map[daemonKey]*Daemon{}
	for k, d := range m.daemons {
		if k.uid == uid && (selects == nil || selects(k.id)) {
			snapshot[k] = d
		}
	}
	m.mu.Unlock()

	var minDelay time.Duration
	pending := false
	for k, d := range snapshot {
		delay, alive := m.escalate(k, d, reason)
		if !alive {
			continue
		}
		if !pending || delay < minDelay {
			minDelay = delay
		}
		pending = true
	}
	return minDelay, pending
}

// escalate performs one step of the stop state machine for one daemon:
// signal, then wait out the cancellation backoff, then hard-cancel, then
// wait out the cancellation timeout, then abandon. It returns how long to
// wait before the next re-check, and whether the daemon still exists.
func (m *Manager) escalate(k daemonKey, d *Daemon, reason StopReason) (time.Duration, bool) {
	now := m.clock.Now()

	if d.isDone() {
		m.removeIfCurrent(k, d)
		return 0, false
	}

	if !d.stopper.IsSet() {
		d.stopper.Set(reason, now)
		d.logger.V(1).Info("daemon stop requested", "reason", reason.String())

		// The instant-exit window: most daemons notice the signal at
		// their next suspension point and exit within it.
		select {
		case <-d.done:
			m.removeIfCurrent(k, d)
			return 0, false
		case <-m.clock.After(m.grace):
		}
		now = m.clock.Now()
	}

	setAt, _ := d.stopper.SetAt()
	if backoff := d.handler.CancellationBackoff; backoff != nil {
		if elapsed := now.Sub(setAt); elapsed < *backoff {
			return *backoff - elapsed, true
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancelledAt == nil {
		d.cancel()
		at := now
		d.cancelledAt = &at
		d.logger.V(1).Info("daemon is force-cancelled")
		if timeout := d.handler.CancellationTimeout; timeout != nil {
			return *timeout, true
		}
		return m.poll, true
	}

	if timeout := d.handler.CancellationTimeout; timeout != nil {
		if now.Sub(*d.cancelledAt) >= *timeout {
			d.abandoned = true
			d.logger.Info("daemon did not exit in time and is orphaned; it no longer blocks, but may leak")
			m.removeIfCurrent(k, d)
			return 0, false
		}
		return *timeout - now.Sub(*d.cancelledAt), true
	}
	return m.poll, true
}

// StopAll fires off the stop sequences of every live daemon in parallel and
// returns once all of them reached a terminal state or were abandoned. This
// is the daemon-killer path, used when peering demands yielding and on
// operator shutdown.
func (m *Manager) StopAll(reason StopReason) {
	m.mu.Lock()
	snapshot := map[daemonKey]*Daemon{}
	for k, d := range m.daemons {
		snapshot[k] = d
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for k, d := range snapshot {
		wg.Add(1)
		go func(k daemonKey, d *Daemon) {
			defer wg.Done()
			for {
				delay, alive := m.escalate(k, d, reason)
				if !alive {
					return
				}
				if delay <= 0 || delay > m.poll {
					delay = m.poll
				}
				select {
				case <-d.done:
				case <-m.clock.After(delay):
				}
			}
		}(k, d)
	}
	wg.Wait()
}
