package reactor

import (
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"

	"github.com/kubereactor/kreactor/client"
	"github.com/kubereactor/kreactor/object"
	"github.com/kubereactor/kreactor/registry"
	"github.com/kubereactor/kreactor/throttle"
)

// memory is the process-local recollection of one object: its latest body,
// the lifecycle flags behind the RESUME classification, the idle anchor for
// idle-gated timers, the error throttler, and the user memo shared by all
// of the object's handlers. It is created on the first event and dropped
// when the object is gone.
type memory struct {
	uid      types.UID
	resource schema.GroupVersionResource

	// events feeds the object's single worker; wakeup interrupts its
	// inter-cycle sleeps when something new arrives.
	events chan client.RawEvent
	wakeup chan struct{}

	// throttler and memo are touched by the worker only.
	throttler *throttle.Throttler
	memo      map[string]interface{}

	mu               sync.Mutex
	body             object.Body
	noticedByListing bool
	fullyHandledOnce bool
	idleReset        time.Time
	forever          map[string]bool
}

func newMemory(uid types.UID, resource schema.GroupVersionResource) *memory {
	return &memory{
		uid:       uid,
		resource:  resource,
		events:    make(chan client.RawEvent, 128),
		wakeup:    make(chan struct{}, 1),
		throttler: throttle.New(0, 0),
		memo:      map[string]interface{}{},
		forever:   map[string]bool{},
	}
}

func (m *memory) setBody(body object.Body) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body = body
}

// getBody is handed to daemons, which read the live body from their own
// goroutines while the worker keeps it fresh.
func (m *memory) getBody() object.Body {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.body
}

func (m *memory) setNoticedByListing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noticedByListing = true
}

func (m *memory) isNoticedByListing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.noticedByListing
}

func (m *memory) setFullyHandledOnce() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fullyHandledOnce = true
}

func (m *memory) isFullyHandledOnce() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fullyHandledOnce
}

// bumpIdle moves the idle anchor: an essential change was just observed, so
// idle-gated timers restart their waiting.
func (m *memory) bumpIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idleReset = now
}

func (m *memory) idleAnchor() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idleReset
}

// markForever records a daemon's voluntary exit: it is not respawned for
// this object until the mark is lifted.
func (m *memory) markForever(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forever[id] = true
}

func (m *memory) clearForever(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.forever, id)
}

func (m *memory) clearAllForever() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forever = map[string]bool{}
}

// spawnable filters the matching spawning handlers down to the ones not
// marked as forever-stopped.
func (m *memory) spawnable(matching []*registry.Handler) []*registry.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*registry.Handler
	for _, h := range matching {
		if !m.forever[h.ID] {
			out = append(out, h)
		}
	}
	return out
}

// signalWakeup interrupts the worker's current sleep, if any. The channel
// holds at most one pending signal; extra signals coalesce.
func (m *memory) signalWakeup() {
	select {
	case m.wakeup <- struct{}{}:
	default:
	}
}

// drainWakeup discards the token of an event that is now being processed.
// Left in place, the stale token would cut the next sleep short even though
// no newer event exists.
func (m *memory) drainWakeup() {
	select {
	case <-m.wakeup:
	default:
	}
}
