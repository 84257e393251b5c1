package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/kubereactor/kreactor/cause"
	"github.com/kubereactor/kreactor/client"
	"github.com/kubereactor/kreactor/finalizers"
	"github.com/kubereactor/kreactor/handling"
	"github.com/kubereactor/kreactor/internal/mocks"
	"github.com/kubereactor/kreactor/object"
	"github.com/kubereactor/kreactor/registry"
)

var (
	testGVR    = schema.GroupVersionResource{Version: "v1", Resource: "configmaps"}
	testAnchor = time.Date(2021, 2, 3, 4, 5, 6, 0, time.UTC)
)

type harness struct {
	reactor *Reactor
	mem     *memory
	kube    *mocks.MockKubeClient
	clock   *clocktesting.FakeClock
	patches *[]map[string]interface{}
}

// newHarness wires a reactor over mocked clients, recording every patch the
// cycle sends out. The fake clock keeps all sleeps inert.
func newHarness(t *testing.T, reg *registry.Registry, expectPatches int) *harness {
	t.Helper()
	mockCtrl := gomock.NewController(t)
	t.Cleanup(mockCtrl.Finish)

	kube := mocks.NewMockKubeClient(mockCtrl)
	watcher := mocks.NewMockWatchClient(mockCtrl)

	var patches []map[string]interface{}
	kube.EXPECT().
		Patch(gomock.Any(), testGVR, "ns", "obj", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ schema.GroupVersionResource, _, _ string, patch map[string]interface{}) (object.Body, error) {
			patches = append(patches, patch)
			return nil, nil
		}).
		Times(expectPatches)

	fake := clocktesting.NewFakeClock(testAnchor)
	r, err := New(reg, kube, watcher, WithClock(fake))
	require.Nil(t, err)

	return &harness{
		reactor: r,
		mem:     newMemory(types.UID("uid-1"), testGVR),
		kube:    kube,
		clock:   fake,
		patches: &patches,
	}
}

// waitForSleep blocks until something is waiting on the fake clock.
func waitForSleep(t *testing.T, fake *clocktesting.FakeClock) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !fake.HasWaiters() {
		if time.Now().After(deadline) {
			t.Fatal("nothing ever went to sleep on the clock")
		}
		time.Sleep(time.Millisecond)
	}
}

func testBody(mutate ...func(object.Body)) object.Body {
	body := object.Body{
		"metadata": map[string]interface{}{
			"namespace": "ns",
			"name":      "obj",
			"uid":       "uid-1",
		},
		"spec": map[string]interface{}{"field": "value"},
	}
	for _, fn := range mutate {
		fn(body)
	}
	return body
}

func deleting(body object.Body) {
	object.SetNestedField(body, "2021-02-03T04:05:06Z", "metadata", "deletionTimestamp")
}

func blocked(body object.Body) {
	object.SetNestedField(body, []interface{}{finalizers.Finalizer}, "metadata", "finalizers")
}

func TestProcessEventCreateCycle(t *testing.T) {
	reg := registry.New()
	invoked := 0
	require.Nil(t, reg.RegisterChanging(testGVR, &registry.Handler{
		ID:     "on-create",
		Reason: registry.ReasonOf(cause.Create),
		Fn: func(ctx context.Context, req registry.Request) (interface{}, error) {
			invoked++
			assert.Equal(t, cause.Create, req.Reason)
			req.Patch.Set("made-by-handler", "spec", "note")
			return nil, nil
		},
	}))

	h := newHarness(t, reg, 1)
	err := h.reactor.processEvent(context.Background(), h.mem, client.RawEvent{
		Type: cause.EventAdded, Object: testBody(),
	})
	require.Nil(t, err)
	assert.Equal(t, 1, invoked)
	assert.True(t, h.mem.isFullyHandledOnce())

	// One single patch carries the handler's change and the new diffbase.
	sent := (*h.patches)[0]
	assert.Equal(t, "made-by-handler", object.NestedString(sent, "spec", "note"))
	annotations := object.NestedMap(sent, "metadata", "annotations")
	require.NotNil(t, annotations)
	assert.Contains(t, annotations, "kreactor.dev/last-handled-configuration")
	assert.Equal(t, "yes", annotations["kreactor.dev/kopf-managed"])
}

func TestProcessEventNoopAfterHandled(t *testing.T) {
	reg := registry.New()
	invoked := 0
	require.Nil(t, reg.RegisterChanging(testGVR, &registry.Handler{
		ID:     "on-create",
		Reason: registry.ReasonOf(cause.Create),
		Fn: func(ctx context.Context, req registry.Request) (interface{}, error) {
			invoked++
			return nil, nil
		},
	}))

	h := newHarness(t, reg, 1)
	require.Nil(t, h.reactor.processEvent(context.Background(), h.mem, client.RawEvent{
		Type: cause.EventAdded, Object: testBody(),
	}))
	require.Equal(t, 1, invoked)

	// Replay the body with the stored diffbase folded in, as the API would
	// echo it back: no essential change, no handlers, no patch.
	echoed := testBody(func(body object.Body) {
		sent := (*h.patches)[0]
		object.SetNestedField(body,
			object.NestedMap(sent, "metadata", "annotations"),
			"metadata", "annotations")
	})
	require.Nil(t, h.reactor.processEvent(context.Background(), h.mem, client.RawEvent{
		Type: cause.EventModified, Object: echoed,
	}))
	assert.Equal(t, 1, invoked)
	assert.Len(t, *h.patches, 1)
}

func TestProcessEventAttachesTheFinalizerFirst(t *testing.T) {
	reg := registry.New()
	invoked := false
	require.Nil(t, reg.RegisterChanging(testGVR, &registry.Handler{
		ID:     "on-delete",
		Reason: registry.ReasonOf(cause.Delete),
		Fn: func(ctx context.Context, req registry.Request) (interface{}, error) {
			invoked = true
			return nil, nil
		},
	}))

	h := newHarness(t, reg, 1)
	require.Nil(t, h.reactor.processEvent(context.Background(), h.mem, client.RawEvent{
		Type: cause.EventAdded, Object: testBody(),
	}))

	// The blocking patch goes out alone; no handler runs in this cycle.
	assert.False(t, invoked)
	sent := (*h.patches)[0]
	list, found, err := object.NestedField(sent, "metadata", "finalizers")
	require.Nil(t, err)
	require.True(t, found)
	assert.Equal(t, []interface{}{finalizers.Finalizer}, list)
}

func TestProcessEventDeleteReleasesTheFinalizer(t *testing.T) {
	reg := registry.New()
	require.Nil(t, reg.RegisterChanging(testGVR, &registry.Handler{
		ID:     "on-delete",
		Reason: registry.ReasonOf(cause.Delete),
		Fn: func(ctx context.Context, req registry.Request) (interface{}, error) {
			assert.Equal(t, cause.Delete, req.Reason)
			return nil, nil
		},
	}))

	h := newHarness(t, reg, 1)
	require.Nil(t, h.reactor.processEvent(context.Background(), h.mem, client.RawEvent{
		Type: cause.EventModified, Object: testBody(deleting, blocked),
	}))

	// The deletion handlers are done: the finalizer list is emptied, so the
	// API can let the object go.
	sent := (*h.patches)[0]
	list, found, err := object.NestedField(sent, "metadata", "finalizers")
	require.Nil(t, err)
	require.True(t, found)
	assert.Empty(t, list)
}

func TestProcessEventFree(t *testing.T) {
	reg := registry.New()
	require.Nil(t, reg.RegisterChanging(testGVR, &registry.Handler{
		ID:     "on-delete",
		Reason: registry.ReasonOf(cause.Delete),
		Fn: func(ctx context.Context, req registry.Request) (interface{}, error) {
			t.Fatal("no handler may run on a released object")
			return nil, nil
		},
	}))

	// Marked for deletion, not held by our finalizer: nothing to do.
	h := newHarness(t, reg, 0)
	require.Nil(t, h.reactor.processEvent(context.Background(), h.mem, client.RawEvent{
		Type: cause.EventModified, Object: testBody(deleting),
	}))
	assert.True(t, h.mem.isFullyHandledOnce())
}

func TestProcessEventGone(t *testing.T) {
	h := newHarness(t, registry.New(), 0)
	err := h.reactor.processEvent(context.Background(), h.mem, client.RawEvent{
		Type: cause.EventDeleted, Object: testBody(),
	})
	assert.Equal(t, errObjectGone, err)
}

func TestProcessEventRetryPersistsProgress(t *testing.T) {
	reg := registry.New()
	require.Nil(t, reg.RegisterChanging(testGVR, &registry.Handler{
		ID:     "flaky",
		Reason: registry.ReasonOf(cause.Create),
		Fn: func(ctx context.Context, req registry.Request) (interface{}, error) {
			return nil, handling.NewTemporaryError(assert.AnError, 30*time.Second)
		},
	}))

	h := newHarness(t, reg, 1)
	require.Nil(t, h.reactor.processEvent(context.Background(), h.mem, client.RawEvent{
		Type: cause.EventAdded, Object: testBody(),
	}))

	// The failure is not fatal to the cycle: the retry state is persisted
	// on the object, and the episode stays open.
	assert.False(t, h.mem.isFullyHandledOnce())
	sent := (*h.patches)[0]
	annotations := object.NestedMap(sent, "metadata", "annotations")
	require.Contains(t, annotations, "kreactor.dev/flaky")
	assert.NotContains(t, annotations, "kreactor.dev/last-handled-configuration")
}

func TestProcessEventRetryWakesUpAfterTheDelay(t *testing.T) {
	reg := registry.New()
	invoked := 0
	require.Nil(t, reg.RegisterChanging(testGVR, &registry.Handler{
		ID:     "flaky",
		Reason: registry.ReasonOf(cause.Create),
		Fn: func(ctx context.Context, req registry.Request) (interface{}, error) {
			invoked++
			return nil, handling.NewTemporaryError(assert.AnError, 30*time.Second)
		},
	}))

	h := newHarness(t, reg, 2)
	require.Nil(t, h.reactor.processEvent(context.Background(), h.mem, client.RawEvent{
		Type: cause.EventAdded, Object: testBody(),
	}))
	require.Equal(t, 1, invoked)

	// The API echoes the patched object back. The retry state it carries is
	// unchanged, so no patch goes out; the cycle waits out the delay, and
	// the silent elapse ends with a touch patch to provoke a fresh event.
	echoed := testBody(func(body object.Body) {
		sent := (*h.patches)[0]
		object.SetNestedField(body,
			object.NestedMap(sent, "metadata", "annotations"),
			"metadata", "annotations")
	})
	done := make(chan error, 1)
	go func() {
		done <- h.reactor.processEvent(context.Background(), h.mem, client.RawEvent{
			Type: cause.EventModified, Object: echoed,
		})
	}()
	waitForSleep(t, h.clock)
	h.clock.Step(31 * time.Second)
	require.Nil(t, <-done)

	assert.Equal(t, 1, invoked)
	touch := (*h.patches)[1]
	annotations := object.NestedMap(touch, "metadata", "annotations")
	require.NotNil(t, annotations)
	assert.Contains(t, annotations, "kreactor.dev/touch-dummy")
}

func TestWorkerSleepIgnoresStaleWakeups(t *testing.T) {
	h := newHarness(t, registry.New(), 0)

	// One event arrives and is taken for processing, as the worker does it.
	h.mem.events <- client.RawEvent{Type: cause.EventAdded, Object: testBody()}
	h.mem.signalWakeup()
	<-h.mem.events
	h.mem.drainWakeup()

	// The consumed event's token must not cut the next sleep short: no
	// newer event exists to supersede anything.
	done := make(chan bool, 1)
	go func() {
		done <- h.reactor.throttleSleep(context.Background(), h.mem, 30*time.Second)
	}()
	waitForSleep(t, h.clock)
	h.clock.Step(30 * time.Second)
	assert.False(t, <-done)

	// A genuinely new arrival still interrupts it.
	go func() {
		done <- h.reactor.throttleSleep(context.Background(), h.mem, 30*time.Second)
	}()
	waitForSleep(t, h.clock)
	h.mem.signalWakeup()
	assert.True(t, <-done)
}

func TestProcessEventResumeLayering(t *testing.T) {
	reg := registry.New()
	var seen []string
	require.Nil(t, reg.RegisterChanging(testGVR, &registry.Handler{
		ID:     "on-resume",
		Reason: registry.ReasonOf(cause.Resume),
		Fn: func(ctx context.Context, req registry.Request) (interface{}, error) {
			seen = append(seen, "on-resume")
			return nil, nil
		},
	}))

	h := newHarness(t, reg, 1)
	h.mem.setNoticedByListing()

	require.Nil(t, h.reactor.processEvent(context.Background(), h.mem, client.RawEvent{
		Type: cause.EventAdded, Object: testBody(),
	}))
	assert.Equal(t, []string{"on-resume"}, seen)

	// Once fully handled, the layering is off: a no-change event does not
	// re-trigger the resume handlers.
	require.Nil(t, h.reactor.processEvent(context.Background(), h.mem, client.RawEvent{
		Type: cause.EventModified, Object: testBody(func(body object.Body) {
			sent := (*h.patches)[0]
			object.SetNestedField(body,
				object.NestedMap(sent, "metadata", "annotations"),
				"metadata", "annotations")
		}),
	}))
	assert.Equal(t, []string{"on-resume"}, seen)
}
