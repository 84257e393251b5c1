package peering

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/kubereactor/kreactor/client"
	"github.com/kubereactor/kreactor/object"
)

var log = ctrl.Log.WithName("peering")

// Monitor keeps this instance's heartbeat fresh in the shared sync object
// and freezes processing while a higher-priority peer is alive.
type Monitor struct {
	client    client.KubeClient
	resource  schema.GroupVersionResource
	namespace string
	name      string
	clock     clock.Clock
	log       logr.Logger

	own Peer

	mu     sync.Mutex
	paused bool
	pauses chan bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithID overrides the generated peer id.
func WithID(id string) MonitorOption {
	return func(m *Monitor) { m.own.ID = id }
}

// WithPriority sets this instance's priority.
func WithPriority(priority int) MonitorOption {
	return func(m *Monitor) { m.own.Priority = priority }
}

// WithLifetime overrides the heartbeat lifetime.
func WithLifetime(lifetime time.Duration) MonitorOption {
	return func(m *Monitor) { m.own.Lifetime = lifetime }
}

// WithPeering selects the sync object: cluster-scoped when the namespace is
// empty, namespaced otherwise.
func WithPeering(namespace, name string) MonitorOption {
	return func(m *Monitor) {
		m.namespace = namespace
		m.name = name
		if namespace == "" {
			m.resource = ClusterResource
		} else {
			m.resource = NamespacedResource
		}
	}
}

// WithMonitorClock overrides the clock, for tests.
func WithMonitorClock(c clock.Clock) MonitorOption {
	return func(m *Monitor) { m.clock = c }
}

// NewMonitor creates a peering monitor.
func NewMonitor(kube client.KubeClient, opts ...MonitorOption) (*Monitor, error) {
	if kube == nil {
		return nil, errors.New("a KubeClient must be provided to the peering monitor")
	}
	m := &Monitor{
		client:   kube,
		resource: ClusterResource,
		name:     DefaultName,
		clock:    clock.RealClock{},
		log:      log,
		own: Peer{
			ID:       uuid.New().String(),
			Lifetime: DefaultLifetime,
		},
		pauses: make(chan bool, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.own.Namespace = m.namespace
	return m, nil
}

// Resource returns the sync object's kind, for the orchestrator to watch.
func (m *Monitor) Resource() (schema.GroupVersionResource, string, string) {
	return m.resource, m.namespace, m.name
}

// Paused reports whether a higher-priority peer currently owns processing.
func (m *Monitor) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Pauses delivers pause-state transitions, coalesced to the latest value.
func (m *Monitor) Pauses() <-chan bool {
	return m.pauses
}

func (m *Monitor) setPaused(paused bool) {
	m.mu.Lock()
	changed := m.paused != paused
	m.paused = paused
	m.mu.Unlock()
	if !changed {
		return
	}
	// Coalesce: drop a stale undelivered value, keep only the latest.
	select {
	case <-m.pauses:
	default:
	}
	m.pauses <- paused
}

// Keepalive refreshes this instance's heartbeat slightly more often than
// its lifetime would require, guaranteeing at least one refresh before any
// observer could consider it dead. On shutdown it departs explicitly
// instead of merely going silent.
func (m *Monitor) Keepalive(ctx context.Context) error {
	interval := m.own.Lifetime * 9 / 10
	for {
		if err := m.beat(ctx); err != nil {
			m.log.Error(err, "failed to refresh the peering heartbeat")
		}
		timer := m.clock.NewTimer(interval)
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			return m.Depart(context.Background())
		}
	}
}

func (m *Monitor) beat(ctx context.Context) error {
	peer := m.own
	peer.Lastseen = m.clock.Now()
	patch := map[string]interface{}{
		"status": map[string]interface{}{peer.ID: peer.Encode()},
	}
	_, err := m.client.Patch(ctx, m.resource, m.namespace, m.name, patch)
	return err
}

// Depart writes an entry with a zero lifetime, which observers immediately
// treat as dead, rather than waiting for the deadline.
func (m *Monitor) Depart(ctx context.Context) error {
	peer := m.own
	peer.Lastseen = m.clock.Now()
	peer.Lifetime = 0
	patch := map[string]interface{}{
		"status": map[string]interface{}{peer.ID: peer.Encode()},
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := m.client.Patch(ctx, m.resource, m.namespace, m.name, patch)
	return errors.Wrap(err, "failed to depart from the peering")
}

// Process reacts to an update of the shared sync object, own or observed:
// dead peers are pruned, and the pause flag is recomputed from the
// priorities of the live ones.
func (m *Monitor) Process(ctx context.Context, body object.Body) error {
	now := m.clock.Now()
	status := object.NestedMap(body, "status")

	prune := map[string]interface{}{}
	var prioPeers, samePeers []*Peer
	for id, raw := range status {
		if raw == nil || id == m.own.ID {
			continue
		}
		peer, err := DecodePeer(id, raw)
		if err != nil {
			m.log.Error(err, "ignoring an unparsable peer", "peer", id)
			continue
		}
		if peer.IsDead(now) {
			prune[id] = nil
			continue
		}
		switch {
		case peer.Priority > m.own.Priority:
			prioPeers = append(prioPeers, peer)
		case peer.Priority == m.own.Priority:
			samePeers = append(samePeers, peer)
		}
	}

	if len(prune) > 0 {
		patch := map[string]interface{}{"status": prune}
		if _, err := m.client.Patch(ctx, m.resource, m.namespace, m.name, patch); err != nil {
			return errors.Wrap(err, "failed to prune the dead peers")
		}
	}

	for _, peer := range samePeers {
		// Ambiguous configuration, not auto-resolved: same priority,
		// both instances keep processing.
		m.log.Info("another peer is running with the same priority", "peer", peer.ID, "priority", peer.Priority)
	}

	if len(prioPeers) > 0 {
		m.log.Info("pausing: peers with higher priority are active", "count", len(prioPeers))
		m.setPaused(true)
	} else {
		if m.Paused() {
			m.log.Info("resuming: no higher-priority peers remain")
		}
		m.setPaused(false)
	}
	return nil
}

// Freeze registers an arbitrary peer entry with a finite lifetime, for the
// CLI verb that pauses running operators from outside.
func Freeze(ctx context.Context, kube client.KubeClient, resource schema.GroupVersionResource, namespace, name, id string, priority int, lifetime time.Duration) error {
	peer := Peer{ID: id, Namespace: namespace, Priority: priority, Lastseen: time.Now(), Lifetime: lifetime}
	patch := map[string]interface{}{
		"status": map[string]interface{}{id: peer.Encode()},
	}
	_, err := kube.Patch(ctx, resource, namespace, name, patch)
	return errors.Wrap(err, "failed to freeze")
}

// Resume removes a peer entry, for the CLI verb that undoes Freeze.
func Resume(ctx context.Context, kube client.KubeClient, resource schema.GroupVersionResource, namespace, name, id string) error {
	patch := map[string]interface{}{
		"status": map[string]interface{}{id: nil},
	}
	_, err := kube.Patch(ctx, resource, namespace, name, patch)
	return errors.Wrap(err, "failed to resume")
}
