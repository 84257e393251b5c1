// Package peering arbitrates between operator instances watching the same
// objects: instances exchange liveness heartbeats through a shared sync
// object, and lower-priority instances freeze their processing while a
// higher-priority peer is alive.
package peering

import (
	"time"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Default coordinates of the shared sync object.
var (
	// NamespacedResource is the namespaced peering kind.
	NamespacedResource = schema.GroupVersionResource{
		Group: "kreactor.dev", Version: "v1", Resource: "kreactorpeerings",
	}

	// ClusterResource is the cluster-scoped peering kind.
	ClusterResource = schema.GroupVersionResource{
		Group: "kreactor.dev", Version: "v1", Resource: "clusterkreactorpeerings",
	}
)

const (
	// DefaultName is the default name of the shared sync object.
	DefaultName = "default"

	// DefaultLifetime is how long a heartbeat keeps a peer alive.
	DefaultLifetime = 60 * time.Second

	// timeLayout is ISO 8601 in UTC without a zone designator.
	timeLayout = "2006-01-02T15:04:05.000000"
)

// Peer is one operator instance's entry in the shared sync object.
type Peer struct {
	ID        string
	Namespace string
	Priority  int
	Lastseen  time.Time
	Lifetime  time.Duration
}

// Deadline is the moment after which the peer is considered dead unless it
// refreshes its heartbeat.
func (p *Peer) Deadline() time.Time {
	return p.Lastseen.Add(p.Lifetime)
}

// IsDead reports whether the peer's deadline has passed.
func (p *Peer) IsDead(now time.Time) bool {
	return !now.Before(p.Deadline())
}

// Encode converts the peer into its stored form.
func (p *Peer) Encode() map[string]interface{} {
	out := map[string]interface{}{
		"priority": p.Priority,
		"lastseen": p.Lastseen.UTC().Format(timeLayout),
		"lifetime": int64(p.Lifetime / time.Second),
	}
	if p.Namespace != "" {
		out["namespace"] = p.Namespace
	}
	return out
}

// DecodePeer restores a peer from its stored form.
func DecodePeer(id string, val interface{}) (*Peer, error) {
	m, ok := val.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("peer %q is of the type %T, expected map[string]interface{}", id, val)
	}
	peer := &Peer{ID: id, Lifetime: DefaultLifetime}
	if ns, ok := m["namespace"].(string); ok {
		peer.Namespace = ns
	}
	switch prio := m["priority"].(type) {
	case float64:
		peer.Priority = int(prio)
	case int64:
		peer.Priority = int(prio)
	case int:
		peer.Priority = prio
	}
	switch lifetime := m["lifetime"].(type) {
	case float64:
		peer.Lifetime = time.Duration(lifetime) * time.Second
	case int64:
		peer.Lifetime = time.Duration(lifetime) * time.Second
	case int:
		peer.Lifetime = time.Duration(lifetime) * time.Second
	}
	if lastseen, ok := m["lastseen"].(string); ok {
		t, err := time.Parse(timeLayout, lastseen)
		if err != nil {
			return nil, errors.Wrapf(err, "peer %q has an unparsable lastseen", id)
		}
		peer.Lastseen = t
	}
	return peer, nil
}
