// Package client defines the narrow interfaces through which the reactor
// consumes the Kubernetes API: a patch/get client and a watch-event stream.
// The heavy lifting of reconnects, pagination and resource-version
// bookkeeping stays behind these interfaces.
package client

//go:generate mockgen -destination=../internal/mocks/mock_client.go -package=mocks github.com/kubereactor/kreactor/client KubeClient,WatchClient

import (
	"context"

	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/kubereactor/kreactor/cause"
	"github.com/kubereactor/kreactor/object"
)

// RawEvent is one entry of a watch stream: the event type and a full body
// snapshot. An empty type marks synthetic events injected by the initial
// listing, which seed the RESUME classification.
type RawEvent struct {
	Type   cause.EventType
	Object object.Body
}

// KubeClient issues the API calls the reactor needs.
type KubeClient interface {
	// Get fetches the current body of an object.
	Get(ctx context.Context, resource schema.GroupVersionResource, namespace, name string) (object.Body, error)

	// Patch sends a JSON merge patch. A 404 means the object is already
	// gone and nothing is to be done: it returns (nil, nil), not an
	// error.
	Patch(ctx context.Context, resource schema.GroupVersionResource, namespace, name string, patch map[string]interface{}) (object.Body, error)
}

// WatchClient produces watch-event streams per resource and namespace. The
// events of one object are delivered in the API server's order, and a full
// relist eventually surfaces every live object at least once.
type WatchClient interface {
	Watch(ctx context.Context, resource schema.GroupVersionResource, namespace string) (<-chan RawEvent, error)
}
