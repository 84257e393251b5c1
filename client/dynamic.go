package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/kubereactor/kreactor/cause"
	"github.com/kubereactor/kreactor/object"
)

var log = ctrl.Log.WithName("client")

// Dynamic adapts a client-go dynamic client to the KubeClient and
// WatchClient interfaces.
type Dynamic struct {
	dyn dynamic.Interface
}

// NewDynamic wraps a dynamic client.
func NewDynamic(dyn dynamic.Interface) *Dynamic {
	return &Dynamic{dyn: dyn}
}

func (d *Dynamic) resource(gvr schema.GroupVersionResource, namespace string) dynamic.ResourceInterface {
	if namespace != "" {
		return d.dyn.Resource(gvr).Namespace(namespace)
	}
	return d.dyn.Resource(gvr)
}

// Get implements the KubeClient interface.
func (d *Dynamic) Get(ctx context.Context, gvr schema.GroupVersionResource, namespace, name string) (object.Body, error) {
	u, err := d.resource(gvr, namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s/%s", namespace, name)
	}
	return u.Object, nil
}

// Patch implements the KubeClient interface. A 404 is silently swallowed:
// the object is already gone and there is nothing to patch.
func (d *Dynamic) Patch(ctx context.Context, gvr schema.GroupVersionResource, namespace, name string, patch map[string]interface{}) (object.Body, error) {
	data, err := json.Marshal(patch)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode the patch")
	}
	u, err := d.resource(gvr, namespace).Patch(ctx, name, types.MergePatchType, data, metav1.PatchOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to patch %s/%s", namespace, name)
	}
	return u.Object, nil
}

// Watch implements the WatchClient interface: it lists the current objects
// first, emitting them as synthetic events, then follows the watch stream
// from the listing's resource version, reconnecting on stream exhaustion.
func (d *Dynamic) Watch(ctx context.Context, gvr schema.GroupVersionResource, namespace string) (<-chan RawEvent, error) {
	out := make(chan RawEvent)

	listing, err := d.resource(gvr, namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", gvr.Resource)
	}

	go func() {
		defer close(out)

		for i := range listing.Items {
			select {
			case out <- RawEvent{Object: listing.Items[i].Object}:
			case <-ctx.Done():
				return
			}
		}

		rv := listing.GetResourceVersion()
		for ctx.Err() == nil {
			w, err := d.resource(gvr, namespace).Watch(ctx, metav1.ListOptions{ResourceVersion: rv})
			if err != nil {
				log.Error(err, "failed to start a watch stream, retrying", "resource", gvr.Resource)
				rv = ""
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
				}
				continue
			}
			rv = d.pump(ctx, w, out, rv)
		}
	}()

	return out, nil
}

func (d *Dynamic) pump(ctx context.Context, w watch.Interface, out chan<- RawEvent, rv string) string {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return rv
		case ev, ok := <-w.ResultChan():
			if !ok {
				return rv
			}
			body, ok := toBody(ev)
			if !ok {
				continue
			}
			if version := object.NestedString(body, "metadata", "resourceVersion"); version != "" {
				rv = version
			}
			select {
			case out <- RawEvent{Type: cause.EventType(ev.Type), Object: body}:
			case <-ctx.Done():
				return rv
			}
		}
	}
}

func toBody(ev watch.Event) (object.Body, bool) {
	switch ev.Type {
	case watch.Added, watch.Modified, watch.Deleted:
		u, ok := ev.Object.(interface{ UnstructuredContent() map[string]interface{} })
		if !ok {
			return nil, false
		}
		return u.UnstructuredContent(), true
	default:
		return nil, false
	}
}
