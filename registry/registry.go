package registry

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/kubereactor/kreactor/cause"
	"github.com/kubereactor/kreactor/diff"
	"github.com/kubereactor/kreactor/object"
)

// Activity identifies the non-resource handler segments.
type Activity string

const (
	ActivityStartup Activity = "startup"
	ActivityCleanup Activity = "cleanup"
)

// Registry holds all registered handlers, segmented by resource and concern.
// It is an explicit object constructed once per operator process -- there is
// no ambient global registry; tests construct a fresh one per case.
//
// The registry is read-mostly after startup registration and needs no
// locking for concurrent reads.
type Registry struct {
	changing map[schema.GroupVersionResource][]*Handler
	spawning map[schema.GroupVersionResource][]*Handler
	activity map[Activity][]*Handler
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		changing: map[schema.GroupVersionResource][]*Handler{},
		spawning: map[schema.GroupVersionResource][]*Handler{},
		activity: map[Activity][]*Handler{},
	}
}

// RegisterChanging appends a resource-changing handler, keeping the
// registration order.
func (r *Registry) RegisterChanging(gvr schema.GroupVersionResource, h *Handler) error {
	if err := validate(h); err != nil {
		return err
	}
	r.changing[gvr] = append(r.changing[gvr], h)
	return nil
}

// RegisterSpawning appends a daemon/timer handler for a resource.
func (r *Registry) RegisterSpawning(gvr schema.GroupVersionResource, h *Handler) error {
	if err := validate(h); err != nil {
		return err
	}
	r.spawning[gvr] = append(r.spawning[gvr], h)
	return nil
}

// RegisterActivity appends a non-resource handler (startup/cleanup).
func (r *Registry) RegisterActivity(activity Activity, h *Handler) error {
	if err := validate(h); err != nil {
		return err
	}
	r.activity[activity] = append(r.activity[activity], h)
	return nil
}

func validate(h *Handler) error {
	if h == nil || h.ID == "" {
		return errors.New("a handler must have a non-empty id")
	}
	if h.Fn == nil {
		return errors.Errorf("handler %q has no callback", h.ID)
	}
	return nil
}

// Resources returns every resource with at least one registered handler.
func (r *Registry) Resources() []schema.GroupVersionResource {
	seen := map[schema.GroupVersionResource]bool{}
	var out []schema.GroupVersionResource
	for gvr := range r.changing {
		if !seen[gvr] {
			seen[gvr] = true
			out = append(out, gvr)
		}
	}
	for gvr := range r.spawning {
		if !seen[gvr] {
			seen[gvr] = true
			out = append(out, gvr)
		}
	}
	return out
}

// ExtraFields returns the dotted paths of the handler-declared fields that
// live under the status subtree. Status is excluded from essences by
// default; these fields are whitelisted back in so that field handlers
// watching them can see their diffs.
func (r *Registry) ExtraFields(gvr schema.GroupVersionResource) []string {
	seen := map[string]bool{}
	var out []string
	collect := func(handlers []*Handler) {
		for _, h := range handlers {
			if len(h.Field) == 0 || h.Field[0] != "status" {
				continue
			}
			dotted := strings.Join(h.Field, ".")
			if !seen[dotted] {
				seen[dotted] = true
				out = append(out, dotted)
			}
		}
	}
	collect(r.changing[gvr])
	collect(r.spawning[gvr])
	return out
}

// Resolve filters the resource-changing segment down to the handlers
// applicable to the given cause, in registration order. Handlers are
// deduplicated by id: the first-registered one wins.
func (r *Registry) Resolve(c *cause.ResourceCause) []*Handler {
	var out []*Handler
	seen := map[string]bool{}
	for _, h := range r.changing[c.Resource] {
		if seen[h.ID] {
			continue
		}
		if !matchReason(h, c) {
			continue
		}
		if !matchFilters(h, c.Body, c.Diff, c.OldEssence, c.NewEssence) {
			continue
		}
		seen[h.ID] = true
		out = append(out, h)
	}
	return out
}

// ResolveSpawning filters the daemon/timer segment by the object's current
// body only; daemons have no reason to match.
func (r *Registry) ResolveSpawning(gvr schema.GroupVersionResource, body object.Body) []*Handler {
	var out []*Handler
	seen := map[string]bool{}
	for _, h := range r.spawning[gvr] {
		if seen[h.ID] {
			continue
		}
		if !matchFiltersLive(h, body) {
			continue
		}
		seen[h.ID] = true
		out = append(out, h)
	}
	return out
}

// ResolveActivity returns the handlers of a non-resource activity.
func (r *Registry) ResolveActivity(activity Activity) []*Handler {
	return r.activity[activity]
}

// RequiresFinalizer decides whether the finalizer must be attached at all:
// true if any currently-matching deletion handler is mandatory, or if any
// currently-matching daemon or timer is. Daemons count because they must be
// stopped gracefully before the object is allowed to vanish. The filter
// logic is the same as in Resolve, but independent of retry state.
func (r *Registry) RequiresFinalizer(gvr schema.GroupVersionResource, body object.Body) bool {
	for _, h := range r.changing[gvr] {
		if h.Reason == nil || *h.Reason != cause.Delete || h.Optional {
			continue
		}
		if matchFiltersLive(h, body) {
			return true
		}
	}
	for _, h := range r.spawning[gvr] {
		if h.Optional {
			continue
		}
		if matchFiltersLive(h, body) {
			return true
		}
	}
	return false
}

func matchReason(h *Handler, c *cause.ResourceCause) bool {
	if h.InitialOnly && !c.Initial {
		return false
	}

	// A no-change event invokes nothing on its own; only the layered
	// RESUME classification makes handlers eligible for it.
	if c.Reason == cause.Noop {
		return c.Initial && (h.Reason == nil || *h.Reason == cause.Resume)
	}

	if h.Reason == nil {
		return true
	}
	if *h.Reason == c.Reason {
		return true
	}
	// Resume-capable handlers also fire on the layered classification.
	return *h.Reason == cause.Resume && c.Initial
}

// matchFiltersLive evaluates a handler's filters against the live body
// alone, with no change context. Spawning handlers and the finalizer demand
// check work off the object's current state only.
func matchFiltersLive(h *Handler, body object.Body) bool {
	if !matchFieldLive(h, body) {
		return false
	}
	if !matchMap(h.Labels, object.Labels(body), body) {
		return false
	}
	if !matchMap(h.Annotations, object.Annotations(body), body) {
		return false
	}
	if h.When != nil && !h.When(body) {
		return false
	}
	return true
}

// matchFieldLive checks a field filter against the body's current value at
// the declared path. A bare field filter matches on presence; Value and
// NewValue both apply to the current value; OldValue is evaluated as absent
// since there is no previous state to compare against.
func matchFieldLive(h *Handler, body object.Body) bool {
	if len(h.Field) == 0 {
		return true
	}
	val, found, err := object.NestedField(body, h.Field...)
	if err != nil {
		return false
	}
	if h.Value == nil && h.OldValue == nil && h.NewValue == nil {
		return found
	}
	if h.Value != nil && !h.Value.check(body, val, found) {
		return false
	}
	if h.NewValue != nil && !h.NewValue.check(body, val, found) {
		return false
	}
	if h.OldValue != nil && !h.OldValue.check(body, nil, false) {
		return false
	}
	return true
}

func matchFilters(h *Handler, body object.Body, d diff.Diff, old, new diff.Essence) bool {
	if !matchField(h, d, old, new) {
		return false
	}
	if !matchMap(h.Labels, object.Labels(body), body) {
		return false
	}
	if !matchMap(h.Annotations, object.Annotations(body), body) {
		return false
	}
	if h.When != nil && !h.When(body) {
		return false
	}
	return true
}

// matchField applies the two independent field match strategies: a
// diff-path prefix match, or an old/new value check under the declared
// path. Both are kept separate on purpose: a whole-subtree replacement in
// the diff carries the ancestor path only, and is caught by the second
// strategy even when the first one misses.
func matchField(h *Handler, d diff.Diff, old, new diff.Essence) bool {
	if len(h.Field) == 0 {
		return true
	}

	if d.Matches(h.Field) && matchValues(h, old, new) {
		return true
	}

	oldVal, oldFound := old.Lookup(h.Field)
	newVal, newFound := new.Lookup(h.Field)
	if !oldFound && !newFound {
		return false
	}
	if h.Value == nil && h.OldValue == nil && h.NewValue == nil {
		return !reflect.DeepEqual(oldVal, newVal)
	}
	return matchValues(h, old, new)
}

func matchValues(h *Handler, old, new diff.Essence) bool {
	if h.Value != nil {
		val, found := new.Lookup(h.Field)
		if !h.Value.check(map[string]interface{}(new), val, found) {
			return false
		}
	}
	if h.OldValue != nil {
		val, found := old.Lookup(h.Field)
		if !h.OldValue.check(map[string]interface{}(old), val, found) {
			return false
		}
	}
	if h.NewValue != nil {
		val, found := new.Lookup(h.Field)
		if !h.NewValue.check(map[string]interface{}(new), val, found) {
			return false
		}
	}
	return true
}

func matchMap(criteria map[string]Criterion, values map[string]string, body object.Body) bool {
	for key, criterion := range criteria {
		val, found := values[key]
		var boxed interface{}
		if found {
			boxed = val
		}
		if !criterion.check(body, boxed, found) {
			return false
		}
	}
	return true
}
