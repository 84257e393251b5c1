// Package finalizers manages the operator's finalizer on watched objects.
// The finalizer blocks physical deletion while deletion handlers or daemons
// still have pending work.
package finalizers

import (
	"time"

	"github.com/kubereactor/kreactor/object"
)

// Finalizer is the default finalizer token written to metadata.finalizers.
const Finalizer = "kreactor.dev/kreactor-finalizer"

// HasDeletionTimestamp checks if the object is marked for deletion. An
// empty-string or unparsable timestamp is treated as "not deleting": some
// API serializations emit an empty or null timestamp that must not be
// confused with a real one.
func HasDeletionTimestamp(body object.Body) bool {
	raw := object.DeletionTimestamp(body)
	if raw == "" {
		return false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return !ts.IsZero()
}

// IsPresent checks if the given finalizer is on the object.
func IsPresent(body object.Body, finalizer string) bool {
	for _, f := range object.Finalizers(body) {
		if f == finalizer {
			return true
		}
	}
	return false
}

// IsDeletionBlocked checks if the object is marked for deletion but blocked
// by our finalizer.
func IsDeletionBlocked(body object.Body, finalizer string) bool {
	return HasDeletionTimestamp(body) && IsPresent(body, finalizer)
}

// Block adds the finalizer through the patch. Merge patches replace list
// fields wholesale, so the full new list is written.
func Block(body object.Body, finalizer string, patch *object.Patch) {
	if IsPresent(body, finalizer) {
		return
	}
	current := object.Finalizers(body)
	updated := make([]interface{}, 0, len(current)+1)
	for _, f := range current {
		updated = append(updated, f)
	}
	updated = append(updated, finalizer)
	patch.Set(updated, "metadata", "finalizers")
}

// Allow removes the finalizer through the patch, releasing the object for
// physical deletion.
func Allow(body object.Body, finalizer string, patch *object.Patch) {
	if !IsPresent(body, finalizer) {
		return
	}
	current := object.Finalizers(body)
	updated := make([]interface{}, 0, len(current))
	for _, f := range current {
		if f != finalizer {
			updated = append(updated, f)
		}
	}
	patch.Set(updated, "metadata", "finalizers")
}
