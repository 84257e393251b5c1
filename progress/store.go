package progress

import (
	"github.com/kubereactor/kreactor/diff"
	"github.com/kubereactor/kreactor/object"
)

// Store is the persistence contract for per-handler progress records.
type Store interface {
	// Fetch returns the stored record for a handler key, or nil if absent.
	Fetch(key string, body object.Body) (*Record, error)

	// Store writes the record for a handler key into the pending patch.
	Store(key string, rec *Record, body object.Body, patch *object.Patch) error

	// Purge removes the stored record, nulling out only the keys that
	// actually exist in the body or in the already-pending patch. A null
	// value is how a merge patch requests field deletion.
	Purge(key string, body object.Body, patch *object.Patch) error

	// Touch writes a dummy always-changing field to provoke exactly one
	// more watch event, so delayed handlers get re-evaluated even though
	// nothing externally changed. A nil value removes the dummy field.
	Touch(body object.Body, patch *object.Patch, value *string) error

	// Clear strips this store's own fields out of an essence, so the
	// framework's own bookkeeping never triggers update causes.
	Clear(essence diff.Essence) diff.Essence

	// Prefixes returns the annotation prefixes managed by this store, for
	// essence stripping. Empty for non-annotation backends.
	Prefixes() []string
}

// DiffbaseStore is the persistence contract for the last-handled essence.
type DiffbaseStore interface {
	// FetchEssence returns the recorded diffbase, or nil if none yet.
	FetchEssence(body object.Body) (diff.Essence, error)

	// StoreEssence records the essence as the new diffbase.
	StoreEssence(essence diff.Essence, body object.Body, patch *object.Patch) error

	// Prefixes returns the annotation prefixes managed by this store.
	Prefixes() []string
}
