package progress

import (
	"github.com/kubereactor/kreactor/diff"
	"github.com/kubereactor/kreactor/object"
)

// SmartStore composes multiple backends with a "try all, write all"
// strategy: reads return the first non-nil record in backend order
// (annotations first by default), while writes and purges go to every
// backend unconditionally. The asymmetry is intentional: dual-writing keeps
// both layouts populated, which makes migration between the backends and
// operator rollbacks safe.
type SmartStore struct {
	stores []Store
}

// NewSmartStore composes progress stores. With no arguments, the default
// annotations store and status store are composed, in that read order.
func NewSmartStore(stores ...Store) *SmartStore {
	if len(stores) == 0 {
		stores = []Store{NewAnnotationsStore(), NewStatusStore()}
	}
	return &SmartStore{stores: stores}
}

// Fetch implements the Store interface: first non-nil record wins.
func (s *SmartStore) Fetch(key string, body object.Body) (*Record, error) {
	for _, store := range s.stores {
		rec, err := store.Fetch(key, body)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	return nil, nil
}

// Store implements the Store interface: all backends are written.
func (s *SmartStore) Store(key string, rec *Record, body object.Body, patch *object.Patch) error {
	for _, store := range s.stores {
		if err := store.Store(key, rec, body, patch); err != nil {
			return err
		}
	}
	return nil
}

// Purge implements the Store interface: all backends are purged.
func (s *SmartStore) Purge(key string, body object.Body, patch *object.Patch) error {
	for _, store := range s.stores {
		if err := store.Purge(key, body, patch); err != nil {
			return err
		}
	}
	return nil
}

// Touch implements the Store interface.
func (s *SmartStore) Touch(body object.Body, patch *object.Patch, value *string) error {
	for _, store := range s.stores {
		if err := store.Touch(body, patch, value); err != nil {
			return err
		}
	}
	return nil
}

// Clear implements the Store interface.
func (s *SmartStore) Clear(essence diff.Essence) diff.Essence {
	for _, store := range s.stores {
		essence = store.Clear(essence)
	}
	return essence
}

// Prefixes implements the Store interface.
func (s *SmartStore) Prefixes() []string {
	var out []string
	for _, store := range s.stores {
		out = append(out, store.Prefixes()...)
	}
	return out
}

// SmartDiffbaseStore composes diffbase backends the same way.
type SmartDiffbaseStore struct {
	stores []DiffbaseStore
}

// NewSmartDiffbaseStore composes diffbase stores; annotations and status by
// default.
func NewSmartDiffbaseStore(stores ...DiffbaseStore) *SmartDiffbaseStore {
	if len(stores) == 0 {
		stores = []DiffbaseStore{NewAnnotationsStore(), NewStatusStore()}
	}
	return &SmartDiffbaseStore{stores: stores}
}

// FetchEssence returns the first recorded diffbase found.
func (s *SmartDiffbaseStore) FetchEssence(body object.Body) (diff.Essence, error) {
	for _, store := range s.stores {
		essence, err := store.FetchEssence(body)
		if err != nil {
			return nil, err
		}
		if essence != nil {
			return essence, nil
		}
	}
	return nil, nil
}

// StoreEssence writes the diffbase to every backend.
func (s *SmartDiffbaseStore) StoreEssence(essence diff.Essence, body object.Body, patch *object.Patch) error {
	for _, store := range s.stores {
		if err := store.StoreEssence(essence, body, patch); err != nil {
			return err
		}
	}
	return nil
}

// Prefixes returns the union of the backends' annotation prefixes.
func (s *SmartDiffbaseStore) Prefixes() []string {
	var out []string
	for _, store := range s.stores {
		out = append(out, store.Prefixes()...)
	}
	return out
}
