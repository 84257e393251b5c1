package progress

import (
	"github.com/pkg/errors"

	"github.com/kubereactor/kreactor/diff"
	"github.com/kubereactor/kreactor/object"
)

// DefaultField is the name of the status subtree holding this framework's
// bookkeeping: status.{field}.progress.{handler-id}.
const DefaultField = "kreactor"

// StatusStore persists progress records and the diffbase in a nested dict
// under the object's status subtree.
type StatusStore struct {
	field   string
	verbose bool
}

// StatusOption configures a StatusStore.
type StatusOption func(*StatusStore)

// WithField overrides the status subtree name.
func WithField(field string) StatusOption {
	return func(s *StatusStore) { s.field = field }
}

// WithVerboseStatus keeps the null record fields in the stored dict.
func WithVerboseStatus() StatusOption {
	return func(s *StatusStore) { s.verbose = true }
}

// NewStatusStore creates a status-backed store.
func NewStatusStore(opts ...StatusOption) *StatusStore {
	s := &StatusStore{field: DefaultField}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch implements the Store interface.
func (s *StatusStore) Fetch(key string, body object.Body) (*Record, error) {
	val, found, err := object.NestedField(body, "status", s.field, "progress", key)
	if err != nil || !found || val == nil {
		return nil, nil
	}
	rec, err := recordFromMap(val)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode the status progress of %q", key)
	}
	return rec, nil
}

// Store implements the Store interface.
func (s *StatusStore) Store(key string, rec *Record, body object.Body, patch *object.Patch) error {
	m, err := recordToMap(rec, s.verbose)
	if err != nil {
		return errors.Wrapf(err, "failed to encode the progress record of %q", key)
	}
	patch.Set(m, "status", s.field, "progress", key)
	return nil
}

// Purge implements the Store interface.
func (s *StatusStore) Purge(key string, body object.Body, patch *object.Patch) error {
	_, inBody, err := object.NestedField(body, "status", s.field, "progress", key)
	if err != nil {
		inBody = false
	}
	_, inPatch := patch.Field("status", s.field, "progress", key)
	if inBody || inPatch {
		patch.Remove("status", s.field, "progress", key)
	}
	return nil
}

// Touch implements the Store interface.
func (s *StatusStore) Touch(body object.Body, patch *object.Patch, value *string) error {
	if value == nil {
		_, found, err := object.NestedField(body, "status", s.field, "dummy")
		if err == nil && found {
			patch.Remove("status", s.field, "dummy")
		}
		return nil
	}
	current := object.NestedString(body, "status", s.field, "dummy")
	if current != *value {
		patch.Set(*value, "status", s.field, "dummy")
	}
	return nil
}

// Clear implements the Store interface. The essence excludes status already,
// unless it was restored through extra fields; the own subtree is stripped
// either way.
func (s *StatusStore) Clear(essence diff.Essence) diff.Essence {
	status := object.NestedMap(map[string]interface{}(essence), "status")
	if status != nil {
		delete(status, s.field)
		if len(status) == 0 {
			delete(essence, "status")
		}
	}
	return essence
}

// Prefixes implements the Store interface.
func (s *StatusStore) Prefixes() []string {
	return nil
}

// FetchEssence implements the DiffbaseStore interface.
func (s *StatusStore) FetchEssence(body object.Body) (diff.Essence, error) {
	val := object.NestedString(body, "status", s.field, diffbaseName)
	if val == "" {
		return nil, nil
	}
	essence, err := diff.UnmarshalEssence([]byte(val))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode the last-handled configuration")
	}
	return essence, nil
}

// StoreEssence implements the DiffbaseStore interface.
func (s *StatusStore) StoreEssence(essence diff.Essence, body object.Body, patch *object.Patch) error {
	data, err := essence.MarshalStable()
	if err != nil {
		return errors.Wrap(err, "failed to encode the last-handled configuration")
	}
	patch.Set(string(data), "status", s.field, diffbaseName)
	return nil
}
