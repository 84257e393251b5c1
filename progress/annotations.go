package progress

import (
	"github.com/pkg/errors"

	"github.com/kubereactor/kreactor/diff"
	"github.com/kubereactor/kreactor/object"
)

const (
	// DefaultPrefix is the annotation prefix of this framework's own
	// bookkeeping keys.
	DefaultPrefix = "kreactor.dev"

	diffbaseName = "last-handled-configuration"
	touchName    = "touch-dummy"
)

// AnnotationsStore persists progress records and the diffbase in the
// object's metadata annotations, one JSON-encoded record per handler key.
type AnnotationsStore struct {
	prefix  string
	verbose bool

	// marker is appended to stored keys to distinguish this object's own
	// state from a copy propagated by Kubernetes from a parent resource
	// (observed for ReplicaSets owned by Deployments).
	marker string
}

// AnnotationsOption configures an AnnotationsStore.
type AnnotationsOption func(*AnnotationsStore)

// WithPrefix overrides the annotation prefix.
func WithPrefix(prefix string) AnnotationsOption {
	return func(s *AnnotationsStore) { s.prefix = prefix }
}

// WithVerbose keeps the null record fields in the serialized form.
func WithVerbose() AnnotationsOption {
	return func(s *AnnotationsStore) { s.verbose = true }
}

// WithPropagationMarker sets a constant suffix appended to every stored key,
// for resources whose annotations are known to be propagated from a parent.
func WithPropagationMarker(marker string) AnnotationsOption {
	return func(s *AnnotationsStore) { s.marker = marker }
}

// NewAnnotationsStore creates an annotations-backed store.
func NewAnnotationsStore(opts ...AnnotationsOption) *AnnotationsStore {
	s := &AnnotationsStore{prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AnnotationsStore) key(id string) string {
	return NormalizeKey(s.prefix, id+s.marker)
}

// Fetch implements the Store interface.
func (s *AnnotationsStore) Fetch(key string, body object.Body) (*Record, error) {
	val, found := annotationValue(body, s.key(key))
	if !found {
		return nil, nil
	}
	return unmarshalRecord([]byte(val))
}

// Store implements the Store interface. Alongside the record, a sentinel
// annotation marking the prefix as framework-managed is written once, so
// independently deployed instances with other prefixes can recognize and
// ignore this bookkeeping instead of reacting to it forever.
func (s *AnnotationsStore) Store(key string, rec *Record, body object.Body, patch *object.Patch) error {
	data, err := marshalRecord(rec, s.verbose)
	if err != nil {
		return errors.Wrapf(err, "failed to encode the progress record of %q", key)
	}
	patch.Set(string(data), "metadata", "annotations", s.key(key))
	s.ensureSentinel(body, patch)
	return nil
}

// Purge implements the Store interface.
func (s *AnnotationsStore) Purge(key string, body object.Body, patch *object.Patch) error {
	s.purgeKey(s.key(key), body, patch)
	return nil
}

func (s *AnnotationsStore) purgeKey(full string, body object.Body, patch *object.Patch) {
	_, inBody := annotationValue(body, full)
	_, inPatch := patch.Field("metadata", "annotations", full)
	if inBody || inPatch {
		patch.Remove("metadata", "annotations", full)
	}
}

// Touch implements the Store interface.
func (s *AnnotationsStore) Touch(body object.Body, patch *object.Patch, value *string) error {
	key := NormalizeKey(s.prefix, touchName)
	if value == nil {
		s.purgeKey(key, body, patch)
		return nil
	}
	if current, found := annotationValue(body, key); !found || current != *value {
		patch.Set(*value, "metadata", "annotations", key)
	}
	return nil
}

// Clear implements the Store interface: it drops this store's own
// annotations from the essence before diffing.
func (s *AnnotationsStore) Clear(essence diff.Essence) diff.Essence {
	annotations := object.NestedMap(map[string]interface{}(essence), "metadata", "annotations")
	for key := range annotations {
		if prefixOf(key) == s.prefix {
			delete(annotations, key)
		}
	}
	return essence
}

// Prefixes implements the Store interface.
func (s *AnnotationsStore) Prefixes() []string {
	return []string{s.prefix}
}

// FetchEssence implements the DiffbaseStore interface.
func (s *AnnotationsStore) FetchEssence(body object.Body) (diff.Essence, error) {
	val, found := annotationValue(body, s.diffbaseKey())
	if !found {
		return nil, nil
	}
	essence, err := diff.UnmarshalEssence([]byte(val))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode the last-handled configuration")
	}
	return essence, nil
}

// StoreEssence implements the DiffbaseStore interface.
func (s *AnnotationsStore) StoreEssence(essence diff.Essence, body object.Body, patch *object.Patch) error {
	data, err := essence.MarshalStable()
	if err != nil {
		return errors.Wrap(err, "failed to encode the last-handled configuration")
	}
	patch.Set(string(data), "metadata", "annotations", s.diffbaseKey())
	s.ensureSentinel(body, patch)
	return nil
}

func (s *AnnotationsStore) diffbaseKey() string {
	return NormalizeKey(s.prefix, diffbaseName)
}

// ensureSentinel writes the "{prefix}/kopf-managed=yes" marker once per
// object, unless it is already present in the body or the pending patch.
func (s *AnnotationsStore) ensureSentinel(body object.Body, patch *object.Patch) {
	if s.prefix == "" {
		return
	}
	key := s.prefix + "/" + diff.ManagedMarker
	if _, found := annotationValue(body, key); found {
		return
	}
	if _, found := patch.Field("metadata", "annotations", key); found {
		return
	}
	patch.Set("yes", "metadata", "annotations", key)
}

func prefixOf(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[:i]
		}
	}
	return ""
}
