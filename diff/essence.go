package diff

import (
	"encoding/json"
	"strings"

	"github.com/kubereactor/kreactor/object"
)

// ManagedMarker is an annotation name written next to any framework-managed
// annotation prefix. It lets independently deployed operator instances
// recognize and ignore each other's bookkeeping when computing essences,
// so that their own writes never re-trigger the peer's update causes.
const ManagedMarker = "kopf-managed"

// Essence is the comparison-stable subset of an object body. A nil essence
// means "no last-seen state recorded" (e.g. a brand new object).
type Essence map[string]interface{}

// NewEssence builds an essence from a body: it strips apiVersion, kind,
// status and all of metadata except labels and annotations, drops the
// framework's own bookkeeping annotations, and then restores the requested
// extra fields (dotted paths) from the original body, even if under status.
func NewEssence(body object.Body, extraFields []string, managedPrefixes []string) Essence {
	if body == nil {
		return nil
	}
	essence := object.DeepCopyBody(body)

	delete(essence, "apiVersion")
	delete(essence, "kind")
	delete(essence, "status")

	if metadata, ok := essence["metadata"].(map[string]interface{}); ok {
		for key := range metadata {
			if key != "labels" && key != "annotations" {
				delete(metadata, key)
			}
		}
		if annotations, ok := metadata["annotations"].(map[string]interface{}); ok {
			stripManagedAnnotations(annotations, managedPrefixes)
			if len(annotations) == 0 {
				delete(metadata, "annotations")
			}
		}
		if labels, ok := metadata["labels"].(map[string]interface{}); ok && len(labels) == 0 {
			delete(metadata, "labels")
		}
		if len(metadata) == 0 {
			delete(essence, "metadata")
		}
	}

	for _, field := range extraFields {
		path := strings.Split(field, ".")
		val, found, err := object.NestedField(body, path...)
		if err == nil && found {
			object.SetNestedField(essence, object.DeepCopy(val), path...)
		}
	}

	return Essence(essence)
}

// stripManagedAnnotations removes the annotations under any of the given
// prefixes, and the annotations under any foreign prefix that marks itself
// with the managed-marker sentinel.
func stripManagedAnnotations(annotations map[string]interface{}, managedPrefixes []string) {
	foreign := map[string]bool{}
	for key, val := range annotations {
		prefix, name := splitAnnotationKey(key)
		if prefix != "" && name == ManagedMarker {
			if s, ok := val.(string); ok && s == "yes" {
				foreign[prefix] = true
			}
		}
	}
	for key := range annotations {
		prefix, _ := splitAnnotationKey(key)
		if prefix == "" {
			continue
		}
		if foreign[prefix] {
			delete(annotations, key)
			continue
		}
		for _, managed := range managedPrefixes {
			if prefix == managed {
				delete(annotations, key)
				break
			}
		}
	}
}

func splitAnnotationKey(key string) (prefix, name string) {
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return "", key
}

// MarshalStable serializes an essence into a byte-stable JSON form. Two
// semantically equal essences always serialize identically, since Go's JSON
// encoder sorts map keys. The serialized essence is itself persisted as the
// diffbase and compared across restarts.
func (e Essence) MarshalStable() ([]byte, error) {
	return json.Marshal(map[string]interface{}(e))
}

// UnmarshalEssence decodes a previously serialized essence. An empty input
// yields a nil essence.
func UnmarshalEssence(data []byte) (Essence, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return Essence(out), nil
}
