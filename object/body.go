package object

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
)

// Body is the full mutable JSON-like tree of a Kubernetes object, as decoded
// from a watch event or a GET response.
type Body = map[string]interface{}

// NestedField returns the value at the given field path of a body. The second
// returned value is true if the field is found, else false.
func NestedField(obj Body, fields ...string) (interface{}, bool, error) {
	var val interface{} = obj

	for i, field := range fields {
		m, ok := val.(map[string]interface{})
		if !ok {
			return nil, false, fmt.Errorf("%v accessor error: %v is of the type %T, expected map[string]interface{}", strings.Join(fields[:i+1], "."), val, val)
		}
		val, ok = m[field]
		if !ok {
			return nil, false, nil
		}
	}
	return val, true, nil
}

// NestedString returns the string value at the given field path, or an empty
// string when the field is absent or not a string.
func NestedString(obj Body, fields ...string) string {
	val, found, err := NestedField(obj, fields...)
	if err != nil || !found {
		return ""
	}
	s, _ := val.(string)
	return s
}

// NestedMap returns the map value at the given field path, or nil.
func NestedMap(obj Body, fields ...string) map[string]interface{} {
	val, found, err := NestedField(obj, fields...)
	if err != nil || !found {
		return nil
	}
	m, _ := val.(map[string]interface{})
	return m
}

// SetNestedField sets a value at the given field path, creating intermediate
// maps as needed. Existing non-map intermediates are overwritten.
func SetNestedField(obj Body, value interface{}, fields ...string) {
	cur := obj
	for _, field := range fields[:len(fields)-1] {
		next, ok := cur[field].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[field] = next
		}
		cur = next
	}
	cur[fields[len(fields)-1]] = value
}

// DeepCopy returns a deep copy of a JSON-like value.
func DeepCopy(val interface{}) interface{} {
	if val == nil {
		return nil
	}
	return runtime.DeepCopyJSONValue(val)
}

// DeepCopyBody returns a deep copy of a body.
func DeepCopyBody(obj Body) Body {
	if obj == nil {
		return nil
	}
	return runtime.DeepCopyJSON(obj)
}

// Name returns metadata.name of a body.
func Name(obj Body) string {
	return NestedString(obj, "metadata", "name")
}

// Namespace returns metadata.namespace of a body.
func Namespace(obj Body) string {
	return NestedString(obj, "metadata", "namespace")
}

// UID returns metadata.uid of a body. UID is the most stable identity of an
// object: it survives deletion and recreation under the same name.
func UID(obj Body) types.UID {
	return types.UID(NestedString(obj, "metadata", "uid"))
}

// Labels returns the metadata.labels of a body as a string map.
func Labels(obj Body) map[string]string {
	return stringMap(NestedMap(obj, "metadata", "labels"))
}

// Annotations returns the metadata.annotations of a body as a string map.
func Annotations(obj Body) map[string]string {
	return stringMap(NestedMap(obj, "metadata", "annotations"))
}

// Finalizers returns the metadata.finalizers of a body.
func Finalizers(obj Body) []string {
	val, found, err := NestedField(obj, "metadata", "finalizers")
	if err != nil || !found {
		return nil
	}
	items, ok := val.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// DeletionTimestamp returns the raw metadata.deletionTimestamp string. An
// empty string means the field is absent, null or empty -- some API
// serializations emit an empty timestamp that must not be confused with a
// real one.
func DeletionTimestamp(obj Body) string {
	return NestedString(obj, "metadata", "deletionTimestamp")
}

// Unstructured wraps a body into an Unstructured object for APIs that expect
// a runtime.Object, such as event recorders.
func Unstructured(obj Body) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: obj}
}

func stringMap(m map[string]interface{}) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
