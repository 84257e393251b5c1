package object

// Patch accumulates the changes of one reaction cycle into a single JSON
// merge patch (RFC 7386). Nested fields are set through intermediate maps;
// an explicit null requests deletion of the field on the API server.
//
// The accumulated tree is schemaless on purpose: the reactor works on
// unstructured bodies where a plain nested map is the merge patch itself.
type Patch struct {
	root map[string]interface{}
}

// NewPatch creates an empty patch accumulator.
func NewPatch() *Patch {
	return &Patch{root: map[string]interface{}{}}
}

// Set records a value at the given field path.
func (p *Patch) Set(value interface{}, fields ...string) {
	SetNestedField(p.root, value, fields...)
}

// Remove records a deletion of the given field path. In merge-patch
// semantics, a null value removes the field.
func (p *Patch) Remove(fields ...string) {
	SetNestedField(p.root, nil, fields...)
}

// Field returns the pending value at the given field path, if any. Used to
// avoid re-writing or re-nulling fields already covered by this patch.
func (p *Patch) Field(fields ...string) (interface{}, bool) {
	val, found, err := NestedField(p.root, fields...)
	if err != nil {
		return nil, false
	}
	return val, found
}

// IsEmpty reports whether the patch carries no changes.
func (p *Patch) IsEmpty() bool {
	return len(p.root) == 0
}

// Body returns the merge-patch tree to be sent to the API server.
func (p *Patch) Body() map[string]interface{} {
	return p.root
}

// Clear drops all accumulated changes. Called after the patch is sent.
func (p *Patch) Clear() {
	p.root = map[string]interface{}{}
}

// ApplyTo merges the patch into a body copy and returns it, following merge
// patch semantics: maps merge recursively, nulls delete, everything else
// replaces. It never modifies the given body.
func (p *Patch) ApplyTo(obj Body) Body {
	merged := mergeMaps(obj, p.root)
	if merged == nil {
		return Body{}
	}
	return merged
}

func mergeMaps(base Body, patch map[string]interface{}) map[string]interface{} {
	out := DeepCopyBody(base)
	if out == nil {
		out = map[string]interface{}{}
	}
	for key, val := range patch {
		if val == nil {
			delete(out, key)
			continue
		}
		patchMap, patchIsMap := val.(map[string]interface{})
		baseMap, baseIsMap := out[key].(map[string]interface{})
		if patchIsMap && baseIsMap {
			out[key] = mergeMaps(baseMap, patchMap)
		} else if patchIsMap {
			out[key] = mergeMaps(nil, patchMap)
		} else {
			out[key] = DeepCopy(val)
		}
	}
	return out
}
