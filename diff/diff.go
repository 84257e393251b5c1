package diff

import (
	"reflect"
	"sort"

	"github.com/kubereactor/kreactor/object"
)

// Op is a diff entry operation.
type Op string

const (
	OpAdd    Op = "add"
	OpChange Op = "change"
	OpRemove Op = "remove"
)

// Entry is a single structural difference between two essences. Additions
// and removals are single-sided: the missing side's value is nil.
type Entry struct {
	Op   Op
	Path []string
	Old  interface{}
	New  interface{}
}

// Diff is an ordered sequence of entries: depth-first, field-name-sorted at
// each level. An empty diff means the essences are equal.
type Diff []Entry

// Compare computes the structural diff between two essences. When both sides
// of a field are maps, the comparison recurses instead of emitting one
// atomic change for the whole subtree; only leaf-level and type-mismatch
// differences become atomic entries.
func Compare(old, new Essence) Diff {
	return compareValues(nil, mapOrNil(old), mapOrNil(new))
}

func mapOrNil(e Essence) interface{} {
	if e == nil {
		return nil
	}
	return map[string]interface{}(e)
}

func compareValues(path []string, old, new interface{}) Diff {
	oldMap, oldIsMap := old.(map[string]interface{})
	newMap, newIsMap := new.(map[string]interface{})

	switch {
	case old == nil && new == nil:
		return nil
	case old == nil:
		return Diff{{Op: OpAdd, Path: copyPath(path), New: new}}
	case new == nil:
		return Diff{{Op: OpRemove, Path: copyPath(path), Old: old}}
	case oldIsMap && newIsMap:
		return compareMaps(path, oldMap, newMap)
	case reflect.DeepEqual(old, new):
		return nil
	default:
		return Diff{{Op: OpChange, Path: copyPath(path), Old: old, New: new}}
	}
}

func compareMaps(path []string, old, new map[string]interface{}) Diff {
	keys := map[string]bool{}
	for k := range old {
		keys[k] = true
	}
	for k := range new {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var out Diff
	for _, key := range sorted {
		keyPath := append(append([]string{}, path...), key)
		oldVal, inOld := old[key]
		newVal, inNew := new[key]
		switch {
		case !inOld:
			out = append(out, Entry{Op: OpAdd, Path: keyPath, New: newVal})
		case !inNew:
			out = append(out, Entry{Op: OpRemove, Path: keyPath, Old: oldVal})
		default:
			out = append(out, compareValues(keyPath, oldVal, newVal)...)
		}
	}
	return out
}

// Empty reports whether the diff carries no entries.
func (d Diff) Empty() bool {
	return len(d) == 0
}

// Matches reports whether any entry's path is a prefix of the given field
// path, an exact match, or an extension of it. Used by field-scoped handler
// filters.
func (d Diff) Matches(field []string) bool {
	for _, entry := range d {
		if isPathPrefix(entry.Path, field) || isPathPrefix(field, entry.Path) {
			return true
		}
	}
	return false
}

// Reduced narrows the diff to the given field path. Entries below the field
// are kept with the field prefix trimmed off. An entry at an ancestor of the
// field (a whole-subtree replacement) is narrowed by digging into its old
// and new values along the remaining path.
func (d Diff) Reduced(field []string) Diff {
	var out Diff
	for _, entry := range d {
		switch {
		case isPathPrefix(field, entry.Path):
			out = append(out, Entry{
				Op:   entry.Op,
				Path: copyPath(entry.Path[len(field):]),
				Old:  entry.Old,
				New:  entry.New,
			})
		case isPathPrefix(entry.Path, field):
			rest := field[len(entry.Path):]
			oldVal := digValue(entry.Old, rest)
			newVal := digValue(entry.New, rest)
			out = append(out, compareValues(nil, oldVal, newVal)...)
		}
	}
	return out
}

func digValue(val interface{}, path []string) interface{} {
	for _, field := range path {
		m, ok := val.(map[string]interface{})
		if !ok {
			return nil
		}
		val = m[field]
	}
	return val
}

func isPathPrefix(prefix, path []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if prefix[i] != path[i] {
			return false
		}
	}
	return true
}

func copyPath(path []string) []string {
	if path == nil {
		return nil
	}
	return append([]string{}, path...)
}

// Lookup returns the value at the given path inside the essence, and whether
// it exists. Used by the value-existence field match strategy.
func (e Essence) Lookup(path []string) (interface{}, bool) {
	if e == nil {
		return nil, false
	}
	val, found, err := object.NestedField(map[string]interface{}(e), path...)
	if err != nil {
		return nil, false
	}
	return val, found
}
