package diff

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	cases := []struct {
		name string
		old  Essence
		new  Essence
		want Diff
	}{
		{
			name: "both nil",
			want: nil,
		},
		{
			name: "nil to something is a whole-object add",
			new:  Essence{"spec": "x"},
			want: Diff{{Op: OpAdd, New: map[string]interface{}{"spec": "x"}}},
		},
		{
			name: "something to nil is a whole-object remove",
			old:  Essence{"spec": "x"},
			want: Diff{{Op: OpRemove, Old: map[string]interface{}{"spec": "x"}}},
		},
		{
			name: "equal essences",
			old:  Essence{"spec": map[string]interface{}{"a": "1"}},
			new:  Essence{"spec": map[string]interface{}{"a": "1"}},
			want: nil,
		},
		{
			name: "maps recurse to leaf entries",
			old:  Essence{"spec": map[string]interface{}{"a": "1", "b": "2"}},
			new:  Essence{"spec": map[string]interface{}{"a": "9", "c": "3"}},
			want: Diff{
				{Op: OpChange, Path: []string{"spec", "a"}, Old: "1", New: "9"},
				{Op: OpRemove, Path: []string{"spec", "b"}, Old: "2"},
				{Op: OpAdd, Path: []string{"spec", "c"}, New: "3"},
			},
		},
		{
			name: "type change is one atomic entry",
			old:  Essence{"spec": map[string]interface{}{"a": "1"}},
			new:  Essence{"spec": "scalar"},
			want: Diff{{
				Op:   OpChange,
				Path: []string{"spec"},
				Old:  map[string]interface{}{"a": "1"},
				New:  "scalar",
			}},
		},
		{
			name: "lists compare atomically",
			old:  Essence{"spec": []interface{}{"a", "b"}},
			new:  Essence{"spec": []interface{}{"a", "c"}},
			want: Diff{{
				Op:   OpChange,
				Path: []string{"spec"},
				Old:  []interface{}{"a", "b"},
				New:  []interface{}{"a", "c"},
			}},
		},
		{
			name: "entries are ordered by sorted field names",
			old:  Essence{"z": "1", "a": "1"},
			new:  Essence{"z": "2", "a": "2"},
			want: Diff{
				{Op: OpChange, Path: []string{"a"}, Old: "1", New: "2"},
				{Op: OpChange, Path: []string{"z"}, Old: "1", New: "2"},
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := Compare(tc.old, tc.new)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("unexpected diff:\n%s", diff)
			}
			assert.Equal(t, len(tc.want) == 0, got.Empty())
		})
	}
}

func TestDiffMatches(t *testing.T) {
	d := Diff{
		{Op: OpChange, Path: []string{"spec", "nested", "leaf"}, Old: "1", New: "2"},
	}

	cases := []struct {
		name  string
		field []string
		want  bool
	}{
		{name: "exact", field: []string{"spec", "nested", "leaf"}, want: true},
		{name: "ancestor of the entry", field: []string{"spec"}, want: true},
		{name: "descendant of the entry", field: []string{"spec", "nested", "leaf", "deeper"}, want: true},
		{name: "sibling", field: []string{"spec", "other"}, want: false},
		{name: "unrelated", field: []string{"metadata"}, want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, d.Matches(tc.field))
		})
	}
}

func TestDiffReduced(t *testing.T) {
	t.Run("prefix is trimmed from deeper entries", func(t *testing.T) {
		d := Diff{
			{Op: OpChange, Path: []string{"spec", "sub", "leaf"}, Old: "1", New: "2"},
			{Op: OpChange, Path: []string{"metadata", "labels", "x"}, Old: "a", New: "b"},
		}
		want := Diff{{Op: OpChange, Path: []string{"leaf"}, Old: "1", New: "2"}}
		if diff := cmp.Diff(want, d.Reduced([]string{"spec", "sub"})); diff != "" {
			t.Errorf("unexpected reduced diff:\n%s", diff)
		}
	})

	t.Run("ancestor entry is narrowed by digging", func(t *testing.T) {
		d := Diff{{
			Op:   OpChange,
			Path: []string{"spec"},
			Old:  map[string]interface{}{"sub": map[string]interface{}{"leaf": "1"}},
			New:  map[string]interface{}{"sub": map[string]interface{}{"leaf": "2"}},
		}}
		want := Diff{{Op: OpChange, Path: []string{"leaf"}, Old: "1", New: "2"}}
		if diff := cmp.Diff(want, d.Reduced([]string{"spec", "sub"})); diff != "" {
			t.Errorf("unexpected reduced diff:\n%s", diff)
		}
	})
}

func TestEssenceLookup(t *testing.T) {
	e := Essence{"spec": map[string]interface{}{"field": "value"}}

	val, found := e.Lookup([]string{"spec", "field"})
	assert.True(t, found)
	assert.Equal(t, "value", val)

	_, found = e.Lookup([]string{"spec", "missing"})
	assert.False(t, found)

	var nilEssence Essence
	_, found = nilEssence.Lookup([]string{"spec"})
	assert.False(t, found)
}
