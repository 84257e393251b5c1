package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kubereactor/kreactor/diff"
	"github.com/kubereactor/kreactor/object"
)

func strptr(s string) *string { return &s }

func TestAnnotationsStoreRoundTrip(t *testing.T) {
	s := NewAnnotationsStore()
	body := object.Body{"metadata": map[string]interface{}{"name": "obj"}}
	rec := &Record{
		Started: strptr("2021-02-03T04:05:06.000000"),
		Retries: 2,
		Failure: true,
		Message: strptr("boom"),
	}

	patch := object.NewPatch()
	assert.Nil(t, s.Store("my-handler", rec, body, patch))

	// The record and the managed-marker sentinel are both in the patch.
	_, found := patch.Field("metadata", "annotations", "kreactor.dev/my-handler")
	assert.True(t, found)
	marker, found := patch.Field("metadata", "annotations", "kreactor.dev/"+diff.ManagedMarker)
	assert.True(t, found)
	assert.Equal(t, "yes", marker)

	stored := patch.ApplyTo(body)
	restored, err := s.Fetch("my-handler", stored)
	assert.Nil(t, err)
	assert.Equal(t, rec, restored)

	// Absent keys fetch as nil without errors.
	missing, err := s.Fetch("other-handler", stored)
	assert.Nil(t, err)
	assert.Nil(t, missing)
}

func TestAnnotationsStoreSentinelWrittenOnce(t *testing.T) {
	s := NewAnnotationsStore()
	rec := &Record{Success: true}

	// Already on the object: not re-written.
	body := object.Body{
		"metadata": map[string]interface{}{
			"annotations": map[string]interface{}{
				"kreactor.dev/" + diff.ManagedMarker: "yes",
			},
		},
	}
	patch := object.NewPatch()
	assert.Nil(t, s.Store("h", rec, body, patch))
	_, found := patch.Field("metadata", "annotations", "kreactor.dev/"+diff.ManagedMarker)
	assert.False(t, found)
}

func TestAnnotationsStorePurge(t *testing.T) {
	s := NewAnnotationsStore()

	t.Run("key on the object is nulled", func(t *testing.T) {
		body := object.Body{
			"metadata": map[string]interface{}{
				"annotations": map[string]interface{}{
					"kreactor.dev/h": `{"success":true}`,
				},
			},
		}
		patch := object.NewPatch()
		assert.Nil(t, s.Purge("h", body, patch))
		val, found := patch.Field("metadata", "annotations", "kreactor.dev/h")
		assert.True(t, found)
		assert.Nil(t, val)
	})

	t.Run("key only in the pending patch is nulled", func(t *testing.T) {
		body := object.Body{}
		patch := object.NewPatch()
		assert.Nil(t, s.Store("h", &Record{}, body, patch))
		assert.Nil(t, s.Purge("h", body, patch))
		val, found := patch.Field("metadata", "annotations", "kreactor.dev/h")
		assert.True(t, found)
		assert.Nil(t, val)
	})

	t.Run("absent key writes nothing", func(t *testing.T) {
		patch := object.NewPatch()
		assert.Nil(t, s.Purge("h", object.Body{}, patch))
		assert.True(t, patch.IsEmpty())
	})
}

func TestAnnotationsStoreTouch(t *testing.T) {
	s := NewAnnotationsStore()

	t.Run("sets a new value", func(t *testing.T) {
		patch := object.NewPatch()
		assert.Nil(t, s.Touch(object.Body{}, patch, strptr("now")))
		val, found := patch.Field("metadata", "annotations", "kreactor.dev/"+touchName)
		assert.True(t, found)
		assert.Equal(t, "now", val)
	})

	t.Run("skips an identical value", func(t *testing.T) {
		body := object.Body{
			"metadata": map[string]interface{}{
				"annotations": map[string]interface{}{
					"kreactor.dev/" + touchName: "now",
				},
			},
		}
		patch := object.NewPatch()
		assert.Nil(t, s.Touch(body, patch, strptr("now")))
		assert.True(t, patch.IsEmpty())
	})

	t.Run("nil removes a present dummy", func(t *testing.T) {
		body := object.Body{
			"metadata": map[string]interface{}{
				"annotations": map[string]interface{}{
					"kreactor.dev/" + touchName: "past",
				},
			},
		}
		patch := object.NewPatch()
		assert.Nil(t, s.Touch(body, patch, nil))
		val, found := patch.Field("metadata", "annotations", "kreactor.dev/"+touchName)
		assert.True(t, found)
		assert.Nil(t, val)
	})
}

func TestAnnotationsStoreDiffbase(t *testing.T) {
	s := NewAnnotationsStore()
	body := object.Body{}
	essence := diff.Essence{"spec": map[string]interface{}{"a": "1"}}

	patch := object.NewPatch()
	assert.Nil(t, s.StoreEssence(essence, body, patch))
	stored := patch.ApplyTo(body)

	restored, err := s.FetchEssence(stored)
	assert.Nil(t, err)
	assert.True(t, diff.Compare(essence, restored).Empty())

	// No diffbase recorded: nil, distinguishable from empty.
	none, err := s.FetchEssence(object.Body{})
	assert.Nil(t, err)
	assert.Nil(t, none)
}

func TestAnnotationsStoreClear(t *testing.T) {
	s := NewAnnotationsStore()
	essence := diff.Essence{
		"metadata": map[string]interface{}{
			"annotations": map[string]interface{}{
				"kreactor.dev/leftover": "x",
				"note":                  "kept",
			},
		},
	}
	cleared := s.Clear(essence)
	annotations := object.NestedMap(map[string]interface{}(cleared), "metadata", "annotations")
	assert.Equal(t, map[string]interface{}{"note": "kept"}, annotations)
}

func TestAnnotationsStorePropagationMarker(t *testing.T) {
	s := NewAnnotationsStore(WithPropagationMarker("-of-rs"))
	patch := object.NewPatch()
	assert.Nil(t, s.Store("h", &Record{}, object.Body{}, patch))
	_, found := patch.Field("metadata", "annotations", "kreactor.dev/h-of-rs")
	assert.True(t, found)
}
