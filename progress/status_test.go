package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kubereactor/kreactor/diff"
	"github.com/kubereactor/kreactor/object"
)

func TestStatusStoreRoundTrip(t *testing.T) {
	s := NewStatusStore()
	body := object.Body{}
	rec := &Record{
		Started: strptr("2021-02-03T04:05:06.000000"),
		Retries: 1,
		Success: true,
	}

	patch := object.NewPatch()
	assert.Nil(t, s.Store("my-handler", rec, body, patch))

	// Stored as a nested dict, not a string.
	val, found := patch.Field("status", DefaultField, "progress", "my-handler")
	assert.True(t, found)
	_, isMap := val.(map[string]interface{})
	assert.True(t, isMap)

	stored := patch.ApplyTo(body)
	restored, err := s.Fetch("my-handler", stored)
	assert.Nil(t, err)
	assert.Equal(t, rec, restored)
}

func TestStatusStorePurge(t *testing.T) {
	s := NewStatusStore()
	body := object.Body{
		"status": map[string]interface{}{
			DefaultField: map[string]interface{}{
				"progress": map[string]interface{}{
					"h": map[string]interface{}{"success": true},
				},
			},
		},
	}
	patch := object.NewPatch()
	assert.Nil(t, s.Purge("h", body, patch))
	val, found := patch.Field("status", DefaultField, "progress", "h")
	assert.True(t, found)
	assert.Nil(t, val)

	patch = object.NewPatch()
	assert.Nil(t, s.Purge("absent", body, patch))
	assert.True(t, patch.IsEmpty())
}

func TestStatusStoreDiffbase(t *testing.T) {
	s := NewStatusStore()
	essence := diff.Essence{"spec": map[string]interface{}{"a": "1"}}

	patch := object.NewPatch()
	assert.Nil(t, s.StoreEssence(essence, object.Body{}, patch))
	stored := patch.ApplyTo(object.Body{})

	restored, err := s.FetchEssence(stored)
	assert.Nil(t, err)
	assert.True(t, diff.Compare(essence, restored).Empty())
}

func TestStatusStoreClear(t *testing.T) {
	s := NewStatusStore()

	essence := diff.Essence{
		"status": map[string]interface{}{
			DefaultField: map[string]interface{}{"dummy": "x"},
			"observed":   "kept",
		},
	}
	cleared := s.Clear(essence)
	status := object.NestedMap(map[string]interface{}(cleared), "status")
	assert.Equal(t, map[string]interface{}{"observed": "kept"}, status)

	// An empty status is dropped entirely.
	essence = diff.Essence{
		"status": map[string]interface{}{
			DefaultField: map[string]interface{}{"dummy": "x"},
		},
	}
	cleared = s.Clear(essence)
	_, found := cleared["status"]
	assert.False(t, found)
}

func TestSmartStoreAsymmetry(t *testing.T) {
	annotations := NewAnnotationsStore()
	status := NewStatusStore()
	smart := NewSmartStore(annotations, status)
	rec := &Record{Retries: 3}

	// Writes go to every backend.
	patch := object.NewPatch()
	assert.Nil(t, smart.Store("h", rec, object.Body{}, patch))
	stored := patch.ApplyTo(object.Body{})

	fromAnnotations, err := annotations.Fetch("h", stored)
	assert.Nil(t, err)
	assert.NotNil(t, fromAnnotations)
	fromStatus, err := status.Fetch("h", stored)
	assert.Nil(t, err)
	assert.NotNil(t, fromStatus)

	// Reads return the first non-nil record in backend order.
	onlyStatus := object.Body{
		"status": map[string]interface{}{
			DefaultField: map[string]interface{}{
				"progress": map[string]interface{}{
					"h": map[string]interface{}{"retries": int64(7)},
				},
			},
		},
	}
	rec, err = smart.Fetch("h", onlyStatus)
	assert.Nil(t, err)
	assert.Equal(t, 7, rec.Retries)

	// The annotations backend wins when both carry the key.
	annPatch := object.NewPatch()
	assert.Nil(t, annotations.Store("h", &Record{Retries: 3}, object.Body{}, annPatch))
	both := annPatch.ApplyTo(onlyStatus)
	rec, err = smart.Fetch("h", both)
	assert.Nil(t, err)
	assert.Equal(t, 3, rec.Retries)

	// Purges hit every backend.
	purge := object.NewPatch()
	assert.Nil(t, smart.Purge("h", both, purge))
	val, found := purge.Field("metadata", "annotations", "kreactor.dev/h")
	assert.True(t, found)
	assert.Nil(t, val)
	val, found = purge.Field("status", DefaultField, "progress", "h")
	assert.True(t, found)
	assert.Nil(t, val)
}

func TestSmartDiffbaseStore(t *testing.T) {
	smart := NewSmartDiffbaseStore()
	essence := diff.Essence{"spec": map[string]interface{}{"a": "1"}}

	patch := object.NewPatch()
	assert.Nil(t, smart.StoreEssence(essence, object.Body{}, patch))
	stored := patch.ApplyTo(object.Body{})

	// Both layouts are populated.
	_, found := patch.Field("metadata", "annotations", "kreactor.dev/"+diffbaseName)
	assert.True(t, found)
	_, found = patch.Field("status", DefaultField, diffbaseName)
	assert.True(t, found)

	restored, err := smart.FetchEssence(stored)
	assert.Nil(t, err)
	assert.True(t, diff.Compare(essence, restored).Empty())

	assert.Equal(t, []string{DefaultPrefix}, smart.Prefixes())
}
