package cause

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kubereactor/kreactor/diff"
	"github.com/kubereactor/kreactor/finalizers"
	"github.com/kubereactor/kreactor/object"
)

func TestDetect(t *testing.T) {
	deleting := object.Body{
		"metadata": map[string]interface{}{
			"deletionTimestamp": "2021-02-03T04:05:06Z",
		},
	}
	deletingBlocked := object.Body{
		"metadata": map[string]interface{}{
			"deletionTimestamp": "2021-02-03T04:05:06Z",
			"finalizers":        []interface{}{finalizers.Finalizer},
		},
	}
	live := object.Body{
		"metadata": map[string]interface{}{"name": "obj"},
	}
	oldEssence := diff.Essence{"spec": map[string]interface{}{"a": "1"}}
	change := diff.Diff{{Op: diff.OpChange, Path: []string{"spec", "a"}, Old: "1", New: "2"}}

	cases := []struct {
		name        string
		in          DetectInput
		wantReason  Reason
		wantInitial bool
	}{
		{
			name:       "deleted event wins over everything",
			in:         DetectInput{EventType: EventDeleted, Body: deletingBlocked, OldEssence: oldEssence, NoticedByListing: true},
			wantReason: Gone,
		},
		{
			name:       "deleting and released is free",
			in:         DetectInput{EventType: EventModified, Body: deleting, Finalizer: finalizers.Finalizer, OldEssence: oldEssence},
			wantReason: Free,
		},
		{
			name:       "deleting and blocked is delete",
			in:         DetectInput{EventType: EventModified, Body: deletingBlocked, Finalizer: finalizers.Finalizer, OldEssence: oldEssence},
			wantReason: Delete,
		},
		{
			name:       "no diffbase is create",
			in:         DetectInput{EventType: EventAdded, Body: live},
			wantReason: Create,
		},
		{
			name:       "essential change is update",
			in:         DetectInput{EventType: EventModified, Body: live, OldEssence: oldEssence, Diff: change},
			wantReason: Update,
		},
		{
			name:       "no essential change is noop",
			in:         DetectInput{EventType: EventModified, Body: live, OldEssence: oldEssence},
			wantReason: Noop,
		},
		{
			name:        "initial layers on listing-noticed not-yet-handled objects",
			in:          DetectInput{Body: live, OldEssence: oldEssence, NoticedByListing: true},
			wantReason:  Noop,
			wantInitial: true,
		},
		{
			name:       "initial does not layer once fully handled",
			in:         DetectInput{Body: live, OldEssence: oldEssence, NoticedByListing: true, FullyHandledOnce: true},
			wantReason: Noop,
		},
		{
			name:       "gone is never initial",
			in:         DetectInput{EventType: EventDeleted, Body: live, NoticedByListing: true},
			wantReason: Gone,
		},
		{
			name:        "create can be initial",
			in:          DetectInput{Body: live, NoticedByListing: true},
			wantReason:  Create,
			wantInitial: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			reason, initial := Detect(tc.in)
			assert.Equal(t, tc.wantReason, reason)
			assert.Equal(t, tc.wantInitial, initial)
		})
	}
}
