// Package cause classifies a raw watch event, together with the diff against
// the last-handled state, into the reason the reactor reacts: why are we
// here for this object at this moment.
package cause

import (
	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/kubereactor/kreactor/diff"
	"github.com/kubereactor/kreactor/finalizers"
	"github.com/kubereactor/kreactor/object"
)

// EventType is the raw watch event type. The zero value stands for the
// synthetic events injected by the reactor itself.
type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventModified EventType = "MODIFIED"
	EventDeleted  EventType = "DELETED"
)

// Reason is the classified cause of a reaction.
type Reason string

const (
	// Gone: the object is actually gone from the API; nothing further can
	// be done to it.
	Gone Reason = "gone"

	// Free: marked for deletion and already released from our finalizer;
	// nothing blocks, nothing to do.
	Free Reason = "free"

	// Create: seen for the first time, with no diffbase recorded yet.
	Create Reason = "create"

	// Update: an essential change against the recorded diffbase.
	Update Reason = "update"

	// Delete: marked for deletion while our finalizer still blocks it.
	Delete Reason = "delete"

	// Noop: an event with no essential change; nothing to handle.
	Noop Reason = "noop"

	// Resume is the layered classification for pre-existing objects seen
	// on operator (re)start; resume-registered handlers become eligible.
	Resume Reason = "resume"
)

// ResourceCause captures one reaction for one object: the reason and every
// piece of context the handlers may need. It is immutable except for the
// patch accumulator and the user memo.
type ResourceCause struct {
	Reason     Reason
	Resource   schema.GroupVersionResource
	Body       object.Body
	OldEssence diff.Essence
	NewEssence diff.Essence
	Diff       diff.Diff
	Patch      *object.Patch
	Logger     logr.Logger
	Memo       map[string]interface{}

	// Initial is true when the RESUME classification is layered on top of
	// the base reason: the operator just (re)started and this pre-existing
	// object has not been fully handled in this process yet.
	Initial bool
}

// DetectInput is everything the classification decision needs.
type DetectInput struct {
	EventType        EventType
	Body             object.Body
	Finalizer        string
	OldEssence       diff.Essence
	Diff             diff.Diff
	NoticedByListing bool
	FullyHandledOnce bool
}

// Detect classifies the event. The decision table is total: exactly one of
// the base reasons is produced, first match wins, and Initial is layered
// independently.
func Detect(in DetectInput) (Reason, bool) {
	initial := in.NoticedByListing && !in.FullyHandledOnce

	switch {
	case in.EventType == EventDeleted:
		return Gone, false
	case finalizers.HasDeletionTimestamp(in.Body) && !finalizers.IsPresent(in.Body, in.Finalizer):
		return Free, false
	case finalizers.HasDeletionTimestamp(in.Body):
		return Delete, initial
	case in.OldEssence == nil:
		// Finalizer presence only gates deletion blocking; it never
		// changes the classification of a first-seen object.
		return Create, initial
	case !in.Diff.Empty():
		return Update, initial
	default:
		return Noop, initial
	}
}
