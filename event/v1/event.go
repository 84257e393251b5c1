package v1

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/tools/record"

	"github.com/kubereactor/kreactor/object"
)

// ReactionEvent represents a handler having actually done (or failed to do)
// anything to an object. Any meaningful outcome should have an associated
// event.
type ReactionEvent interface {

	// Record this into an event recorder as a Kubernetes API event.
	Record(recorder record.EventRecorder)
}

// HandlerSucceeded is emitted when a handler finishes successfully.
type HandlerSucceeded struct {
	Body      object.Body
	HandlerID string
}

func (e *HandlerSucceeded) Record(recorder record.EventRecorder) {
	recorder.Event(object.Unstructured(e.Body),
		corev1.EventTypeNormal,
		"Success",
		fmt.Sprintf("Handler %q succeeded", e.HandlerID),
	)
}

// HandlerFailed is emitted when a handler fails permanently.
type HandlerFailed struct {
	Body      object.Body
	HandlerID string
	Message   string
}

func (e *HandlerFailed) Record(recorder record.EventRecorder) {
	recorder.Event(object.Unstructured(e.Body),
		corev1.EventTypeWarning,
		"Failure",
		fmt.Sprintf("Handler %q failed: %s", e.HandlerID, e.Message),
	)
}

// HandlerRetried is emitted when a handler fails temporarily and a retry is
// scheduled.
type HandlerRetried struct {
	Body      object.Body
	HandlerID string
	Message   string
}

func (e *HandlerRetried) Record(recorder record.EventRecorder) {
	recorder.Event(object.Unstructured(e.Body),
		corev1.EventTypeWarning,
		"Retry",
		fmt.Sprintf("Handler %q failed temporarily: %s", e.HandlerID, e.Message),
	)
}
