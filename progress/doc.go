// Package progress persists per-handler execution state and the last-handled
// essence (the diffbase) on the object itself, in annotations or in a status
// subtree. Persisting on the object lets the process be killed and resumed,
// by this or another operator instance, without losing in-flight work.
package progress
