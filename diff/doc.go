// Package diff extracts a comparison-stable "essence" from an object body
// and computes structural diffs between two essences. The essence excludes
// the system-managed fields and the reactor's own bookkeeping, so that only
// meaningful changes produce a non-empty diff.
package diff
