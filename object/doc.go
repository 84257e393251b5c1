// Package object provides helpers to read and modify the raw JSON-like tree
// of a Kubernetes object (the "body"), and a merge-patch accumulator that
// collects all the changes of one reaction cycle into a single PATCH payload.
package object
