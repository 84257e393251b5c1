// Package handling defines the error taxonomy of handler execution and the
// outcome value produced by every invocation attempt. Errors are classified
// by behavior interfaces rather than concrete types, so user code can bring
// its own error types as long as they implement the behavior.
// Refer https://dave.cheney.net/2016/04/27/dont-just-check-errors-handle-them-gracefully
// for the reasoning behind behavior-based error checking.
package handling
