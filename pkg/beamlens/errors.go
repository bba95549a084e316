// Package beamlens is the public entry point (spec.md §6): Start brings
// up every configured skill, watcher, and schedule; Run/RunAsync/
// Investigate drive the coordinator; the remaining accessors expose
// read-only operational state (pending alerts, watcher/breaker status).
package beamlens

import "errors"

// Sentinel errors of the public API (spec.md §6). Of these, only
// ErrNotFound is returned by a Supervisor method (WatcherStatus); no code
// in this module returns the others.
var (
	ErrMaxIterationsExceeded = errors.New("beamlens: max iterations exceeded")
	ErrTimeout               = errors.New("beamlens: llm call timed out")
	ErrDeadlineExceeded      = errors.New("beamlens: run deadline exceeded")
	ErrCancelled             = errors.New("beamlens: cancelled")
	ErrCircuitOpen           = errors.New("beamlens: circuit breaker open")
	ErrAlreadyRunning        = errors.New("beamlens: already running")
	ErrNotFound              = errors.New("beamlens: not found")

	// ErrWorkerCrashed names a run whose underlying worker (operator or
	// coordinator) terminated on an unrecoverable error rather than
	// completing normally. No code path returns it: a failed operator
	// inside a coordinator run is only logged (internal/coordinator's
	// handleCompletion), and a panicking operator goroutine is not
	// recovered.
	ErrWorkerCrashed = errors.New("beamlens: worker crashed")
)

// UnknownToolError describes a tool call that names a tool outside the
// closed set the caller presented to the LLM. No code in this module
// returns it.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return "beamlens: unknown tool " + e.Tool
}

// EncodingFailedError wraps a failure to decode a tool call's arguments
// or encode a tool result, keeping the underlying cause available via
// Unwrap.
type EncodingFailedError struct {
	Tool string
	Err  error
}

func (e *EncodingFailedError) Error() string {
	return "beamlens: encoding failed for tool " + e.Tool + ": " + e.Err.Error()
}

func (e *EncodingFailedError) Unwrap() error {
	return e.Err
}
