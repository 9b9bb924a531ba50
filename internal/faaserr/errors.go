// Package faaserr collects the error taxonomy shared by every component in
// the dispatch fabric, so callers can errors.Is against a fixed vocabulary
// instead of matching on error strings.
package faaserr

import "errors"

var (
	// ErrFrameTooLarge mirrors framing.ErrFrameTooLarge at the component
	// boundary (handled locally: reply with an error, never kill the peer).
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrMalformedFrame is a frame that parsed as JSON-lines but failed
	// schema validation for its declared type.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrChannelClosed surfaces a transport failure to the caller.
	ErrChannelClosed = errors.New("channel closed")

	// ErrNoWorker means every slot is non-selectable.
	ErrNoWorker = errors.New("no worker available")

	// ErrWorkerUnavailable means the selected slot was not Idle at submit
	// time; the Dispatcher may retry a different slot.
	ErrWorkerUnavailable = errors.New("worker unavailable")

	// ErrWorkerFailed covers timeout, crash, or I/O error on a submit; the
	// Dispatcher may retry, the Supervisor will respawn the slot.
	ErrWorkerFailed = errors.New("worker failed")

	// ErrFunctionNotFound is a worker-side storage lookup miss. It is
	// returned as an error reply, never worker-fatal.
	ErrFunctionNotFound = errors.New("function not found")

	// ErrSandboxTrap is any sandboxed-execution failure (trap, parse
	// error, resource-limit kill). Returned as an error reply; the worker
	// survives it.
	ErrSandboxTrap = errors.New("sandbox trap")
)
