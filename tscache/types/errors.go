package types

import "errors"

// The error taxonomy from the cache's error-handling design.
//
// NegativeResult (HTTP 404) and RemoteError (any other non-OK status) are
// deliberately not part of this list: they are not surfaced as Go errors
// to the generator's caller, they are data carried by a slice.Result and
// rendered into the snapshots on the result channel.
var (
	// ErrMalformedRequest means a request was missing its required
	// columns field, or named an incomplete identity. No cache
	// interaction occurs.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrTransientRemote means a slice fetch returned HTTP 500 and
	// exhausted its retries.
	ErrTransientRemote = errors.New("transient remote error")

	// ErrInvalidInput means Range.Difference was called with an absent
	// operand. This is a programming error, not a runtime condition.
	ErrInvalidInput = errors.New("invalid input")
)
