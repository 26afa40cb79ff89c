package chainsync

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrBootstrapFailed is returned when the first fetch of a chain doesn't produce a replica.
	ErrBootstrapFailed = errors.New("bootstrap failed")
	// ErrSync is returned when a tail request gets neither 206 nor 416.
	ErrSync = errors.New("sync failed")
	// ErrTransport is returned when a request could not be completed.
	ErrTransport = errors.New("transport")
	// ErrTruncated is returned when a response was cut before a single whole block arrived.
	ErrTruncated = errors.New("truncated response")
	// ErrRangeMismatch is returned when the server answered a different range than requested.
	ErrRangeMismatch = errors.New("content range mismatch")

	ErrCountMismatch = errors.New("block count mismatch")
	ErrTailMismatch  = errors.New("tail hash mismatch")
)

// StatusError carries the unexpected HTTP status of a failed bootstrap or sync.
// It unwraps to ErrBootstrapFailed or ErrSync.
type StatusError struct {
	Kind   error
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: unexpected status %d %s", e.Kind, e.Status, http.StatusText(e.Status))
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}
