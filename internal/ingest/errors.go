package ingest

import (
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/vitalsync/internal/normalizer"
)

var (
	// ErrStoreUnavailable marks a retryable failure: the delivery may have
	// been partly persisted and should be redelivered whole.
	ErrStoreUnavailable = errors.New("event store unavailable")
	// ErrQueueFull is returned when the engine cannot accept more work.
	ErrQueueFull = errors.New("ingest queue full")
	// ErrTimeout is returned when a synchronous delivery outlives its deadline.
	ErrTimeout = errors.New("ingest timed out")
)

// ValidationError reports a payload that failed decoding or its envelope
// schema. Nothing from the payload is written.
type ValidationError struct {
	Source string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.Source, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// UnknownSourceError reports a source no normalizer accepts.
type UnknownSourceError struct {
	Source string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown source %q", e.Source)
}

func (e *UnknownSourceError) Unwrap() error { return normalizer.ErrUnknownSource }

// Retryable reports whether err is a transient failure that a sender should
// retry with the same payload.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrQueueFull) || errors.Is(err, ErrTimeout)
}
