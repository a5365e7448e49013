package models

import (
	"errors"
	"fmt"
)

// Event and record errors
var (
	// ErrMalformedEvent indicates a payload is missing a field required by its event kind.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrNotFound indicates no call record exists for the id.
	ErrNotFound = errors.New("call record not found")
)

// Provider errors
var (
	// ErrProviderTransient indicates an embedding or index call failed in a way worth retrying.
	ErrProviderTransient = errors.New("provider transient failure")

	// ErrProviderFatal indicates an embedding or index call failed permanently or retries ran out.
	ErrProviderFatal = errors.New("provider fatal failure")
)

// Query errors
var (
	// ErrInvalidQuery indicates the query text is empty or whitespace.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrSearchUnavailable indicates the index or embedder could not be reached at query time.
	ErrSearchUnavailable = errors.New("search unavailable")
)

// EventError describes a malformed inbound event.
type EventError struct {
	Header EventHeader
	Kind   EventKind
	Field  string // missing or invalid field
}

func (e *EventError) Error() string {
	return fmt.Sprintf("%s event for call %q: missing %s", e.Kind, e.Header.CallID, e.Field)
}

func (e *EventError) Unwrap() error {
	return ErrMalformedEvent
}

// Reason returns the failure reason stored on the record.
func (e *EventError) Reason() string {
	return fmt.Sprintf("%s: %s missing %s", ReasonMalformedEvent, e.Kind, e.Field)
}

// ProviderError wraps a failed embedding or index call.
type ProviderError struct {
	Op        string // e.g. "embed", "upsert"
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	if e.Transient {
		return []error{ErrProviderTransient, e.Err}
	}
	return []error{ErrProviderFatal, e.Err}
}

// Transient wraps err as a retryable provider failure for op.
func Transient(op string, err error) error {
	return &ProviderError{Op: op, Transient: true, Err: err}
}

// Fatal wraps err as a non-retryable provider failure for op.
func Fatal(op string, err error) error {
	return &ProviderError{Op: op, Err: err}
}

// IsMalformedEvent returns true if err is or wraps ErrMalformedEvent.
func IsMalformedEvent(err error) bool {
	return errors.Is(err, ErrMalformedEvent)
}

// IsNotFound returns true if err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsProviderFatal returns true if err is a provider failure that must not be retried.
func IsProviderFatal(err error) bool {
	return errors.Is(err, ErrProviderFatal)
}

// IsInvalidQuery returns true if err is or wraps ErrInvalidQuery.
func IsInvalidQuery(err error) bool {
	return errors.Is(err, ErrInvalidQuery)
}

// IsSearchUnavailable returns true if err is or wraps ErrSearchUnavailable.
func IsSearchUnavailable(err error) bool {
	return errors.Is(err, ErrSearchUnavailable)
}
