package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrInvalidRequest indicates the caller passed a nil or malformed request.
	// This is the caller's bug, not a runtime condition.
	ErrInvalidRequest = errors.New("backsync: invalid request")

	// ErrInvalidQueue indicates a queue was constructed with an empty name or nil store.
	ErrInvalidQueue = errors.New("backsync: invalid queue configuration")

	// ErrStoreClosed indicates an operation was attempted on a closed store.
	ErrStoreClosed = errors.New("backsync: store is closed")

	// ErrReplayInProgress indicates a replay pass is already running for the queue.
	ErrReplayInProgress = errors.New("backsync: replay already in progress")

	// ErrUnknownTag indicates a trigger tag that matches no queue.
	ErrUnknownTag = errors.New("backsync: unknown trigger tag")

	// ErrBodyTooLarge indicates a captured body exceeded the configured limit.
	ErrBodyTooLarge = errors.New("backsync: body too large")

	// ErrCorruptRecord indicates a persisted value could not be decoded.
	ErrCorruptRecord = errors.New("backsync: corrupt record")

	// ErrCoordinatorRunning indicates Start was called on a running coordinator.
	ErrCoordinatorRunning = errors.New("backsync: coordinator already running")
)

// StoreOpenError reports that the durable store could not be opened at all.
//
// Unlike other persistence failures it is fatal: no subsequent operation can
// succeed, so Push propagates it instead of converting it into a broadcast.
type StoreOpenError struct {
	// Store names the store location that failed to open.
	Store string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *StoreOpenError) Error() string {
	return "backsync: open store " + e.Store + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *StoreOpenError) Unwrap() error {
	return e.Cause
}

// StatusError reports a replay that reached the server but got a non-2xx status.
type StatusError struct {
	Status int
	URL    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return "backsync: replay of " + e.URL + " returned status " + strconv.Itoa(e.Status)
}

// EntryError wraps the failure of a single entry during a replay pass.
type EntryError struct {
	ID    EntryID
	Cause error
}

// Error implements the error interface.
func (e *EntryError) Error() string {
	return "backsync: entry " + string(e.ID) + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *EntryError) Unwrap() error {
	return e.Cause
}

// ReplayError aggregates the entry failures of one replay pass.
//
// The pass itself ran to completion; the caller (usually the trigger
// mechanism) uses this error to decide whether to re-arm a future trigger.
type ReplayError struct {
	Queue    string
	Failures []*EntryError
}

// Error implements the error interface.
func (e *ReplayError) Error() string {
	var b strings.Builder
	b.WriteString("backsync: replay of queue ")
	b.WriteString(e.Queue)
	b.WriteString(": ")
	b.WriteString(strconv.Itoa(len(e.Failures)))
	b.WriteString(" entries failed")
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, " (first: %v)", e.Failures[0].Cause)
	}

	return b.String()
}

// Unwrap returns the entry errors for errors.Is/As compatibility.
func (e *ReplayError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}

	return errs
}

// IDs returns the ids of the failed entries in replay order.
func (e *ReplayError) IDs() []EntryID {
	ids := make([]EntryID, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.ID
	}

	return ids
}
