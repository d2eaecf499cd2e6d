package types

import (
	"net/http"
	"time"
)

// EntryID identifies one queued request.
//
// It has the form "{url}!{unixNano}!{seq}" and is the primary key of both the
// entry's request snapshot and, after a successful replay, its response.
// An EntryID is never reused: every Push mints a fresh one.
type EntryID string

// String returns the string representation of the EntryID.
func (id EntryID) String() string {
	return string(id)
}

// HeaderPair is a single header line. Headers are kept as an ordered list of
// pairs so duplicate names and insertion order survive serialization.
type HeaderPair struct {
	Name  string
	Value string
}

// Request modes recorded with a snapshot.
const (
	ModeCORS       = "cors"
	ModeNoCORS     = "no-cors"
	ModeSameOrigin = "same-origin"
	ModeNavigate   = "navigate"
)

// Redirect policies recorded with a snapshot.
const (
	RedirectFollow = "follow"
	RedirectError  = "error"
	RedirectManual = "manual"
)

// RequestSnapshot is a storage-safe copy of an outgoing request.
type RequestSnapshot struct {
	// URL is the absolute request URL.
	URL string

	// Method is the HTTP method, upper-cased.
	Method string

	// Mode is the request mode (cors, no-cors, same-origin, navigate).
	Mode string

	// Redirect is the redirect policy (follow, error, manual).
	Redirect string

	// Headers holds the request headers in order.
	Headers []HeaderPair

	// Body is nil when the original request had no body.
	Body []byte
}

// HasBody reports whether the snapshot carries a request body.
func (s *RequestSnapshot) HasBody() bool {
	return s.Body != nil
}

// ResponseSnapshot is a storage-safe copy of a replay response.
// It is immutable once created.
type ResponseSnapshot struct {
	Status  int
	Headers []HeaderPair
	Body    []byte
}

// OK reports whether the status is in the 2xx range.
func (s *ResponseSnapshot) OK() bool {
	return s.Status >= http.StatusOK && s.Status < http.StatusMultipleChoices
}

// EntryConfig holds per-entry retention settings.
type EntryConfig struct {
	// MaxAge is how long the entry is retained after creation.
	MaxAge time.Duration
}

// EntryMetadata holds bookkeeping captured at enqueue time.
type EntryMetadata struct {
	CreatedAt time.Time
}

// EntryRecord is the persisted form of one queue entry.
//
// Response is nil until a replay succeeds. The record is always rewritten as
// a whole, so the transition from "no response" to "has response" is atomic.
type EntryRecord struct {
	Request  RequestSnapshot
	Config   EntryConfig
	Metadata EntryMetadata
	Response *ResponseSnapshot
}

// Expired reports whether the record's retention window has elapsed at now.
func (r *EntryRecord) Expired(now time.Time) bool {
	return !now.Before(r.Metadata.CreatedAt.Add(r.Config.MaxAge))
}

// Replayed reports whether a response has been attached to the record.
func (r *EntryRecord) Replayed() bool {
	return r.Response != nil
}

// QueueState is the persisted order list of a queue plus its id sequence.
type QueueState struct {
	IDs []EntryID
	Seq uint64
}

// EventType is the kind of broadcast event.
type EventType string

const (
	// EventAdded announces that a request was durably queued.
	EventAdded EventType = "added"
	// EventFailed announces that a request could not be queued.
	EventFailed EventType = "failed"
)

// Event is the payload published by a Notifier.
type Event struct {
	Type   EventType `json:"type"`
	ID     EntryID   `json:"id"`
	URL    string    `json:"url"`
	Queue  string    `json:"queue,omitempty"`
	Origin string    `json:"origin,omitempty"`
}

// ConnectivityUpdate represents a change in network reachability.
type ConnectivityUpdate struct {
	// Online is true when the network is reachable.
	Online bool

	// Reason is an optional human-readable explanation.
	Reason string
}
