package backsync

import "github.com/arloliu/backsync/types"

// Type aliases for convenience - re-export from types package.
type (
	EntryID          = types.EntryID
	EntryRecord      = types.EntryRecord
	RequestSnapshot  = types.RequestSnapshot
	ResponseSnapshot = types.ResponseSnapshot
	HeaderPair       = types.HeaderPair
	Event            = types.Event
	EventType        = types.EventType
	Logger           = types.Logger
	MetricsCollector = types.MetricsCollector
)

// Re-export event type constants for convenience.
const (
	EventAdded  = types.EventAdded
	EventFailed = types.EventFailed
)

// Reserved tags and keys.
const (
	// TagPrefix prefixes the trigger tag derived from a queue name.
	TagPrefix = "backsync:"

	// ReplayAllTag is the reserved tag that replays every registered queue.
	ReplayAllTag = "backsync-replay-all"

	// RegistryKey is the store key holding the set of registered queue names.
	RegistryKey = "__backsync_queues__"
)

// QueueTag returns the trigger tag of the named queue.
func QueueTag(name string) string {
	return TagPrefix + name
}

// QueueNameFromTag extracts the queue name from a queue tag.
//
// Returns:
//   - string: The queue name
//   - bool: false if tag is not a queue tag
func QueueNameFromTag(tag string) (string, bool) {
	if len(tag) <= len(TagPrefix) || tag[:len(TagPrefix)] != TagPrefix {
		return "", false
	}

	return tag[len(TagPrefix):], true
}
