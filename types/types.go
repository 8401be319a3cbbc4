package types

import "time"

// Operation identifies which cache mutation a synchronization message carries.
// It is a closed enumeration owned by the protocol; the wire tags never change
// even if a store implementation renames its own methods.
type Operation string

// Operation tags for cache synchronization messages.
const (
	// OpClear evicts every entry from the receiving store. Local apply only:
	// a received Clear must never be rebroadcast to peers.
	OpClear Operation = "clear"

	// OpRemove removes the entry for Key.
	OpRemove Operation = "remove"

	// OpSet upserts the entry for Key with the message's value and TTL.
	OpSet Operation = "set"

	// OpRemoveByPrefix removes every entry whose key starts with Key.
	OpRemoveByPrefix Operation = "remove_by_prefix"
)

// Valid reports whether op is part of the closed enumeration.
func (op Operation) Valid() bool {
	switch op {
	case OpClear, OpRemove, OpSet, OpRemoveByPrefix:
		return true
	}
	return false
}

// Entry is the optional payload of a synchronization message.
type Entry struct {
	// Value is the cached value. It is opaque to the protocol and crosses
	// the wire with an explicit type discriminator.
	Value any

	// TTL is the entry's time to live. Zero means no expiration.
	TTL time.Duration

	// WrittenAt is the instant the mutation occurred at the origin node.
	// Stores use it for last-writer-wins conflict resolution across peers.
	WrittenAt time.Time
}

// Message describes one cache operation. A message is created when a node
// mutates its cache, exists only inside the transmitted frame, and is
// discarded immediately after the receiver applies it.
type Message struct {
	Op    Operation
	Key   string
	Entry *Entry
}

// Batch is an ordered sequence of messages transmitted as one frame.
// Order is semantically significant: receivers apply messages sequentially
// and never merge, dedup, or reorder them.
type Batch []Message

// NewSet builds a Set message.
func NewSet(key string, value any, ttl time.Duration, writtenAt time.Time) Message {
	return Message{
		Op:    OpSet,
		Key:   key,
		Entry: &Entry{Value: value, TTL: ttl, WrittenAt: writtenAt},
	}
}

// NewRemove builds a Remove message.
func NewRemove(key string, writtenAt time.Time) Message {
	return Message{
		Op:    OpRemove,
		Key:   key,
		Entry: &Entry{WrittenAt: writtenAt},
	}
}

// NewRemoveByPrefix builds a RemoveByPrefix message targeting every key
// starting with prefix.
func NewRemoveByPrefix(prefix string, writtenAt time.Time) Message {
	return Message{
		Op:    OpRemoveByPrefix,
		Key:   prefix,
		Entry: &Entry{WrittenAt: writtenAt},
	}
}

// NewClear builds a Clear message.
func NewClear() Message {
	return Message{Op: OpClear}
}
