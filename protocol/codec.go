package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/minhng/cache-sync/cache"
	"github.com/minhng/cache-sync/types"
)

// wireValue carries one payload value with its explicit type discriminator.
type wireValue struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// wireEntry mirrors types.Entry on the wire. TTL travels as integer
// milliseconds and the write timestamp as an RFC 3339 instant, keeping the
// frame language-independent.
type wireEntry struct {
	Value     *wireValue `json:"value,omitempty"`
	TTLMillis int64      `json:"ttl_ms,omitempty"`
	WrittenAt string     `json:"written_at,omitempty"`
}

// wireMessage mirrors types.Message on the wire.
type wireMessage struct {
	Op    string     `json:"op"`
	Key   string     `json:"key,omitempty"`
	Entry *wireEntry `json:"entry,omitempty"`
}

// Codec serializes an ordered batch of messages to and from a UTF-8 text
// frame. The marshaller must produce JSON text (the default JSONMarshaller
// does); payload values are encoded through the allow-listed ValueRegistry.
type Codec struct {
	marshaller cache.Marshaller
	registry   *ValueRegistry
}

// NewCodec creates a codec. A nil marshaller defaults to JSON and a nil
// registry defaults to the built-in discriminators.
func NewCodec(m cache.Marshaller, r *ValueRegistry) *Codec {
	if m == nil {
		m = cache.NewJSONMarshaller()
	}
	if r == nil {
		r = NewValueRegistry()
	}
	return &Codec{marshaller: m, registry: r}
}

// Registry returns the codec's value registry, for registering custom
// payload types.
func (c *Codec) Registry() *ValueRegistry {
	return c.registry
}

// Encode produces one UTF-8 text frame containing the ordered batch.
func (c *Codec) Encode(batch types.Batch) ([]byte, error) {
	wire := make([]wireMessage, 0, len(batch))
	for i, msg := range batch {
		wm, err := c.encodeMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("encode message %d: %w", i, err)
		}
		wire = append(wire, wm)
	}
	return c.marshaller.Marshal(wire)
}

func (c *Codec) encodeMessage(msg types.Message) (wireMessage, error) {
	if !msg.Op.Valid() {
		return wireMessage{}, fmt.Errorf("unknown operation tag %q", msg.Op)
	}

	wm := wireMessage{Op: string(msg.Op), Key: msg.Key}
	if msg.Entry == nil {
		if msg.Op != types.OpClear {
			return wireMessage{}, fmt.Errorf("operation %q requires an entry", msg.Op)
		}
		return wm, nil
	}

	we := &wireEntry{TTLMillis: msg.Entry.TTL.Milliseconds()}
	if !msg.Entry.WrittenAt.IsZero() {
		we.WrittenAt = msg.Entry.WrittenAt.Format(time.RFC3339Nano)
	}

	if msg.Entry.Value != nil {
		name, normalized, ok := c.registry.NameFor(msg.Entry.Value)
		if !ok {
			return wireMessage{}, fmt.Errorf("unregistered value type %T", msg.Entry.Value)
		}
		data, err := c.marshaller.Marshal(normalized)
		if err != nil {
			return wireMessage{}, fmt.Errorf("marshal value for key %q: %w", msg.Key, err)
		}
		we.Value = &wireValue{Type: name, Data: data}
	}

	wm.Entry = we
	return wm, nil
}

// Decode parses one frame into an ordered batch. Failures return a
// decode-category *Error: malformed text, an operation tag outside the
// closed enumeration, a value discriminator that cannot be resolved safely,
// or a keyed operation missing its key or timestamp. No partial batch is
// returned on failure.
func (c *Codec) Decode(data []byte) (types.Batch, error) {
	var wire []wireMessage
	if err := c.marshaller.Unmarshal(data, &wire); err != nil {
		return nil, &Error{Category: CategoryDecode, Msg: "malformed frame", Err: err}
	}

	batch := make(types.Batch, 0, len(wire))
	for i, wm := range wire {
		msg, err := c.decodeMessage(wm)
		if err != nil {
			perr := AsError(err, CategoryDecode)
			perr.Msg = fmt.Sprintf("message %d: %s", i, perr.Msg)
			return nil, perr
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

func (c *Codec) decodeMessage(wm wireMessage) (types.Message, error) {
	op := types.Operation(wm.Op)
	if !op.Valid() {
		return types.Message{}, NewDecodeError("unknown operation tag %q", wm.Op)
	}

	msg := types.Message{Op: op, Key: wm.Key}
	if op == types.OpClear {
		// Key and entry are ignored for clear.
		msg.Key = ""
		return msg, nil
	}

	if wm.Key == "" {
		return types.Message{}, NewDecodeError("operation %q missing key", wm.Op)
	}
	if wm.Entry == nil {
		return types.Message{}, NewDecodeError("operation %q missing entry", wm.Op)
	}
	if wm.Entry.TTLMillis < 0 {
		return types.Message{}, NewDecodeError("negative ttl %d", wm.Entry.TTLMillis)
	}
	if wm.Entry.WrittenAt == "" {
		return types.Message{}, NewDecodeError("operation %q missing write timestamp", wm.Op)
	}

	writtenAt, err := time.Parse(time.RFC3339Nano, wm.Entry.WrittenAt)
	if err != nil {
		return types.Message{}, &Error{Category: CategoryDecode, Msg: "invalid write timestamp", Err: err}
	}

	entry := &types.Entry{
		TTL:       time.Duration(wm.Entry.TTLMillis) * time.Millisecond,
		WrittenAt: writtenAt,
	}

	if op == types.OpSet {
		if wm.Entry.Value == nil {
			return types.Message{}, NewDecodeError("set for key %q missing value", wm.Key)
		}
		value, err := c.registry.Decode(wm.Entry.Value.Type, wm.Entry.Value.Data, c.marshaller)
		if err != nil {
			return types.Message{}, err
		}
		entry.Value = value
	}

	msg.Entry = entry
	return msg, nil
}
