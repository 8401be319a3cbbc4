package protocol

import (
	"context"

	"github.com/minhng/cache-sync/cache"
	"github.com/minhng/cache-sync/types"
)

// Ack is the success acknowledgment written back after a frame applies fully.
const Ack = "OK"

// Result is the outcome of processing one frame. It makes the partial-apply
// contract explicit: Applied counts the messages dispatched successfully
// before the failure, and those are never rolled back.
type Result struct {
	// Applied is the number of messages applied to the store.
	Applied int

	// Err is nil on success. On failure it carries the decode or dispatch
	// category reported back to the sender.
	Err *Error
}

// OK reports whether the frame applied fully.
func (r Result) OK() bool {
	return r.Err == nil
}

// Response renders the result as wire response text: the acknowledgment on
// success, or "ERR <category>: <message>" on failure.
func (r Result) Response() string {
	if r.Err == nil {
		return Ack
	}
	return "ERR " + r.Err.Error()
}

// Handler applies synchronization frames against a store. One handler serves
// one connection for its whole lifetime, cycling through framing, decoding,
// dispatching, and responding once per inbound frame; it holds no shared
// mutable state of its own, so any number of connections may run handlers
// concurrently against the same store.
type Handler struct {
	store  cache.SyncStore
	codec  *Codec
	logger cache.Logger
	peer   string
}

// NewHandler creates a handler. The logger is the observability sink for
// failures and must be supplied by the caller; nil defaults to the no-op
// logger. peer identifies the originating actor in failure reports and may
// be empty.
func NewHandler(store cache.SyncStore, codec *Codec, logger cache.Logger, peer string) *Handler {
	if codec == nil {
		codec = NewCodec(nil, nil)
	}
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}
	return &Handler{store: store, codec: codec, logger: logger, peer: peer}
}

// HandleFrame decodes one frame and applies its messages to the store in
// order. A decode failure short-circuits with zero store calls. A dispatch
// failure stops the batch at the failing message; earlier messages stay
// applied. Every failure is reported to the logger with its category and
// the originating peer before being returned.
func (h *Handler) HandleFrame(ctx context.Context, frame []byte) Result {
	batch, err := h.codec.Decode(frame)
	if err != nil {
		perr := AsError(err, CategoryDecode)
		h.report(perr)
		return Result{Err: perr}
	}

	for i, msg := range batch {
		if err := h.dispatch(ctx, msg); err != nil {
			perr := NewDispatchError(string(msg.Op), msg.Key, err)
			h.report(perr)
			return Result{Applied: i, Err: perr}
		}
	}

	return Result{Applied: len(batch)}
}

// dispatch applies one message. Write timestamps pass through to the store
// untouched; the handler never compares them.
func (h *Handler) dispatch(ctx context.Context, msg types.Message) error {
	entry := msg.Entry
	if entry == nil {
		entry = &types.Entry{}
	}

	switch msg.Op {
	case types.OpClear:
		// Local apply only. Rebroadcasting a received clear would storm.
		return h.store.Clear(ctx, true)
	case types.OpRemove:
		return h.store.Remove(ctx, msg.Key, entry.WrittenAt)
	case types.OpSet:
		return h.store.Set(ctx, msg.Key, entry.Value, entry.TTL, entry.WrittenAt)
	case types.OpRemoveByPrefix:
		return h.store.RemoveByPrefix(ctx, msg.Key, entry.WrittenAt)
	default:
		return NewDecodeError("unknown operation tag %q", msg.Op)
	}
}

func (h *Handler) report(perr *Error) {
	h.logger.Error("frame failed",
		"category", string(perr.Category),
		"error", perr.Msg,
		"peer", h.peer,
	)
}
