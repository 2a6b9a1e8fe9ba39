// ABOUTME: Wire contract for the push stream between gateway and clients
// ABOUTME: Defines the event envelope, event kinds, payload shapes, and the size ceiling

package protocol

import (
	"github.com/larderhq/larder-gateway/internal/store"
)

// MaxEventBytes is the ceiling for a single encoded event on the push
// stream. Clients size their line buffers to this; the stream writer
// replaces anything larger with a truncation marker instead of sending it.
const MaxEventBytes = 16 * 1024

// Event kinds carried in the envelope's event field.
const (
	EventStatus          = "status"
	EventToolStarted     = "tool.started"
	EventToolResult      = "tool.result"
	EventBlocksAppend    = "blocks.append"
	EventMessageDelta    = "message.delta"
	EventMessageComplete = "message.complete"
	EventError           = "error"
	EventDone            = "done"
)

// Event is the envelope for every frame on the push stream. The stream is
// newline-delimited JSON: one envelope per line, in production order.
type Event struct {
	Event          string `json:"event"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	Data           any    `json:"data,omitempty"`
}

// StatusData reports a coarse lifecycle state ("thinking") so clients can
// show progress before any content arrives.
type StatusData struct {
	State string `json:"state"`
}

// ToolStartedData announces a tool invocation. Arguments are the truncated
// rendering; the full arguments live in the tool_calls audit table.
type ToolStartedData struct {
	CallID    string         `json:"tool_call_id"`
	Tool      string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResultData reports a finished tool invocation with its truncated
// result rendering. Status is "success" or "error", matching the audit row.
type ToolResultData struct {
	CallID string `json:"tool_call_id"`
	Tool   string `json:"tool_name"`
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
}

// BlocksAppendData carries rich blocks (cards, action cards) appended to
// the assistant message mid-turn.
type BlocksAppendData struct {
	Blocks []store.Block `json:"blocks"`
}

// MessageDeltaData carries an incremental slice of assistant text.
type MessageDeltaData struct {
	Text string `json:"delta"`
}

// MessageCompleteData carries the finalized assistant message content.
type MessageCompleteData struct {
	Blocks []store.Block `json:"blocks"`
}

// ErrorData is the client-safe failure rendering. Message is always a
// canned phrase, never a raw upstream error.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Sink receives events in production order. Implementations must not
// reorder or drop events; a Send error aborts the turn.
type Sink interface {
	Send(ev Event) error
}
