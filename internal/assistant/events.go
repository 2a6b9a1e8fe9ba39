// ABOUTME: Closed event vocabulary produced by providers while running a turn.
// ABOUTME: Consumers type-switch over these; Unknown is the ignored catch-all.

package assistant

import "encoding/json"

// Event is one observable step of an assistant turn. The variant set is
// closed: only the types in this file implement it, so consumers can
// type-switch exhaustively. Unknown exists for frames an adapter does not
// recognize; it is safe to ignore.
type Event interface {
	assistantEvent()
}

// ToolStarted reports that the provider began a tool invocation.
type ToolStarted struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// ToolResolved reports a finished tool invocation. Result carries the raw
// tool output when IsError is false; Error carries the failure text when
// IsError is true. Exactly one ToolResolved follows each ToolStarted.
type ToolResolved struct {
	CallID  string
	Name    string
	Result  json.RawMessage
	IsError bool
	Error   string
}

// TextDelta carries a chunk of assistant prose as the model produces it.
type TextDelta struct {
	Text string
}

// TurnFinished carries the provider's final payload and terminates the event
// sequence of a successful turn.
type TurnFinished struct {
	Result json.RawMessage
}

// Unknown marks a provider frame the adapter did not recognize.
type Unknown struct {
	Kind string
}

func (ToolStarted) assistantEvent()  {}
func (ToolResolved) assistantEvent() {}
func (TextDelta) assistantEvent()    {}
func (TurnFinished) assistantEvent() {}
func (Unknown) assistantEvent()      {}
