// Package store provides persistent storage for the gateway using SQLite.
//
// # Data Models
//
//   - Conversation: A chat session owned by a single user
//   - Message: One turn of a conversation, stored as a sequence of blocks
//   - ToolCall: Immutable audit record of a tool invocation
//   - PendingAction: A proposed mutation awaiting user confirmation
//
// Messages carry their content as a JSON array of blocks (text, card,
// action_card) rather than a flat string, so rich tool output survives
// round-trips through the database. Tool calls keep the full untruncated
// arguments and results even when the push stream sends clients a
// truncated rendering.
//
// # Pending-Action Lifecycle
//
// Pending actions move through a small state machine enforced by guarded
// updates: proposed -> accepted or canceled, accepted -> succeeded or
// failed. A transition attempted from the wrong state returns a
// ConflictError naming the status that blocked it.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Foreign keys cascade, so deleting a conversation removes its messages,
// tool calls, and pending actions in one statement. Timestamps are stored
// as RFC3339 UTC text; second precision is fixed-width, so string order
// matches time order and the message seq column breaks same-second ties.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: entity does not exist or belongs to a different owner
//   - ErrConflict: id collision or invalid state transition
//   - ErrBadCursor: pagination cursor does not name a row in the conversation
//
// Every read and write is scoped by owner id; a row owned by someone else
// is indistinguishable from a missing row.
package store
