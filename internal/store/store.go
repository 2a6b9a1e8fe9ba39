// ABOUTME: Store interface and data types for larder-gateway persistence
// ABOUTME: Defines Conversation, Message, ToolCall, PendingAction and the Store interface

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist or is
// owned by a different identity. The two cases are deliberately
// indistinguishable to the caller.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an entity is not in the state required for
// the attempted operation.
var ErrConflict = errors.New("conflict")

// ErrBadCursor is returned when a pagination cursor does not resolve to a
// message in the requested conversation for the requesting owner.
var ErrBadCursor = errors.New("invalid cursor")

// ConflictError reports a pending action whose current status prevents the
// attempted transition. It matches ErrConflict under errors.Is.
type ConflictError struct {
	Status ActionStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("pending action is %s", e.Status)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Block type constants for message content blocks.
const (
	BlockText       = "text"
	BlockCard       = "card"
	BlockActionCard = "action_card"
)

// Block is one typed content block within a message body. Messages carry an
// ordered sequence of blocks; unknown types are preserved verbatim by clients.
type Block struct {
	Type string `json:"type"`

	// Text is set for "text" blocks.
	Text string `json:"text,omitempty"`

	// Card is set for "card" blocks (free-form display card, e.g. a recipe).
	Card map[string]any `json:"card,omitempty"`

	// The remaining fields are set for "action_card" blocks, which surface a
	// pending action awaiting owner confirmation.
	ActionID    string `json:"action_id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	AcceptLabel string `json:"accept_label,omitempty"`
	CancelLabel string `json:"cancel_label,omitempty"`
}

// Message metadata keys.
const (
	MetaStreaming = "streaming"
	MetaFailed    = "failed"
)

// Conversation is one owner-scoped chat session. The id is chosen by the
// client so streaming can begin before the row exists; rows are created
// lazily by GetOrCreateConversation.
type Conversation struct {
	ID             string
	OwnerID        string
	Title          string
	Summary        string
	SummarySource  string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Message is a single message within a conversation. Seq is assigned by the
// database in insertion order and breaks creation-timestamp ties during
// cursor pagination.
type Message struct {
	Seq            int64
	ID             string
	ConversationID string
	OwnerID        string
	Role           Role
	Blocks         []Block
	Metadata       map[string]any
	CreatedAt      time.Time
}

// IsStreaming reports whether the message still carries the streaming flag,
// i.e. it is an assistant placeholder whose turn has not finished.
func (m *Message) IsStreaming() bool {
	v, ok := m.Metadata[MetaStreaming].(bool)
	return ok && v
}

// TextContent returns the concatenated text of all text blocks.
func (m *Message) TextContent() string {
	var parts []string
	for _, b := range m.Blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolCallStatus is the terminal outcome of an audited tool invocation.
type ToolCallStatus string

const (
	ToolCallSuccess ToolCallStatus = "success"
	ToolCallError   ToolCallStatus = "error"
)

// ToolCall is an immutable audit record of one tool invocation made by the
// assistant during a turn. It is written before any protocol event that
// describes the same call, and always stores the full untruncated result.
type ToolCall struct {
	ID             string
	ConversationID string
	OwnerID        string
	MessageID      string // optional; the assistant message the call belongs to
	ToolName       string
	Arguments      map[string]any
	Result         map[string]any // nil when the call produced no payload
	Status         ToolCallStatus
	ErrorText      string
	StartedAt      time.Time
	FinishedAt     time.Time
	Metadata       map[string]any
}

// Tool call metadata keys.
const (
	MetaCallID          = "call_id"
	MetaPendingActionID = "pending_action_id"
)

// ActionStatus is the lifecycle state of a pending action. Transitions are
// monotonic: proposed -> accepted|canceled, accepted -> succeeded|failed.
type ActionStatus string

const (
	ActionProposed  ActionStatus = "proposed"
	ActionAccepted  ActionStatus = "accepted"
	ActionCanceled  ActionStatus = "canceled"
	ActionSucceeded ActionStatus = "succeeded"
	ActionFailed    ActionStatus = "failed"
)

// PendingAction is a proposed state-changing operation awaiting explicit
// owner confirmation before execution.
type PendingAction struct {
	ID             string
	ConversationID string
	OwnerID        string
	MessageID      string // optional; the message that proposed the action
	ToolName       string
	Arguments      map[string]any
	Title          string
	Description    string
	AcceptLabel    string
	CancelLabel    string
	Status         ActionStatus
	CancelReason   string
	Result         map[string]any
	ErrorText      string
	CreatedAt      time.Time
	AcceptedAt     *time.Time
	CanceledAt     *time.Time
	ExecutedAt     *time.Time
}

// Store defines owner-scoped persistence for conversations and their
// dependent entities. Every read and write filters by owner in addition to
// any other key.
type Store interface {
	// Conversations
	GetOrCreateConversation(ctx context.Context, id, ownerID, title string) (*Conversation, error)
	GetConversation(ctx context.Context, id, ownerID string) (*Conversation, error)
	TouchConversation(ctx context.Context, id, ownerID string, t time.Time) error
	UpdateConversationTitle(ctx context.Context, id, ownerID, title string) error
	UpdateConversationSummary(ctx context.Context, id, ownerID, summary, source string) error
	ListConversations(ctx context.Context, ownerID string, limit, offset int) ([]*Conversation, int, bool, error)
	DeleteConversation(ctx context.Context, id, ownerID string) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id, ownerID string) (*Message, error)
	ListMessages(ctx context.Context, conversationID, ownerID string, limit int, beforeID string) ([]*Message, bool, error)
	RecentMessages(ctx context.Context, conversationID, ownerID string, limit int) ([]*Message, error)
	FinalizeMessage(ctx context.Context, id, ownerID string, blocks []Block, metadata map[string]any, t time.Time) error
	UpdateMessageMetadata(ctx context.Context, id, ownerID string, metadata map[string]any) error
	SearchMessages(ctx context.Context, ownerID, query string, limit int) ([]*Message, error)

	// Tool call audit trail (append-only)
	SaveToolCall(ctx context.Context, call *ToolCall) error
	ListToolCalls(ctx context.Context, conversationID, ownerID string, limit int) ([]*ToolCall, error)

	// Pending actions
	CreatePendingAction(ctx context.Context, action *PendingAction) error
	GetPendingAction(ctx context.Context, id, ownerID string) (*PendingAction, error)
	ListPendingActions(ctx context.Context, conversationID, ownerID string, status ActionStatus) ([]*PendingAction, error)
	AcceptPendingAction(ctx context.Context, id, ownerID string, t time.Time) error
	CancelPendingAction(ctx context.Context, id, ownerID, reason string, t time.Time) error
	CompletePendingAction(ctx context.Context, id, ownerID string, status ActionStatus, result map[string]any, errText string, t time.Time) error

	// Close releases any resources held by the store
	Close() error
}
