// ABOUTME: Tests for message persistence, pagination, and streaming finalization
// ABOUTME: Covers block round-trips, keyset cursors, recent-history reads, and search

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// seedConversation creates a conversation to hang test messages off.
func seedConversation(t *testing.T, store *SQLiteStore, id, ownerID string) {
	t.Helper()
	_, err := store.GetOrCreateConversation(context.Background(), id, ownerID, "Test chat")
	require.NoError(t, err)
}

func TestStore_SaveMessage_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedConversation(t, store, "conv-1", "owner-1")

	msg := &Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		OwnerID:        "owner-1",
		Role:           RoleAssistant,
		Blocks: []Block{
			{Type: BlockText, Text: "Here are some ideas"},
			{Type: BlockCard, Card: map[string]any{"type": "recipe", "title": "Miso ramen"}},
		},
		Metadata:  map[string]any{MetaStreaming: false},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	err := store.SaveMessage(ctx, msg)
	require.NoError(t, err)
	assert.NotZero(t, msg.Seq, "seq should be assigned on insert")

	got, err := store.GetMessage(ctx, "msg-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, RoleAssistant, got.Role)
	require.Len(t, got.Blocks, 2)
	assert.Equal(t, BlockText, got.Blocks[0].Type)
	assert.Equal(t, "Here are some ideas", got.Blocks[0].Text)
	assert.Equal(t, BlockCard, got.Blocks[1].Type)
	assert.Equal(t, "Miso ramen", got.Blocks[1].Card["title"])
	assert.Equal(t, false, got.Metadata[MetaStreaming])
	assert.Equal(t, msg.CreatedAt, got.CreatedAt)
}

func TestStore_SaveMessage_DuplicateID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedConversation(t, store, "conv-1", "owner-1")

	msg := &Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		OwnerID:        "owner-1",
		Role:           RoleUser,
		Blocks:         []Block{{Type: BlockText, Text: "hi"}},
	}
	require.NoError(t, store.SaveMessage(ctx, msg))

	err := store.SaveMessage(ctx, msg)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStore_SaveMessage_EmptyBlocks(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedConversation(t, store, "conv-1", "owner-1")

	// Streaming placeholders start with no content at all
	msg := &Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		OwnerID:        "owner-1",
		Role:           RoleAssistant,
		Metadata:       map[string]any{MetaStreaming: true},
	}
	require.NoError(t, store.SaveMessage(ctx, msg))

	got, err := store.GetMessage(ctx, "msg-1", "owner-1")
	require.NoError(t, err)
	assert.Empty(t, got.Blocks)
	assert.True(t, got.IsStreaming())
}

func seedMessages(t *testing.T, store *SQLiteStore, conversationID, ownerID string, n int) time.Time {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second).Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msg := &Message{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: conversationID,
			OwnerID:        ownerID,
			Role:           role,
			Blocks:         []Block{{Type: BlockText, Text: fmt.Sprintf("message %d", i)}},
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.SaveMessage(ctx, msg))
	}
	return base
}

func TestStore_ListMessages_Pagination(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedConversation(t, store, "conv-1", "owner-1")
	seedMessages(t, store, "conv-1", "owner-1", 5)

	// First page: newest two, returned oldest-first
	page, hasMore, err := store.ListMessages(ctx, "conv-1", "owner-1", 2, "")
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, page, 2)
	assert.Equal(t, "msg-3", page[0].ID)
	assert.Equal(t, "msg-4", page[1].ID)

	// Walk backwards with the cursor
	page, hasMore, err = store.ListMessages(ctx, "conv-1", "owner-1", 2, "msg-3")
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, page, 2)
	assert.Equal(t, "msg-1", page[0].ID)
	assert.Equal(t, "msg-2", page[1].ID)

	// Last page is short and reports no more
	page, hasMore, err = store.ListMessages(ctx, "conv-1", "owner-1", 2, "msg-1")
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, page, 1)
	assert.Equal(t, "msg-0", page[0].ID)
}

func TestStore_ListMessages_BadCursor(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedConversation(t, store, "conv-1", "owner-1")
	seedConversation(t, store, "conv-2", "owner-1")
	seedMessages(t, store, "conv-1", "owner-1", 3)

	// Unknown message id
	_, _, err := store.ListMessages(ctx, "conv-1", "owner-1", 10, "no-such-message")
	assert.ErrorIs(t, err, ErrBadCursor)

	// A real message from a different conversation is just as invalid
	other := &Message{
		ID:             "msg-elsewhere",
		ConversationID: "conv-2",
		OwnerID:        "owner-1",
		Role:           RoleUser,
		Blocks:         []Block{{Type: BlockText, Text: "hi"}},
	}
	require.NoError(t, store.SaveMessage(ctx, other))

	_, _, err = store.ListMessages(ctx, "conv-1", "owner-1", 10, "msg-elsewhere")
	assert.ErrorIs(t, err, ErrBadCursor)
}

func TestStore_ListMessages_SameSecondOrdering(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedConversation(t, store, "conv-1", "owner-1")

	// All three share a timestamp; insertion order must win via seq
	at := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		msg := &Message{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: "conv-1",
			OwnerID:        "owner-1",
			Role:           RoleUser,
			Blocks:         []Block{{Type: BlockText, Text: fmt.Sprintf("m%d", i)}},
			CreatedAt:      at,
		}
		require.NoError(t, store.SaveMessage(ctx, msg))
	}

	page, hasMore, err := store.ListMessages(ctx, "conv-1", "owner-1", 10, "")
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, page, 3)
	assert.Equal(t, "msg-0", page[0].ID)
	assert.Equal(t, "msg-1", page[1].ID)
	assert.Equal(t, "msg-2", page[2].ID)

	// Cursor on the middle message splits the same-second run correctly
	page, _, err = store.ListMessages(ctx, "conv-1", "owner-1", 10, "msg-1")
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "msg-0", page[0].ID)
}

func TestStore_RecentMessages(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedConversation(t, store, "conv-1", "owner-1")
	seedMessages(t, store, "conv-1", "owner-1", 5)

	// Newest three, oldest-first for prompt assembly
	msgs, err := store.RecentMessages(ctx, "conv-1", "owner-1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg-2", msgs[0].ID)
	assert.Equal(t, "msg-3", msgs[1].ID)
	assert.Equal(t, "msg-4", msgs[2].ID)
}

func TestStore_FinalizeMessage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedConversation(t, store, "conv-1", "owner-1")

	placeholder := &Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		OwnerID:        "owner-1",
		Role:           RoleAssistant,
		Metadata:       map[string]any{MetaStreaming: true},
	}
	require.NoError(t, store.SaveMessage(ctx, placeholder))

	finishedAt := time.Now().UTC().Truncate(time.Second).Add(time.Minute)
	blocks := []Block{{Type: BlockText, Text: "All done"}}
	err := store.FinalizeMessage(ctx, "msg-1", "owner-1", blocks, map[string]any{MetaStreaming: false}, finishedAt)
	require.NoError(t, err)

	got, err := store.GetMessage(ctx, "msg-1", "owner-1")
	require.NoError(t, err)
	require.Len(t, got.Blocks, 1)
	assert.Equal(t, "All done", got.Blocks[0].Text)
	assert.False(t, got.IsStreaming())

	// Finalizing also bumps the conversation's activity timestamp
	conv, err := store.GetConversation(ctx, "conv-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, finishedAt, conv.LastActivityAt)
}

func TestStore_FinalizeMessage_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.FinalizeMessage(ctx, "missing", "owner-1", nil, nil, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateMessageMetadata(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedConversation(t, store, "conv-1", "owner-1")

	msg := &Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		OwnerID:        "owner-1",
		Role:           RoleAssistant,
		Metadata:       map[string]any{MetaStreaming: true},
	}
	require.NoError(t, store.SaveMessage(ctx, msg))

	err := store.UpdateMessageMetadata(ctx, "msg-1", "owner-1", map[string]any{
		MetaStreaming: false,
		MetaFailed:    true,
	})
	require.NoError(t, err)

	got, err := store.GetMessage(ctx, "msg-1", "owner-1")
	require.NoError(t, err)
	assert.False(t, got.IsStreaming())
	assert.Equal(t, true, got.Metadata[MetaFailed])
}

func TestStore_SearchMessages(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedConversation(t, store, "conv-1", "owner-1")
	seedConversation(t, store, "conv-2", "owner-2")

	mine := &Message{
		ID:             "msg-mine",
		ConversationID: "conv-1",
		OwnerID:        "owner-1",
		Role:           RoleUser,
		Blocks:         []Block{{Type: BlockText, Text: "let's plan tacos for Friday"}},
	}
	require.NoError(t, store.SaveMessage(ctx, mine))

	theirs := &Message{
		ID:             "msg-theirs",
		ConversationID: "conv-2",
		OwnerID:        "owner-2",
		Role:           RoleUser,
		Blocks:         []Block{{Type: BlockText, Text: "tacos every day"}},
	}
	require.NoError(t, store.SaveMessage(ctx, theirs))

	results, err := store.SearchMessages(ctx, "owner-1", "tacos", 10)
	require.NoError(t, err)
	require.Len(t, results, 1, "search must stay inside the owner's messages")
	assert.Equal(t, "msg-mine", results[0].ID)

	// LIKE wildcards in the query match literally, not as wildcards
	results, err = store.SearchMessages(ctx, "owner-1", "%", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMessage_TextContent(t *testing.T) {
	msg := &Message{
		Blocks: []Block{
			{Type: BlockText, Text: "first"},
			{Type: BlockCard, Card: map[string]any{"type": "recipe"}},
			{Type: BlockText, Text: "second"},
		},
	}
	assert.Equal(t, "first\nsecond", msg.TextContent())

	empty := &Message{}
	assert.Equal(t, "", empty.TextContent())
}
