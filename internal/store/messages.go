// ABOUTME: Message persistence operations for the SQLite store
// ABOUTME: Covers append, cursor-paginated listing, recent-history reads, and streaming finalization

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SaveMessage appends a message to its conversation. The message id must be
// unique; a duplicate returns ErrConflict. Seq is assigned by the database
// and written back to the message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	blocksJSON, err := marshalBlocks(msg.Blocks)
	if err != nil {
		return err
	}
	metadataJSON, err := marshalJSON(msg.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO messages (id, conversation_id, owner_id, role, blocks, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.OwnerID,
		string(msg.Role),
		blocksJSON,
		metadataJSON,
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: message id already exists", ErrConflict)
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting message seq: %w", err)
	}
	msg.Seq = seq

	return nil
}

// GetMessage retrieves a message by id for the given owner.
func (s *SQLiteStore) GetMessage(ctx context.Context, id, ownerID string) (*Message, error) {
	query := `
		SELECT seq, id, conversation_id, owner_id, role, blocks, metadata, created_at
		FROM messages
		WHERE id = ? AND owner_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id, ownerID)
	return scanMessage(row)
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var role, blocksJSON, createdAtStr string
	var metadataJSON sql.NullString

	err := row.Scan(
		&msg.Seq,
		&msg.ID,
		&msg.ConversationID,
		&msg.OwnerID,
		&role,
		&blocksJSON,
		&metadataJSON,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	msg.Role = Role(role)

	msg.Blocks, err = unmarshalBlocks(blocksJSON)
	if err != nil {
		return nil, err
	}
	msg.Metadata, err = unmarshalJSON(metadataJSON)
	if err != nil {
		return nil, err
	}
	msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &msg, nil
}

// ListMessages returns up to limit messages of a conversation in chronological
// order. When beforeID is set, only messages strictly older than that message
// are returned; an unknown beforeID yields ErrBadCursor. The second return
// value reports whether older messages remain beyond the page.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID, ownerID string, limit int, beforeID string) ([]*Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		cursorCreatedAt string
		cursorSeq       int64
	)
	if beforeID != "" {
		err := s.db.QueryRowContext(ctx,
			`SELECT created_at, seq FROM messages WHERE id = ? AND conversation_id = ? AND owner_id = ?`,
			beforeID, conversationID, ownerID,
		).Scan(&cursorCreatedAt, &cursorSeq)
		if err == sql.ErrNoRows {
			return nil, false, fmt.Errorf("%w: message %s not in conversation", ErrBadCursor, beforeID)
		}
		if err != nil {
			return nil, false, fmt.Errorf("resolving cursor: %w", err)
		}
	}

	// Page newest-first with seq as the tiebreak for same-second inserts,
	// fetch one extra row to detect more pages, then flip to chronological.
	query := `
		SELECT seq, id, conversation_id, owner_id, role, blocks, metadata, created_at
		FROM messages
		WHERE conversation_id = ? AND owner_id = ?
	`
	args := []any{conversationID, ownerID}
	if beforeID != "" {
		query += ` AND (created_at < ? OR (created_at = ? AND seq < ?))`
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorSeq)
	}
	query += ` ORDER BY created_at DESC, seq DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, false, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterating messages: %w", err)
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	// Reverse into chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, hasMore, nil
}

// RecentMessages returns the newest limit messages of a conversation in
// chronological order, for building model context.
func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID, ownerID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT seq, id, conversation_id, owner_id, role, blocks, metadata, created_at
		FROM (
			SELECT seq, id, conversation_id, owner_id, role, blocks, metadata, created_at
			FROM messages
			WHERE conversation_id = ? AND owner_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recent messages: %w", err)
	}

	return messages, nil
}

// FinalizeMessage replaces a streaming placeholder's blocks and metadata with
// the finished content and bumps the conversation's activity timestamp, both
// in one transaction so a crash can't finish one without the other.
func (s *SQLiteStore) FinalizeMessage(ctx context.Context, id, ownerID string, blocks []Block, metadata map[string]any, t time.Time) error {
	blocksJSON, err := marshalBlocks(blocks)
	if err != nil {
		return err
	}
	metadataJSON, err := marshalJSON(metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE messages SET blocks = ?, metadata = ? WHERE id = ? AND owner_id = ?`,
		blocksJSON, metadataJSON, id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("finalizing message: %w", err)
	}
	if err := requireRowAffected(result); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET last_activity_at = ?
		WHERE id = (SELECT conversation_id FROM messages WHERE id = ?)
	`, t.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("bumping conversation activity: %w", err)
	}

	return tx.Commit()
}

// UpdateMessageMetadata replaces a message's metadata without touching blocks.
func (s *SQLiteStore) UpdateMessageMetadata(ctx context.Context, id, ownerID string, metadata map[string]any) error {
	metadataJSON, err := marshalJSON(metadata)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET metadata = ? WHERE id = ? AND owner_id = ?`,
		metadataJSON, id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("updating message metadata: %w", err)
	}
	return requireRowAffected(result)
}

// SearchMessages finds the owner's newest messages whose block content
// matches the query substring, newest first, across all conversations.
func (s *SQLiteStore) SearchMessages(ctx context.Context, ownerID, query string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 20
	}

	pattern := "%" + escapeLike(query) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, conversation_id, owner_id, role, blocks, metadata, created_at
		FROM messages
		WHERE owner_id = ? AND blocks LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, seq DESC
		LIMIT ?
	`, ownerID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}

	return messages, nil
}

// escapeLike escapes LIKE wildcards so user input matches literally
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
