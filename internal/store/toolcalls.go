// ABOUTME: Tool-call audit persistence for the SQLite store
// ABOUTME: Records every tool invocation with full untruncated arguments and results

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveToolCall records a completed tool invocation. The full arguments and
// result are stored regardless of what gets pushed to clients.
func (s *SQLiteStore) SaveToolCall(ctx context.Context, call *ToolCall) error {
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now().UTC()
	}
	if call.FinishedAt.IsZero() {
		call.FinishedAt = call.StartedAt
	}

	argsJSON, err := marshalJSON(call.Arguments)
	if err != nil {
		return err
	}
	resultJSON, err := marshalJSON(call.Result)
	if err != nil {
		return err
	}
	metadataJSON, err := marshalJSON(call.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tool_calls (id, conversation_id, owner_id, message_id, tool_name,
			arguments, result, status, error_text, started_at, finished_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		call.ID,
		call.ConversationID,
		call.OwnerID,
		nullString(call.MessageID),
		call.ToolName,
		argsJSON,
		resultJSON,
		string(call.Status),
		nullString(call.ErrorText),
		call.StartedAt.UTC().Format(time.RFC3339),
		call.FinishedAt.UTC().Format(time.RFC3339),
		metadataJSON,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: tool call id already exists", ErrConflict)
		}
		return fmt.Errorf("inserting tool call: %w", err)
	}

	return nil
}

// ListToolCalls returns a conversation's tool calls in invocation order.
func (s *SQLiteStore) ListToolCalls(ctx context.Context, conversationID, ownerID string, limit int) ([]*ToolCall, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, conversation_id, owner_id, message_id, tool_name,
			arguments, result, status, error_text, started_at, finished_at, metadata
		FROM tool_calls
		WHERE conversation_id = ? AND owner_id = ?
		ORDER BY started_at ASC, id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying tool calls: %w", err)
	}
	defer rows.Close()

	var calls []*ToolCall
	for rows.Next() {
		call, err := scanToolCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool calls: %w", err)
	}

	return calls, nil
}

func scanToolCall(row rowScanner) (*ToolCall, error) {
	var call ToolCall
	var messageID, argsJSON, resultJSON, errorText, metadataJSON sql.NullString
	var status, startedAtStr, finishedAtStr string

	err := row.Scan(
		&call.ID,
		&call.ConversationID,
		&call.OwnerID,
		&messageID,
		&call.ToolName,
		&argsJSON,
		&resultJSON,
		&status,
		&errorText,
		&startedAtStr,
		&finishedAtStr,
		&metadataJSON,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning tool call: %w", err)
	}

	call.MessageID = messageID.String
	call.Status = ToolCallStatus(status)
	call.ErrorText = errorText.String

	call.Arguments, err = unmarshalJSON(argsJSON)
	if err != nil {
		return nil, err
	}
	call.Result, err = unmarshalJSON(resultJSON)
	if err != nil {
		return nil, err
	}
	call.Metadata, err = unmarshalJSON(metadataJSON)
	if err != nil {
		return nil, err
	}

	call.StartedAt, err = time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	call.FinishedAt, err = time.Parse(time.RFC3339, finishedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing finished_at: %w", err)
	}

	return &call, nil
}
