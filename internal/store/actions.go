// ABOUTME: Pending-action persistence and state transitions for the SQLite store
// ABOUTME: Enforces proposed->accepted/canceled and accepted->succeeded/failed via guarded updates

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreatePendingAction records a newly proposed action awaiting user review.
func (s *SQLiteStore) CreatePendingAction(ctx context.Context, action *PendingAction) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	if action.Status == "" {
		action.Status = ActionProposed
	}

	argsJSON, err := marshalJSON(action.Arguments)
	if err != nil {
		return err
	}
	resultJSON, err := marshalJSON(action.Result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO pending_actions (id, conversation_id, owner_id, message_id, tool_name,
			arguments, title, description, accept_label, cancel_label, status,
			cancel_reason, result, error_text, created_at, accepted_at, canceled_at, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		action.ID,
		action.ConversationID,
		action.OwnerID,
		nullString(action.MessageID),
		action.ToolName,
		argsJSON,
		action.Title,
		nullString(action.Description),
		nullString(action.AcceptLabel),
		nullString(action.CancelLabel),
		string(action.Status),
		nullString(action.CancelReason),
		resultJSON,
		nullString(action.ErrorText),
		action.CreatedAt.UTC().Format(time.RFC3339),
		nullTime(action.AcceptedAt),
		nullTime(action.CanceledAt),
		nullTime(action.ExecutedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: pending action id already exists", ErrConflict)
		}
		return fmt.Errorf("inserting pending action: %w", err)
	}

	return nil
}

// GetPendingAction retrieves a pending action by id for the given owner.
func (s *SQLiteStore) GetPendingAction(ctx context.Context, id, ownerID string) (*PendingAction, error) {
	query := `
		SELECT id, conversation_id, owner_id, message_id, tool_name,
			arguments, title, description, accept_label, cancel_label, status,
			cancel_reason, result, error_text, created_at, accepted_at, canceled_at, executed_at
		FROM pending_actions
		WHERE id = ? AND owner_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id, ownerID)
	return scanPendingAction(row)
}

// ListPendingActions returns a conversation's actions in proposal order.
// When status is non-empty, only actions currently in that status are
// returned.
func (s *SQLiteStore) ListPendingActions(ctx context.Context, conversationID, ownerID string, status ActionStatus) ([]*PendingAction, error) {
	query := `
		SELECT id, conversation_id, owner_id, message_id, tool_name,
			arguments, title, description, accept_label, cancel_label, status,
			cancel_reason, result, error_text, created_at, accepted_at, canceled_at, executed_at
		FROM pending_actions
		WHERE conversation_id = ? AND owner_id = ?
	`
	args := []any{conversationID, ownerID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pending actions: %w", err)
	}
	defer rows.Close()

	var actions []*PendingAction
	for rows.Next() {
		action, err := scanPendingAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending actions: %w", err)
	}

	return actions, nil
}

// AcceptPendingAction transitions an action from proposed to accepted.
// Returns ErrNotFound if the action doesn't exist for this owner, or a
// ConflictError naming the current status if it already left proposed.
func (s *SQLiteStore) AcceptPendingAction(ctx context.Context, id, ownerID string, t time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pending_actions SET status = ?, accepted_at = ?
		WHERE id = ? AND owner_id = ? AND status = ?
	`, string(ActionAccepted), t.UTC().Format(time.RFC3339), id, ownerID, string(ActionProposed))
	if err != nil {
		return fmt.Errorf("accepting pending action: %w", err)
	}
	return s.explainTransitionFailure(ctx, result, id, ownerID)
}

// CancelPendingAction transitions an action from proposed to canceled.
// The reason is recorded for the audit trail ("user" or "superseded").
// Returns ErrNotFound or a ConflictError like AcceptPendingAction.
func (s *SQLiteStore) CancelPendingAction(ctx context.Context, id, ownerID, reason string, t time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pending_actions SET status = ?, cancel_reason = ?, canceled_at = ?
		WHERE id = ? AND owner_id = ? AND status = ?
	`, string(ActionCanceled), nullString(reason), t.UTC().Format(time.RFC3339), id, ownerID, string(ActionProposed))
	if err != nil {
		return fmt.Errorf("canceling pending action: %w", err)
	}
	return s.explainTransitionFailure(ctx, result, id, ownerID)
}

// CompletePendingAction transitions an accepted action to succeeded or failed
// and records the execution outcome.
func (s *SQLiteStore) CompletePendingAction(ctx context.Context, id, ownerID string, status ActionStatus, result map[string]any, errText string, t time.Time) error {
	if status != ActionSucceeded && status != ActionFailed {
		return fmt.Errorf("invalid terminal status %q", status)
	}

	resultJSON, err := marshalJSON(result)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_actions SET status = ?, result = ?, error_text = ?, executed_at = ?
		WHERE id = ? AND owner_id = ? AND status = ?
	`, string(status), resultJSON, nullString(errText), t.UTC().Format(time.RFC3339), id, ownerID, string(ActionAccepted))
	if err != nil {
		return fmt.Errorf("completing pending action: %w", err)
	}
	return s.explainTransitionFailure(ctx, res, id, ownerID)
}

// explainTransitionFailure turns a zero-row guarded update into the right
// error: ErrNotFound when the row doesn't exist for the owner, otherwise a
// ConflictError carrying the status that blocked the transition.
func (s *SQLiteStore) explainTransitionFailure(ctx context.Context, result sql.Result, id, ownerID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM pending_actions WHERE id = ? AND owner_id = ?`, id, ownerID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking pending action status: %w", err)
	}
	return &ConflictError{Status: ActionStatus(status)}
}

func scanPendingAction(row rowScanner) (*PendingAction, error) {
	var action PendingAction
	var messageID, argsJSON, description, acceptLabel, cancelLabel sql.NullString
	var cancelReason, resultJSON, errorText sql.NullString
	var acceptedAt, canceledAt, executedAt sql.NullString
	var status, createdAtStr string

	err := row.Scan(
		&action.ID,
		&action.ConversationID,
		&action.OwnerID,
		&messageID,
		&action.ToolName,
		&argsJSON,
		&action.Title,
		&description,
		&acceptLabel,
		&cancelLabel,
		&status,
		&cancelReason,
		&resultJSON,
		&errorText,
		&createdAtStr,
		&acceptedAt,
		&canceledAt,
		&executedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning pending action: %w", err)
	}

	action.MessageID = messageID.String
	action.Description = description.String
	action.AcceptLabel = acceptLabel.String
	action.CancelLabel = cancelLabel.String
	action.Status = ActionStatus(status)
	action.CancelReason = cancelReason.String
	action.ErrorText = errorText.String

	action.Arguments, err = unmarshalJSON(argsJSON)
	if err != nil {
		return nil, err
	}
	action.Result, err = unmarshalJSON(resultJSON)
	if err != nil {
		return nil, err
	}

	action.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	action.AcceptedAt, err = parseNullTime(acceptedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing accepted_at: %w", err)
	}
	action.CanceledAt, err = parseNullTime(canceledAt)
	if err != nil {
		return nil, fmt.Errorf("parsing canceled_at: %w", err)
	}
	action.ExecutedAt, err = parseNullTime(executedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing executed_at: %w", err)
	}

	return &action, nil
}
