// ABOUTME: Pending-action lifecycle service: accept, execute, cancel.
// ABOUTME: Every accepted action ends terminal with an audit row, even when execution fails.

package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/larderhq/larder-gateway/internal/store"
)

// Executor runs the underlying operation of an accepted action.
type Executor interface {
	Execute(ctx context.Context, action *store.PendingAction) (map[string]any, error)
}

// ErrExecutionNotImplemented is returned by NotImplementedExecutor for every
// action. Accepted actions fail deterministically until a real executor is
// wired in.
var ErrExecutionNotImplemented = errors.New("action execution is not implemented yet")

// NotImplementedExecutor is the default executor. It keeps the accept flow
// honest end to end: the action reaches a terminal failed state with a clear
// error instead of pretending the mutation happened.
type NotImplementedExecutor struct{}

func (NotImplementedExecutor) Execute(ctx context.Context, action *store.PendingAction) (map[string]any, error) {
	return nil, ErrExecutionNotImplemented
}

// Service drives pending actions through their state machine. Status
// transitions are guarded by the store, so concurrent accepts of the same
// action resolve to exactly one winner.
type Service struct {
	store    store.Store
	executor Executor
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceConfig wires the action service.
type ServiceConfig struct {
	Store    store.Store
	Executor Executor
	Logger   *slog.Logger

	// Now overrides the clock in tests; nil means time.Now.
	Now func() time.Time
}

// NewService creates the action service. A nil executor gets the
// NotImplementedExecutor.
func NewService(cfg ServiceConfig) *Service {
	executor := cfg.Executor
	if executor == nil {
		executor = NotImplementedExecutor{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    cfg.Store,
		executor: executor,
		logger:   cfg.Logger,
		now:      now,
	}
}

// Accept confirms a proposed action and executes it. The transition to
// accepted is a compare-and-swap, so a lost race surfaces as a conflict
// naming the current status. Execution failure is not an Accept failure:
// the action lands in failed with the error recorded, and the caller gets
// the terminal action either way.
func (s *Service) Accept(ctx context.Context, id, ownerID string) (*store.PendingAction, error) {
	action, err := s.store.GetPendingAction(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	acceptedAt := s.now()
	if err := s.store.AcceptPendingAction(ctx, id, ownerID, acceptedAt); err != nil {
		return nil, err
	}
	s.logger.Info("pending action accepted",
		"action_id", id,
		"tool_name", action.ToolName,
		"conversation_id", action.ConversationID,
	)

	result, execErr := s.executor.Execute(ctx, action)

	status := store.ActionSucceeded
	errText := ""
	if execErr != nil {
		status = store.ActionFailed
		errText = execErr.Error()
		s.logger.Warn("action execution failed",
			"action_id", id,
			"tool_name", action.ToolName,
			"error", execErr,
		)
	}

	executedAt := s.now()
	if err := s.store.CompletePendingAction(ctx, id, ownerID, status, result, errText, executedAt); err != nil {
		return nil, fmt.Errorf("completing action: %w", err)
	}

	if err := s.auditExecution(ctx, action, result, execErr, acceptedAt, executedAt); err != nil {
		return nil, err
	}
	if err := s.store.TouchConversation(ctx, action.ConversationID, ownerID, executedAt); err != nil {
		return nil, fmt.Errorf("touching conversation: %w", err)
	}

	return s.store.GetPendingAction(ctx, id, ownerID)
}

// Cancel declines a proposed action, recording an optional reason. The
// guarded transition yields ErrNotFound for a missing action and a conflict
// naming the current status for one that already left proposed.
func (s *Service) Cancel(ctx context.Context, id, ownerID, reason string) (*store.PendingAction, error) {
	if err := s.store.CancelPendingAction(ctx, id, ownerID, reason, s.now()); err != nil {
		return nil, err
	}
	s.logger.Info("pending action canceled", "action_id", id, "reason", reason)

	return s.store.GetPendingAction(ctx, id, ownerID)
}

// auditExecution writes the tool-call audit row for an executed action. The
// row links back to the action via metadata and to the proposing message so
// conversation history shows what actually ran.
func (s *Service) auditExecution(ctx context.Context, action *store.PendingAction, result map[string]any, execErr error, startedAt, finishedAt time.Time) error {
	status := store.ToolCallSuccess
	errText := ""
	if execErr != nil {
		status = store.ToolCallError
		errText = execErr.Error()
	}

	call := &store.ToolCall{
		ID:             uuid.New().String(),
		ConversationID: action.ConversationID,
		OwnerID:        action.OwnerID,
		MessageID:      action.MessageID,
		ToolName:       action.ToolName,
		Arguments:      action.Arguments,
		Result:         result,
		Status:         status,
		ErrorText:      errText,
		StartedAt:      startedAt,
		FinishedAt:     finishedAt,
		Metadata:       map[string]any{store.MetaPendingActionID: action.ID},
	}
	if err := s.store.SaveToolCall(ctx, call); err != nil {
		return fmt.Errorf("auditing action execution: %w", err)
	}
	return nil
}
