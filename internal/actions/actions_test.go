// ABOUTME: Tests for the pending-action lifecycle service.
// ABOUTME: Exercises accept/cancel transitions, conflicts, and execution audit rows.

package actions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larderhq/larder-gateway/internal/store"
)

// recordingExecutor returns a fixed result or error and remembers the
// action it was given.
type recordingExecutor struct {
	result map[string]any
	err    error
	got    *store.PendingAction
}

func (r *recordingExecutor) Execute(ctx context.Context, action *store.PendingAction) (map[string]any, error) {
	r.got = action
	return r.result, r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newActionFixture(t *testing.T, executor Executor) (*Service, store.Store) {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "actions_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	svc := NewService(ServiceConfig{
		Store:    s,
		Executor: executor,
		Logger:   testLogger(),
		Now:      func() time.Time { return time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC) },
	})
	return svc, s
}

func seedAction(t *testing.T, s store.Store) *store.PendingAction {
	t.Helper()
	ctx := context.Background()

	_, err := s.GetOrCreateConversation(ctx, "conv-1", "owner-1", "title")
	require.NoError(t, err)
	require.NoError(t, s.SaveMessage(ctx, &store.Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		OwnerID:        "owner-1",
		Role:           store.RoleAssistant,
	}))

	action := &store.PendingAction{
		ID:             "action-1",
		ConversationID: "conv-1",
		OwnerID:        "owner-1",
		MessageID:      "msg-1",
		ToolName:       "meal_plan.apply_change",
		Arguments:      map[string]any{"change": "swap Tuesday dinner"},
		Title:          "Update meal plan",
		Description:    "Swap Tuesday dinner for lentil soup",
		AcceptLabel:    "Apply",
		CancelLabel:    "Keep current plan",
	}
	require.NoError(t, s.CreatePendingAction(ctx, action))
	return action
}

func TestAcceptRunsExecutorAndAudits(t *testing.T) {
	executor := &recordingExecutor{result: map[string]any{"applied": true}}
	svc, s := newActionFixture(t, executor)
	ctx := context.Background()
	seedAction(t, s)

	final, err := svc.Accept(ctx, "action-1", "owner-1")
	require.NoError(t, err)

	assert.Equal(t, store.ActionSucceeded, final.Status)
	assert.Equal(t, map[string]any{"applied": true}, final.Result)
	assert.NotNil(t, final.AcceptedAt)
	assert.NotNil(t, final.ExecutedAt)

	// The executor saw the proposed action's payload.
	require.NotNil(t, executor.got)
	assert.Equal(t, "meal_plan.apply_change", executor.got.ToolName)
	assert.Equal(t, map[string]any{"change": "swap Tuesday dinner"}, executor.got.Arguments)

	// One audit row linking back to the action and its proposing message.
	calls, err := s.ListToolCalls(ctx, "conv-1", "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, "meal_plan.apply_change", call.ToolName)
	assert.Equal(t, store.ToolCallSuccess, call.Status)
	assert.Equal(t, "msg-1", call.MessageID)
	assert.Equal(t, "action-1", call.Metadata[store.MetaPendingActionID])
	assert.Equal(t, map[string]any{"applied": true}, call.Result)
}

func TestAcceptWithFailingExecutor(t *testing.T) {
	executor := &recordingExecutor{err: errors.New("plan service unavailable")}
	svc, s := newActionFixture(t, executor)
	ctx := context.Background()
	seedAction(t, s)

	// Execution failure is an action outcome, not an Accept error.
	final, err := svc.Accept(ctx, "action-1", "owner-1")
	require.NoError(t, err)

	assert.Equal(t, store.ActionFailed, final.Status)
	assert.Equal(t, "plan service unavailable", final.ErrorText)
	assert.NotNil(t, final.ExecutedAt)

	calls, err := s.ListToolCalls(ctx, "conv-1", "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, store.ToolCallError, calls[0].Status)
	assert.Equal(t, "plan service unavailable", calls[0].ErrorText)
}

func TestDefaultExecutorFailsDeterministically(t *testing.T) {
	svc, s := newActionFixture(t, nil)
	ctx := context.Background()
	seedAction(t, s)

	final, err := svc.Accept(ctx, "action-1", "owner-1")
	require.NoError(t, err)

	assert.Equal(t, store.ActionFailed, final.Status)
	assert.Equal(t, "action execution is not implemented yet", final.ErrorText)
}

func TestAcceptMissingAction(t *testing.T) {
	svc, _ := newActionFixture(t, nil)

	_, err := svc.Accept(context.Background(), "nope", "owner-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAcceptForeignOwnerLooksMissing(t *testing.T) {
	svc, s := newActionFixture(t, nil)
	seedAction(t, s)

	_, err := svc.Accept(context.Background(), "action-1", "someone-else")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAcceptTwiceConflicts(t *testing.T) {
	executor := &recordingExecutor{result: map[string]any{"applied": true}}
	svc, s := newActionFixture(t, executor)
	ctx := context.Background()
	seedAction(t, s)

	_, err := svc.Accept(ctx, "action-1", "owner-1")
	require.NoError(t, err)

	_, err = svc.Accept(ctx, "action-1", "owner-1")
	require.ErrorIs(t, err, store.ErrConflict)

	var conflict *store.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, store.ActionSucceeded, conflict.Status)
}

func TestCancelRecordsReason(t *testing.T) {
	svc, s := newActionFixture(t, nil)
	ctx := context.Background()
	seedAction(t, s)

	final, err := svc.Cancel(ctx, "action-1", "owner-1", "changed my mind")
	require.NoError(t, err)

	assert.Equal(t, store.ActionCanceled, final.Status)
	assert.Equal(t, "changed my mind", final.CancelReason)
	assert.NotNil(t, final.CanceledAt)

	// No execution means no audit row.
	calls, err := s.ListToolCalls(ctx, "conv-1", "owner-1", 10)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestCancelAfterAcceptConflicts(t *testing.T) {
	svc, s := newActionFixture(t, &recordingExecutor{})
	ctx := context.Background()
	seedAction(t, s)

	_, err := svc.Accept(ctx, "action-1", "owner-1")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, "action-1", "owner-1", "")
	var conflict *store.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, store.ActionSucceeded, conflict.Status)
}

func TestCancelMissingAction(t *testing.T) {
	svc, _ := newActionFixture(t, nil)

	_, err := svc.Cancel(context.Background(), "nope", "owner-1", "")
	require.ErrorIs(t, err, store.ErrNotFound)
}
