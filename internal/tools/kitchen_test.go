// ABOUTME: Tests for the kitchen tool pack handlers.
// ABOUTME: Covers recipe cards, recall limits, action proposals, and the turn clock.

package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larderhq/larder-gateway/internal/store"
)

type fakeSearcher struct {
	messages []*store.Message
	err      error
	gotQuery string
	gotLimit int
}

func (f *fakeSearcher) SearchMessages(ctx context.Context, ownerID, query string, limit int) ([]*store.Message, error) {
	f.gotQuery = query
	f.gotLimit = limit
	return f.messages, f.err
}

// kitchenFixture registers the pack and exposes handlers by tool name.
type kitchenFixture struct {
	searcher *fakeSearcher
	handlers map[string]Handler
}

func newKitchenFixture(t *testing.T) *kitchenFixture {
	t.Helper()

	searcher := &fakeSearcher{}
	pack, err := KitchenPack(searcher)
	require.NoError(t, err)
	require.Equal(t, "builtin:kitchen", pack.ID)

	handlers := make(map[string]Handler, len(pack.Tools))
	for _, tool := range pack.Tools {
		handlers[tool.Definition.Name] = tool.Handler
	}
	return &kitchenFixture{searcher: searcher, handlers: handlers}
}

func (f *kitchenFixture) call(t *testing.T, ctx context.Context, name, input string) map[string]any {
	t.Helper()

	handler, ok := f.handlers[name]
	require.True(t, ok, "tool %s not registered", name)

	raw, err := handler(ctx, "owner-1", json.RawMessage(input))
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(raw, &result))
	return result
}

func TestKitchenPackRegistersAllTools(t *testing.T) {
	f := newKitchenFixture(t)

	for _, name := range []string{"suggest_recipes", "conversation_recall", "propose_meal_plan_change", "current_date"} {
		assert.Contains(t, f.handlers, name)
	}
	assert.Len(t, f.handlers, 4)
}

func TestSuggestRecipesReturnsCard(t *testing.T) {
	f := newKitchenFixture(t)

	result := f.call(t, context.Background(), "suggest_recipes", `{"query":"miso"}`)
	assert.EqualValues(t, 1, result["count"])

	card, ok := result["card"].(map[string]any)
	require.True(t, ok, "expected a card for the first hit")
	assert.Equal(t, "recipe", card["type"])
	assert.Equal(t, "Weeknight Miso Ramen", card["title"])
	assert.Equal(t, "japanese · 35 min · serves 2", card["subtitle"])
	assert.NotEmpty(t, card["body"])
}

func TestSuggestRecipesNoMatches(t *testing.T) {
	f := newKitchenFixture(t)

	result := f.call(t, context.Background(), "suggest_recipes", `{"query":"xyzzy-not-a-dish"}`)
	assert.EqualValues(t, 0, result["count"])
	assert.Equal(t, "no recipes matched the query", result["message"])
	assert.NotContains(t, result, "card")
}

func TestSuggestRecipesInvalidInput(t *testing.T) {
	f := newKitchenFixture(t)

	_, err := f.handlers["suggest_recipes"](context.Background(), "owner-1", json.RawMessage(`{"query":12}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input")
}

func TestConversationRecallRendersMatches(t *testing.T) {
	f := newKitchenFixture(t)
	created := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	f.searcher.messages = []*store.Message{
		{
			ConversationID: "conv-1",
			Role:           store.RoleUser,
			Blocks:         []store.Block{{Type: store.BlockText, Text: "no peanuts please"}},
			CreatedAt:      created,
		},
	}

	result := f.call(t, context.Background(), "conversation_recall", `{"query":"peanuts"}`)
	assert.EqualValues(t, 1, result["count"])

	matches, ok := result["matches"].([]any)
	require.True(t, ok)
	require.Len(t, matches, 1)

	match := matches[0].(map[string]any)
	assert.Equal(t, "conv-1", match["conversation_id"])
	assert.Equal(t, "user", match["role"])
	assert.Equal(t, "no peanuts please", match["text"])
	assert.Equal(t, created.Format(time.RFC3339), match["created_at"])

	assert.Equal(t, "peanuts", f.searcher.gotQuery)
	assert.Equal(t, 5, f.searcher.gotLimit)
}

func TestConversationRecallClampsLimit(t *testing.T) {
	f := newKitchenFixture(t)

	f.call(t, context.Background(), "conversation_recall", `{"query":"q","limit":50}`)
	assert.Equal(t, 20, f.searcher.gotLimit)

	f.call(t, context.Background(), "conversation_recall", `{"query":"q","limit":-1}`)
	assert.Equal(t, 5, f.searcher.gotLimit)
}

func TestConversationRecallRequiresQuery(t *testing.T) {
	f := newKitchenFixture(t)

	_, err := f.handlers["conversation_recall"](context.Background(), "owner-1", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query is required")
}

func TestProposeMealPlanChangeDefaults(t *testing.T) {
	f := newKitchenFixture(t)

	result := f.call(t, context.Background(), "propose_meal_plan_change",
		`{"change":"swap tuesday dinner for soup"}`)
	assert.Equal(t, "awaiting_confirmation", result["status"])

	action, ok := result["proposed_action"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "meal_plan.apply_change", action["tool_name"])
	assert.Equal(t, "Update meal plan", action["title"])
	assert.Equal(t, "swap tuesday dinner for soup", action["description"])
	assert.Equal(t, "Apply", action["accept_label"])
	assert.Equal(t, "Keep current plan", action["cancel_label"])

	args, ok := action["arguments"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "swap tuesday dinner for soup", args["change"])
}

func TestProposeMealPlanChangeExplicitFields(t *testing.T) {
	f := newKitchenFixture(t)

	result := f.call(t, context.Background(), "propose_meal_plan_change",
		`{"change":"drop friday takeout","title":"Trim the budget","description":"Replace takeout with leftovers"}`)

	action := result["proposed_action"].(map[string]any)
	assert.Equal(t, "Trim the budget", action["title"])
	assert.Equal(t, "Replace takeout with leftovers", action["description"])
}

func TestProposeMealPlanChangeRequiresChange(t *testing.T) {
	f := newKitchenFixture(t)

	_, err := f.handlers["propose_meal_plan_change"](context.Background(), "owner-1", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "change is required")
}

func TestCurrentDateUsesTurnClock(t *testing.T) {
	f := newKitchenFixture(t)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	turnTime := time.Date(2026, 1, 17, 7, 30, 0, 0, loc)
	ctx := WithTurnClock(context.Background(), turnTime)

	result := f.call(t, ctx, "current_date", `{}`)
	assert.Equal(t, "2026-01-17", result["date"])
	assert.Equal(t, "Saturday", result["weekday"])
	assert.Equal(t, "07:30", result["time"])
	assert.Equal(t, "America/New_York", result["timezone"])
	assert.Equal(t, turnTime.Format(time.RFC3339), result["iso"])
}

func TestCurrentDateFallsBackToServerClock(t *testing.T) {
	f := newKitchenFixture(t)

	result := f.call(t, context.Background(), "current_date", `{}`)

	parsed, err := time.Parse(time.RFC3339, result["iso"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)
	assert.Equal(t, "UTC", result["timezone"])
}

func TestTurnClockRoundTrip(t *testing.T) {
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := WithTurnClock(context.Background(), stamp)

	got, ok := TurnClockFromContext(ctx)
	require.True(t, ok)
	assert.True(t, got.Equal(stamp))

	_, ok = TurnClockFromContext(context.Background())
	assert.False(t, ok)
}
