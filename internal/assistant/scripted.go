// ABOUTME: Deterministic provider for development and tests: no network, real tools.
// ABOUTME: Keyword directives in the user message pick which tool gets exercised.

package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/larderhq/larder-gateway/internal/tools"
)

// ScriptedProvider produces a deterministic event sequence without a model
// backend. It still dispatches real tool calls through the router, so the
// whole pipeline from tool output to pending action runs offline.
type ScriptedProvider struct {
	router *tools.Router
	logger *slog.Logger
}

// NewScriptedProvider creates the offline provider.
func NewScriptedProvider(router *tools.Router, logger *slog.Logger) *ScriptedProvider {
	return &ScriptedProvider{
		router: router,
		logger: logger.With("provider", "scripted"),
	}
}

// StartTurn implements Provider. The user message picks the script: plan
// words stage a meal plan change, recall words search past messages, date
// words read the turn clock, food words search the recipe catalog, and
// anything else echoes back.
func (p *ScriptedProvider) StartTurn(ctx context.Context, req TurnRequest, emit func(Event) error) error {
	var text strings.Builder
	say := func(chunk string) error {
		text.WriteString(chunk)
		return emit(TextDelta{Text: chunk})
	}
	finish := func() error {
		return emit(TurnFinished{Result: finishPayload(text.String())})
	}

	lower := strings.ToLower(req.Content)
	switch {
	case containsAny(lower, "swap", "instead of", "change my plan", "meal plan"):
		if err := say("Let me stage that change so you can confirm it."); err != nil {
			return err
		}
		args := map[string]any{
			"change":      req.Content,
			"title":       "Update meal plan",
			"description": req.Content,
		}
		if err := p.runTool(ctx, req.OwnerID, "scripted-1", "propose_meal_plan_change", args, emit); err != nil {
			return err
		}
		if err := say(" The change is staged. Accept it and I'll update your plan."); err != nil {
			return err
		}
		return finish()

	case containsAny(lower, "recall", "remember", "earlier", "last week"):
		if err := say("Checking what you told me before."); err != nil {
			return err
		}
		args := map[string]any{"query": req.Content, "limit": 5}
		if err := p.runTool(ctx, req.OwnerID, "scripted-1", "conversation_recall", args, emit); err != nil {
			return err
		}
		if err := say(" That's everything I found."); err != nil {
			return err
		}
		return finish()

	case containsAny(lower, "date", "today", "what day"):
		args := map[string]any{}
		if err := p.runTool(ctx, req.OwnerID, "scripted-1", "current_date", args, emit); err != nil {
			return err
		}
		if err := say("That's the date on your clock."); err != nil {
			return err
		}
		return finish()

	case containsAny(lower, "recipe", "cook", "dinner", "lunch", "breakfast", "eat"):
		if err := say("Let me look through the catalog."); err != nil {
			return err
		}
		args := map[string]any{"query": req.Content, "limit": 3}
		if err := p.runTool(ctx, req.OwnerID, "scripted-1", "suggest_recipes", args, emit); err != nil {
			return err
		}
		if err := say(" Those are the closest matches I have."); err != nil {
			return err
		}
		return finish()

	default:
		if err := say("I heard: "); err != nil {
			return err
		}
		if err := say(req.Content); err != nil {
			return err
		}
		return finish()
	}
}

// runTool emits the started/resolved pair around one real router dispatch.
// Tool failures resolve as errors; they never abort the scripted turn.
func (p *ScriptedProvider) runTool(ctx context.Context, ownerID, callID, name string, args map[string]any, emit func(Event) error) error {
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshaling scripted args: %w", err)
	}
	if err := emit(ToolStarted{CallID: callID, Name: name, Arguments: rawArgs}); err != nil {
		return err
	}

	out, callErr := p.router.Call(ctx, name, ownerID, rawArgs)
	if callErr != nil {
		p.logger.Warn("scripted tool call failed", "tool_name", name, "error", callErr)
		return emit(ToolResolved{CallID: callID, Name: name, IsError: true, Error: callErr.Error()})
	}
	return emit(ToolResolved{CallID: callID, Name: name, Result: out})
}

// containsAny reports whether s contains any of the substrings.
func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
