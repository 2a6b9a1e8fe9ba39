// ABOUTME: Provider contract for running one assistant turn end to end.
// ABOUTME: Picks the concrete backend (anthropic, openai, scripted) from config.

package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/larderhq/larder-gateway/internal/config"
	"github.com/larderhq/larder-gateway/internal/tools"
)

// Turn is one prior message handed to the provider as history.
type Turn struct {
	// Role is "user" or "assistant"; other roles never reach a provider.
	Role string
	Text string
}

// TurnRequest describes one user turn for a provider.
type TurnRequest struct {
	// OwnerID scopes tool dispatch to the requesting user.
	OwnerID string

	// Content is the new user message.
	Content string

	// History holds prior turns, oldest first.
	History []Turn

	// Now is the resolved turn time, already shifted into the user's zone.
	Now time.Time

	// Summary is the conversation's rolling summary; empty when none exists.
	Summary string
}

// Provider runs assistant turns against a model backend. StartTurn calls
// emit once per event in production order and returns after TurnFinished
// has been emitted, or with an error when the turn cannot complete. An
// error returned by emit aborts the turn and is returned unchanged.
type Provider interface {
	StartTurn(ctx context.Context, req TurnRequest, emit func(Event) error) error
}

// maxToolRounds bounds the model/tool loop so a backend that keeps asking
// for tools cannot spin forever.
const maxToolRounds = 8

// defaultMaxTokens is the per-round output ceiling when the config doesn't
// set assistant.max_tokens.
const defaultMaxTokens = 4096

// New builds the provider named by cfg.Provider. The router supplies tool
// definitions and dispatch for every provider, including the scripted one.
func New(cfg config.AssistantConfig, router *tools.Router, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropicProvider(cfg, router, logger), nil
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cfg, router, logger), nil
	case config.ProviderScripted:
		return NewScriptedProvider(router, logger), nil
	default:
		return nil, fmt.Errorf("unknown assistant provider %q", cfg.Provider)
	}
}

// systemPrompt assembles the backend-independent system prompt: the
// assistant's identity, the resolved turn clock, and the rolling summary
// when one exists.
func systemPrompt(req TurnRequest) string {
	var b strings.Builder
	b.WriteString("You are Larder, a meal planning assistant. You help the user decide what to cook, ")
	b.WriteString("find recipes in the catalog, and keep their weekly meal plan up to date. ")
	b.WriteString("Use the provided tools when they help. Any change to the user's meal plan must go ")
	b.WriteString("through propose_meal_plan_change so the user can confirm it before it applies. ")
	b.WriteString("Keep answers short and concrete.")

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	fmt.Fprintf(&b, "\n\nThe user's current date and time is %s.",
		now.Format("Monday, January 2, 2006 at 3:04 PM (MST)"))

	if req.Summary != "" {
		b.WriteString("\n\nSummary of the conversation so far:\n")
		b.WriteString(req.Summary)
	}
	return b.String()
}

// finishPayload wraps the turn's accumulated text in the shape the turn
// orchestrator's output extraction understands.
func finishPayload(text string) json.RawMessage {
	raw, err := json.Marshal(map[string]string{"final_output": text})
	if err != nil {
		return json.RawMessage(`{"final_output":""}`)
	}
	return raw
}

// stringSlice coerces a decoded JSON array into []string, dropping
// non-string members.
func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
