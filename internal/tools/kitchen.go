// ABOUTME: Kitchen pack provides the assistant's cooking tools: recipe search,
// ABOUTME: conversation recall, meal plan change proposals, and the current date.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/larderhq/larder-gateway/internal/store"
)

// MessageSearcher is the slice of the store the recall tool needs.
type MessageSearcher interface {
	SearchMessages(ctx context.Context, ownerID, query string, limit int) ([]*store.Message, error)
}

// KitchenPack creates the kitchen pack backed by the embedded recipe catalog
// and the message store.
func KitchenPack(s MessageSearcher) (*Pack, error) {
	catalog, err := LoadCatalog()
	if err != nil {
		return nil, err
	}

	k := &kitchenHandlers{catalog: catalog, store: s}
	return &Pack{
		ID: "builtin:kitchen",
		Tools: []*Tool{
			{
				Definition: Definition{
					Name:        "suggest_recipes",
					Description: "Search the recipe catalog by dish, cuisine, ingredient, or tag",
					InputSchema: `{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer"}},"required":["query"]}`,
				},
				Handler: k.SuggestRecipes,
			},
			{
				Definition: Definition{
					Name:        "conversation_recall",
					Description: "Search the user's past messages for something they said earlier",
					InputSchema: `{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer"}},"required":["query"]}`,
				},
				Handler: k.ConversationRecall,
			},
			{
				Definition: Definition{
					Name:        "propose_meal_plan_change",
					Description: "Stage a meal plan change for the user to confirm or reject",
					InputSchema: `{"type":"object","properties":{"change":{"type":"string"},"title":{"type":"string"},"description":{"type":"string"}},"required":["change"]}`,
				},
				Handler: k.ProposeMealPlanChange,
			},
			{
				Definition: Definition{
					Name:        "current_date",
					Description: "Get today's date and time in the user's timezone",
					InputSchema: `{"type":"object","properties":{}}`,
				},
				Handler: k.CurrentDate,
			},
		},
	}, nil
}

type kitchenHandlers struct {
	catalog *Catalog
	store   MessageSearcher
}

type suggestRecipesInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (k *kitchenHandlers) SuggestRecipes(ctx context.Context, ownerID string, input json.RawMessage) (json.RawMessage, error) {
	var in suggestRecipesInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	matches := k.catalog.Search(in.Query, in.Limit)

	result := map[string]any{
		"recipes": matches,
		"count":   len(matches),
	}
	if len(matches) == 0 {
		result["message"] = "no recipes matched the query"
		return json.Marshal(result)
	}

	// The first hit becomes a card so clients can render it richly
	first := matches[0]
	result["card"] = map[string]any{
		"type":     "recipe",
		"title":    first.Title,
		"subtitle": fmt.Sprintf("%s · %d min · serves %d", first.Cuisine, first.TotalMinutes, first.Servings),
		"body":     first.Summary,
	}
	return json.Marshal(result)
}

type conversationRecallInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (k *kitchenHandlers) ConversationRecall(ctx context.Context, ownerID string, input json.RawMessage) (json.RawMessage, error) {
	var in conversationRecallInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 5
	}
	if limit > 20 {
		limit = 20
	}

	messages, err := k.store.SearchMessages(ctx, ownerID, in.Query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	matches := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		matches = append(matches, map[string]any{
			"conversation_id": msg.ConversationID,
			"role":            string(msg.Role),
			"text":            msg.TextContent(),
			"created_at":      msg.CreatedAt.Format(time.RFC3339),
		})
	}

	return json.Marshal(map[string]any{
		"matches": matches,
		"count":   len(matches),
	})
}

type proposeMealPlanChangeInput struct {
	Change      string `json:"change"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (k *kitchenHandlers) ProposeMealPlanChange(ctx context.Context, ownerID string, input json.RawMessage) (json.RawMessage, error) {
	var in proposeMealPlanChangeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Change == "" {
		return nil, fmt.Errorf("change is required")
	}

	title := in.Title
	if title == "" {
		title = "Update meal plan"
	}
	description := in.Description
	if description == "" {
		description = in.Change
	}

	// The proposed_action shape is what turns this into a pending action
	// downstream; the tool itself mutates nothing.
	return json.Marshal(map[string]any{
		"proposed_action": map[string]any{
			"tool_name":    "meal_plan.apply_change",
			"arguments":    map[string]any{"change": in.Change},
			"title":        title,
			"description":  description,
			"accept_label": "Apply",
			"cancel_label": "Keep current plan",
		},
		"status": "awaiting_confirmation",
	})
}

func (k *kitchenHandlers) CurrentDate(ctx context.Context, ownerID string, input json.RawMessage) (json.RawMessage, error) {
	now, ok := TurnClockFromContext(ctx)
	if !ok {
		now = time.Now().UTC()
	}

	return json.Marshal(map[string]any{
		"date":     now.Format("2006-01-02"),
		"weekday":  now.Weekday().String(),
		"time":     now.Format("15:04"),
		"timezone": now.Location().String(),
		"iso":      now.Format(time.RFC3339),
	})
}
