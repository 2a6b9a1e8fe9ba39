// ABOUTME: Turns assistant events into protocol events plus durable records.
// ABOUTME: Audits full tool results before emitting display-truncated copies.

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/larderhq/larder-gateway/internal/assistant"
	"github.com/larderhq/larder-gateway/internal/protocol"
	"github.com/larderhq/larder-gateway/internal/store"
)

// toolCallStart remembers a started tool invocation until it resolves.
type toolCallStart struct {
	name      string
	arguments json.RawMessage
	startedAt time.Time
}

// Translator converts one turn's assistant events into protocol events and
// durable records. It holds single-turn, single-goroutine state; the stream
// orchestrator creates a fresh one per turn.
type Translator struct {
	store  store.Store
	sink   protocol.Sink
	logger *slog.Logger
	now    func() time.Time

	conversationID string
	ownerID        string
	messageID      string

	started   map[string]toolCallStart
	textParts strings.Builder
	collected []store.Block
	final     json.RawMessage
	finished  bool
}

// TranslatorConfig wires one turn's translator.
type TranslatorConfig struct {
	Store          store.Store
	Sink           protocol.Sink
	Logger         *slog.Logger
	ConversationID string
	OwnerID        string
	MessageID      string

	// Now overrides the clock in tests; nil means time.Now.
	Now func() time.Time
}

// NewTranslator creates a translator for one turn.
func NewTranslator(cfg TranslatorConfig) *Translator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Translator{
		store:          cfg.Store,
		sink:           cfg.Sink,
		logger:         cfg.Logger,
		now:            now,
		conversationID: cfg.ConversationID,
		ownerID:        cfg.OwnerID,
		messageID:      cfg.MessageID,
		started:        make(map[string]toolCallStart),
	}
}

// Handle processes one provider event. Audit writes happen before the
// corresponding protocol event is emitted, so a client never sees a tool
// result that is not already durable.
func (t *Translator) Handle(ctx context.Context, ev assistant.Event) error {
	switch e := ev.(type) {
	case assistant.ToolStarted:
		return t.handleToolStarted(e)
	case assistant.ToolResolved:
		return t.handleToolResolved(ctx, e)
	case assistant.TextDelta:
		return t.handleTextDelta(e)
	case assistant.TurnFinished:
		t.final = e.Result
		t.finished = true
		return nil
	case assistant.Unknown:
		t.logger.Debug("ignoring unknown assistant event", "kind", e.Kind)
		return nil
	default:
		t.logger.Warn("unhandled assistant event", "type", fmt.Sprintf("%T", ev))
		return nil
	}
}

// CollectedBlocks returns blocks gathered from tool results, in arrival
// order, for inclusion in the final message.
func (t *Translator) CollectedBlocks() []store.Block {
	return t.collected
}

// AccumulatedText returns the concatenated delta text, the fallback final
// content when the provider's result carries none.
func (t *Translator) AccumulatedText() string {
	return t.textParts.String()
}

// FinalResult returns the TurnFinished payload and whether one arrived.
func (t *Translator) FinalResult() (json.RawMessage, bool) {
	return t.final, t.finished
}

func (t *Translator) handleToolStarted(e assistant.ToolStarted) error {
	name := e.Name
	if name == "" {
		t.logger.Warn("tool started without a name", "tool_call_id", e.CallID)
		name = "unknown"
	}
	t.started[e.CallID] = toolCallStart{
		name:      name,
		arguments: e.Arguments,
		startedAt: t.now(),
	}

	return t.sink.Send(protocol.Event{
		Event:          protocol.EventToolStarted,
		ConversationID: t.conversationID,
		MessageID:      t.messageID,
		Data: protocol.ToolStartedData{
			CallID:    e.CallID,
			Tool:      name,
			Arguments: truncateMap(decodePayload(e.Arguments)),
		},
	})
}

func (t *Translator) handleToolResolved(ctx context.Context, e assistant.ToolResolved) error {
	start, ok := t.started[e.CallID]
	if !ok {
		t.logger.Warn("tool resolved without a start record", "tool_call_id", e.CallID)
		start = toolCallStart{name: "unknown", startedAt: t.now()}
	}
	delete(t.started, e.CallID)

	name := e.Name
	if name == "" {
		name = start.name
	}

	status := store.ToolCallSuccess
	errText := ""
	var result map[string]any
	var display map[string]any
	if e.IsError {
		status = store.ToolCallError
		errText = e.Error
		display = map[string]any{"error": truncateString(e.Error)}
	} else {
		result = decodePayload(e.Result)
		display = truncateMap(result)
	}

	// Audit first. The durable row keeps the untruncated result; the event
	// below carries only the display copy.
	now := t.now()
	call := &store.ToolCall{
		ID:             uuid.New().String(),
		ConversationID: t.conversationID,
		OwnerID:        t.ownerID,
		MessageID:      t.messageID,
		ToolName:       name,
		Arguments:      decodePayload(start.arguments),
		Result:         result,
		Status:         status,
		ErrorText:      errText,
		StartedAt:      start.startedAt,
		FinishedAt:     now,
		Metadata:       map[string]any{store.MetaCallID: e.CallID},
	}
	if err := t.store.SaveToolCall(ctx, call); err != nil {
		return fmt.Errorf("saving tool call audit: %w", err)
	}
	if err := t.store.TouchConversation(ctx, t.conversationID, t.ownerID, now); err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}

	if err := t.sink.Send(protocol.Event{
		Event:          protocol.EventToolResult,
		ConversationID: t.conversationID,
		MessageID:      t.messageID,
		Data: protocol.ToolResultData{
			CallID: e.CallID,
			Tool:   name,
			Status: string(status),
			Result: display,
		},
	}); err != nil {
		return err
	}

	if err := t.appendCardBlock(result); err != nil {
		return err
	}
	return t.appendActionBlock(ctx, result)
}

func (t *Translator) handleTextDelta(e assistant.TextDelta) error {
	if e.Text == "" {
		return nil
	}
	t.textParts.WriteString(e.Text)
	return t.sink.Send(protocol.Event{
		Event:          protocol.EventMessageDelta,
		ConversationID: t.conversationID,
		MessageID:      t.messageID,
		Data:           protocol.MessageDeltaData{Text: e.Text},
	})
}

// appendCardBlock surfaces an embedded display card from a tool result as a
// blocks.append event and collects the block for the final message. The
// known shape is a "card" map carrying a "type".
func (t *Translator) appendCardBlock(result map[string]any) error {
	card, ok := result["card"].(map[string]any)
	if !ok {
		return nil
	}
	if _, ok := card["type"].(string); !ok {
		return nil
	}

	block := store.Block{Type: store.BlockCard, Card: card}
	t.collected = append(t.collected, block)
	return t.sink.Send(protocol.Event{
		Event:          protocol.EventBlocksAppend,
		ConversationID: t.conversationID,
		MessageID:      t.messageID,
		Data:           protocol.BlocksAppendData{Blocks: []store.Block{block}},
	})
}

// appendActionBlock turns an embedded proposed_action into a pending action
// row awaiting confirmation, plus an action card block.
func (t *Translator) appendActionBlock(ctx context.Context, result map[string]any) error {
	proposed, ok := result["proposed_action"].(map[string]any)
	if !ok {
		return nil
	}
	toolName, _ := proposed["tool_name"].(string)
	if toolName == "" {
		t.logger.Warn("proposed action without tool_name; skipping",
			"conversation_id", t.conversationID,
		)
		return nil
	}

	arguments, _ := proposed["arguments"].(map[string]any)
	title, _ := proposed["title"].(string)
	description, _ := proposed["description"].(string)
	acceptLabel, _ := proposed["accept_label"].(string)
	cancelLabel, _ := proposed["cancel_label"].(string)
	if acceptLabel == "" {
		acceptLabel = "Accept"
	}
	if cancelLabel == "" {
		cancelLabel = "Cancel"
	}

	action := &store.PendingAction{
		ID:             uuid.New().String(),
		ConversationID: t.conversationID,
		OwnerID:        t.ownerID,
		MessageID:      t.messageID,
		ToolName:       toolName,
		Arguments:      arguments,
		Title:          title,
		Description:    description,
		AcceptLabel:    acceptLabel,
		CancelLabel:    cancelLabel,
		Status:         store.ActionProposed,
		CreatedAt:      t.now(),
	}
	if err := t.store.CreatePendingAction(ctx, action); err != nil {
		return fmt.Errorf("creating pending action: %w", err)
	}
	t.logger.Info("pending action proposed",
		"action_id", action.ID,
		"tool_name", toolName,
		"conversation_id", t.conversationID,
	)

	block := store.Block{
		Type:        store.BlockActionCard,
		ActionID:    action.ID,
		Title:       title,
		Description: description,
		AcceptLabel: acceptLabel,
		CancelLabel: cancelLabel,
	}
	t.collected = append(t.collected, block)
	return t.sink.Send(protocol.Event{
		Event:          protocol.EventBlocksAppend,
		ConversationID: t.conversationID,
		MessageID:      t.messageID,
		Data:           protocol.BlocksAppendData{Blocks: []store.Block{block}},
	})
}

// decodePayload decodes a raw tool payload into the structured map stored
// and displayed. Non-object payloads are wrapped as a string field, never
// dropped.
func decodePayload(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return map[string]any{"value": s}
	}
	return map[string]any{"value": string(raw)}
}
