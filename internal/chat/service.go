// ABOUTME: Stream orchestrator: guard, persist, run the provider, clean up.
// ABOUTME: Every stream ends with a done frame no matter how the turn went.

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/larderhq/larder-gateway/internal/assistant"
	"github.com/larderhq/larder-gateway/internal/protocol"
	"github.com/larderhq/larder-gateway/internal/store"
	"github.com/larderhq/larder-gateway/internal/tools"
	"github.com/larderhq/larder-gateway/internal/turnguard"
)

// ErrConversationBusy reports a turn already running on the conversation.
// It is returned before any event is emitted, so callers can answer 409.
var ErrConversationBusy = errors.New("a turn is already running on this conversation")

// defaultTurnTimeout bounds a provider turn when the config doesn't.
const defaultTurnTimeout = 2 * time.Minute

// cleanupTimeout bounds failure cleanup, which runs on a fresh context
// because the turn's own context may already be canceled.
const cleanupTimeout = 5 * time.Second

// Service runs assistant turns end to end.
type Service struct {
	store       store.Store
	provider    assistant.Provider
	guard       *turnguard.Guard
	logger      *slog.Logger
	turnTimeout time.Duration
	now         func() time.Time
}

// ServiceConfig wires the turn orchestrator.
type ServiceConfig struct {
	Store       store.Store
	Provider    assistant.Provider
	Guard       *turnguard.Guard
	Logger      *slog.Logger
	TurnTimeout time.Duration

	// Now overrides the clock in tests; nil means time.Now.
	Now func() time.Time
}

// NewService creates the turn orchestrator.
func NewService(cfg ServiceConfig) *Service {
	timeout := cfg.TurnTimeout
	if timeout == 0 {
		timeout = defaultTurnTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:       cfg.Store,
		provider:    cfg.Provider,
		guard:       cfg.Guard,
		logger:      cfg.Logger,
		turnTimeout: timeout,
		now:         now,
	}
}

// TurnRequest describes one inbound stream request.
type TurnRequest struct {
	ConversationID string
	OwnerID        string
	Content        string

	// Title names a conversation created by this turn; empty means a
	// generated title.
	Title string

	// Client is the advisory clock from the request body.
	Client ClientContext
}

// StreamTurn runs one assistant turn, emitting protocol events to sink in
// production order. A busy conversation returns ErrConversationBusy before
// any event. Once streaming starts, failures surface as an error event and
// the stream always terminates with a done frame.
func (s *Service) StreamTurn(ctx context.Context, req TurnRequest, sink protocol.Sink) error {
	if !s.guard.TryAcquire(req.ConversationID) {
		return ErrConversationBusy
	}
	defer s.guard.Release(req.ConversationID)

	defer func() {
		if err := sink.Send(protocol.Event{
			Event:          protocol.EventDone,
			ConversationID: req.ConversationID,
		}); err != nil {
			s.logger.Debug("client gone before done frame",
				"conversation_id", req.ConversationID,
				"error", err,
			)
		}
	}()

	messageID, err := s.runTurn(ctx, req, sink)
	if err != nil {
		s.failTurn(req, messageID, err, sink)
	}
	return err
}

// runTurn is the happy path. It returns the assistant placeholder's id as
// soon as one exists so failure cleanup can find it.
func (s *Service) runTurn(ctx context.Context, req TurnRequest, sink protocol.Sink) (string, error) {
	now := s.now()
	resolvedNow, _ := ResolveClientTime(req.Client.CurrentDatetime, req.Client.UserTimezone, now)

	title := req.Title
	if title == "" {
		title = defaultTitle(resolvedNow)
	}
	conv, err := s.store.GetOrCreateConversation(ctx, req.ConversationID, req.OwnerID, title)
	if err != nil {
		return "", fmt.Errorf("resolving conversation: %w", err)
	}

	userMsg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		OwnerID:        req.OwnerID,
		Role:           store.RoleUser,
		Blocks:         []store.Block{{Type: store.BlockText, Text: req.Content}},
		CreatedAt:      now,
	}
	if err := s.store.SaveMessage(ctx, userMsg); err != nil {
		return "", fmt.Errorf("saving user message: %w", err)
	}
	if err := s.store.TouchConversation(ctx, conv.ID, req.OwnerID, now); err != nil {
		return "", fmt.Errorf("touching conversation: %w", err)
	}

	// The placeholder exists before any tool call so audit rows always have
	// a message to hang off.
	placeholder := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		OwnerID:        req.OwnerID,
		Role:           store.RoleAssistant,
		Metadata:       map[string]any{store.MetaStreaming: true},
		CreatedAt:      now,
	}
	if err := s.store.SaveMessage(ctx, placeholder); err != nil {
		return "", fmt.Errorf("saving assistant placeholder: %w", err)
	}

	if err := sink.Send(protocol.Event{
		Event:          protocol.EventStatus,
		ConversationID: conv.ID,
		MessageID:      placeholder.ID,
		Data:           protocol.StatusData{State: "thinking"},
	}); err != nil {
		return placeholder.ID, err
	}

	history, err := BuildHistory(ctx, s.store, conv.ID, req.OwnerID)
	if err != nil {
		return placeholder.ID, fmt.Errorf("building history: %w", err)
	}
	// The new user message was just persisted, so it is the final history
	// turn; the provider receives it as Content instead.
	if n := len(history); n > 0 && history[n-1].Role == string(store.RoleUser) && history[n-1].Text == req.Content {
		history = history[:n-1]
	}

	translator := NewTranslator(TranslatorConfig{
		Store:          s.store,
		Sink:           sink,
		Logger:         s.logger,
		ConversationID: conv.ID,
		OwnerID:        req.OwnerID,
		MessageID:      placeholder.ID,
		Now:            s.now,
	})

	turnCtx, cancel := context.WithTimeout(tools.WithTurnClock(ctx, resolvedNow), s.turnTimeout)
	defer cancel()

	err = s.provider.StartTurn(turnCtx, assistant.TurnRequest{
		OwnerID: req.OwnerID,
		Content: req.Content,
		History: history,
		Now:     resolvedNow,
		Summary: conv.Summary,
	}, func(ev assistant.Event) error {
		return translator.Handle(turnCtx, ev)
	})
	if err != nil {
		return placeholder.ID, err
	}

	blocks := finalBlocks(translator)
	if err := s.store.FinalizeMessage(ctx, placeholder.ID, req.OwnerID, blocks, map[string]any{store.MetaStreaming: false}, s.now()); err != nil {
		return placeholder.ID, fmt.Errorf("finalizing assistant message: %w", err)
	}

	return placeholder.ID, sink.Send(protocol.Event{
		Event:          protocol.EventMessageComplete,
		ConversationID: conv.ID,
		MessageID:      placeholder.ID,
		Data:           protocol.MessageCompleteData{Blocks: blocks},
	})
}

// failTurn classifies the failure, marks a still-streaming placeholder as
// failed, and emits the canned error event. Cleanup runs on a fresh context
// and its own failures are logged, never propagated; the client hears about
// the original fault only.
func (s *Service) failTurn(req TurnRequest, messageID string, turnErr error, sink protocol.Sink) {
	code, message := classifyTurnError(turnErr)
	s.logger.Error("assistant turn failed",
		"conversation_id", req.ConversationID,
		"message_id", messageID,
		"code", code,
		"error", turnErr,
	)

	if messageID != "" {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		s.cleanupPlaceholder(cleanupCtx, messageID, req.OwnerID)
	}

	if err := sink.Send(protocol.Event{
		Event:          protocol.EventError,
		ConversationID: req.ConversationID,
		MessageID:      messageID,
		Data:           protocol.ErrorData{Code: code, Message: message},
	}); err != nil {
		s.logger.Debug("client gone before error frame",
			"conversation_id", req.ConversationID,
			"error", err,
		)
	}
}

// cleanupPlaceholder marks a still-streaming placeholder as failed. A
// message already finalized is left alone, so cleanup is idempotent and
// safe against racing completion.
func (s *Service) cleanupPlaceholder(ctx context.Context, messageID, ownerID string) {
	msg, err := s.store.GetMessage(ctx, messageID, ownerID)
	if err != nil {
		s.logger.Error("cleanup: loading placeholder failed",
			"message_id", messageID,
			"error", err,
		)
		return
	}
	if !msg.IsStreaming() {
		return
	}

	metadata := map[string]any{store.MetaStreaming: false, store.MetaFailed: true}
	if err := s.store.UpdateMessageMetadata(ctx, messageID, ownerID, metadata); err != nil {
		s.logger.Error("cleanup: marking placeholder failed",
			"message_id", messageID,
			"error", err,
		)
	}
}

// defaultTitle names conversations created without a client-supplied title,
// rendered in the resolved turn timezone.
func defaultTitle(t time.Time) string {
	return "Chat started " + t.Format("January 2, 2006 at 3:04 PM")
}

// finalBlocks normalizes the provider's final payload into message blocks
// and appends the blocks collected from tool results during the turn.
func finalBlocks(tr *Translator) []store.Block {
	var blocks []store.Block
	if raw, ok := tr.FinalResult(); ok {
		blocks = outputBlocks(extractOutput(raw))
	}
	if len(blocks) == 0 {
		if text := tr.AccumulatedText(); text != "" {
			blocks = []store.Block{{Type: store.BlockText, Text: text}}
		}
	}
	return append(blocks, tr.CollectedBlocks()...)
}

// extractOutput digs the displayable output out of a TurnFinished payload:
// the final_output key, then the output key, then the payload itself.
func extractOutput(raw json.RawMessage) any {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	if m, ok := decoded.(map[string]any); ok {
		if v, ok := m["final_output"]; ok {
			return v
		}
		if v, ok := m["output"]; ok {
			return v
		}
	}
	return decoded
}

// outputBlocks converts an extracted output value into blocks: a string
// becomes a text block, {"text": ...} becomes a text block, {"blocks":
// [...]} decodes as typed blocks. Anything else returns nil so the caller
// falls back to accumulated delta text.
func outputBlocks(v any) []store.Block {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []store.Block{{Type: store.BlockText, Text: val}}
	case map[string]any:
		if text, ok := val["text"].(string); ok && text != "" {
			return []store.Block{{Type: store.BlockText, Text: text}}
		}
		if rawBlocks, ok := val["blocks"]; ok {
			return decodeBlocks(rawBlocks)
		}
	}
	return nil
}

// decodeBlocks round-trips a decoded JSON value into typed blocks.
func decodeBlocks(v any) []store.Block {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var blocks []store.Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil
	}
	return blocks
}
