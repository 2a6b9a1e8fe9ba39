// ABOUTME: Anthropic Messages API provider: streams model output round by round.
// ABOUTME: Tool use blocks run through the router and feed back as tool results.

package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/larderhq/larder-gateway/internal/config"
	"github.com/larderhq/larder-gateway/internal/tools"
)

// defaultAnthropicModel is used when the config does not name a model.
const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicProvider runs turns against the Anthropic Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	router    *tools.Router
	model     string
	maxTokens int64
	logger    *slog.Logger
}

// NewAnthropicProvider creates a provider backed by the official SDK client.
func NewAnthropicProvider(cfg config.AssistantConfig, router *tools.Router, logger *slog.Logger) *AnthropicProvider {
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey)),
		router:    router,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.With("provider", "anthropic"),
	}
}

// StartTurn implements Provider. Each round streams one model response; any
// tool_use blocks are dispatched through the router and their results fed
// back until the model stops asking for tools.
func (p *AnthropicProvider) StartTurn(ctx context.Context, req TurnRequest, emit func(Event) error) error {
	messages := buildAnthropicMessages(req)
	toolParams := p.buildTools()

	var turnText strings.Builder
	for round := 0; round < maxToolRounds; round++ {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(p.model),
			MaxTokens: p.maxTokens,
			Messages:  messages,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt(req)}},
		}
		if len(toolParams) > 0 {
			params.Tools = toolParams
		}

		msg, err := p.streamRound(ctx, params, emit, &turnText)
		if err != nil {
			return err
		}

		calls := toolUseBlocks(msg)
		if len(calls) == 0 {
			p.logger.Debug("turn finished",
				"rounds", round+1,
				"stop_reason", msg.StopReason,
			)
			return emit(TurnFinished{Result: finishPayload(turnText.String())})
		}

		messages = append(messages, echoAssistantTurn(msg))
		results, err := p.runTools(ctx, req.OwnerID, calls, emit)
		if err != nil {
			return err
		}
		messages = append(messages, anthropic.NewUserMessage(results...))
	}
	return fmt.Errorf("assistant exceeded %d tool rounds", maxToolRounds)
}

// streamRound streams one model response, forwarding text deltas as they
// arrive and returning the fully accumulated message.
func (p *AnthropicProvider) streamRound(ctx context.Context, params anthropic.MessageNewParams, emit func(Event) error, turnText *strings.Builder) (*anthropic.Message, error) {
	stream := p.client.Messages.NewStreaming(ctx, params)
	msg := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return nil, fmt.Errorf("accumulating stream event: %w", err)
		}
		deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		textDelta, ok := deltaEvent.Delta.AsAny().(anthropic.TextDelta)
		if !ok || textDelta.Text == "" {
			continue
		}
		turnText.WriteString(textDelta.Text)
		if err := emit(TextDelta{Text: textDelta.Text}); err != nil {
			return nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}
	return &msg, nil
}

// runTools dispatches each requested call, emitting the started/resolved
// pair and collecting tool_result blocks for the next round. A failing tool
// becomes an error result; it never aborts the turn.
func (p *AnthropicProvider) runTools(ctx context.Context, ownerID string, calls []anthropic.ToolUseBlock, emit func(Event) error) ([]anthropic.ContentBlockParamUnion, error) {
	results := make([]anthropic.ContentBlockParamUnion, 0, len(calls))
	for _, call := range calls {
		args := json.RawMessage(call.Input)
		if err := emit(ToolStarted{CallID: call.ID, Name: call.Name, Arguments: args}); err != nil {
			return nil, err
		}

		out, callErr := p.router.Call(ctx, call.Name, ownerID, args)
		if callErr != nil {
			if err := emit(ToolResolved{CallID: call.ID, Name: call.Name, IsError: true, Error: callErr.Error()}); err != nil {
				return nil, err
			}
			results = append(results, anthropic.NewToolResultBlock(call.ID, callErr.Error(), true))
			continue
		}

		if err := emit(ToolResolved{CallID: call.ID, Name: call.Name, Result: out}); err != nil {
			return nil, err
		}
		results = append(results, anthropic.NewToolResultBlock(call.ID, string(out), false))
	}
	return results, nil
}

// buildTools converts router definitions into Messages API tool params.
func (p *AnthropicProvider) buildTools() []anthropic.ToolUnionParam {
	defs := p.router.Definitions()
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := map[string]any{}
		if def.InputSchema != "" {
			if err := json.Unmarshal([]byte(def.InputSchema), &schema); err != nil {
				p.logger.Warn("skipping tool with invalid schema",
					"tool_name", def.Name,
					"error", err,
				)
				continue
			}
		}
		param := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: schema["properties"],
				Required:   stringSlice(schema["required"]),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

// buildAnthropicMessages converts history plus the new user content into
// Messages API params.
func buildAnthropicMessages(req TurnRequest) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, turn := range req.History {
		if turn.Text == "" {
			continue
		}
		block := anthropic.NewTextBlock(turn.Text)
		if turn.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Content)))
	return messages
}

// toolUseBlocks extracts tool_use blocks from an accumulated message in
// content order.
func toolUseBlocks(msg *anthropic.Message) []anthropic.ToolUseBlock {
	var calls []anthropic.ToolUseBlock
	for _, block := range msg.Content {
		if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			calls = append(calls, tu)
		}
	}
	return calls
}

// echoAssistantTurn converts an accumulated response back into the assistant
// message param for the next round, preserving text and tool_use blocks.
func echoAssistantTurn(msg *anthropic.Message) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			if b.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			}
		case anthropic.ToolUseBlock:
			blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, b.Input, b.Name))
		}
	}
	return anthropic.NewAssistantMessage(blocks...)
}
