// ABOUTME: OpenAI Chat Completions provider: streams deltas, aggregates tool calls.
// ABOUTME: Completed calls run through the router and loop back as tool messages.

package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/larderhq/larder-gateway/internal/config"
	"github.com/larderhq/larder-gateway/internal/tools"
)

// defaultOpenAIModel is used when the config does not name a model.
const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider runs turns against the OpenAI Chat Completions API.
type OpenAIProvider struct {
	client    openai.Client
	router    *tools.Router
	model     string
	maxTokens int64
	logger    *slog.Logger
}

// NewOpenAIProvider creates a provider backed by the official SDK client.
func NewOpenAIProvider(cfg config.AssistantConfig, router *tools.Router, logger *slog.Logger) *OpenAIProvider {
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAIProvider{
		client:    openai.NewClient(option.WithAPIKey(cfg.OpenAIAPIKey)),
		router:    router,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.With("provider", "openai"),
	}
}

// pendingCall aggregates streamed tool call fragments for one tool call
// index. Arguments arrive as partial JSON across many chunks.
type pendingCall struct {
	index int64
	id    string
	name  string
	args  strings.Builder
}

// StartTurn implements Provider. Each round streams one completion; finished
// tool calls are dispatched through the router and their outputs loop back
// as tool messages until the model answers without calling tools.
func (p *OpenAIProvider) StartTurn(ctx context.Context, req TurnRequest, emit func(Event) error) error {
	messages := buildOpenAIMessages(req)
	toolParams := p.buildTools()

	var turnText strings.Builder
	for round := 0; round < maxToolRounds; round++ {
		params := openai.ChatCompletionNewParams{
			Model:               p.model,
			Messages:            messages,
			MaxCompletionTokens: openai.Int(p.maxTokens),
		}
		if len(toolParams) > 0 {
			params.Tools = toolParams
		}

		calls, err := p.streamRound(ctx, params, emit, &turnText)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			p.logger.Debug("turn finished", "rounds", round+1)
			return emit(TurnFinished{Result: finishPayload(turnText.String())})
		}

		messages = append(messages, echoToolCalls(calls))
		for _, call := range calls {
			args := json.RawMessage(call.args.String())
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			if err := emit(ToolStarted{CallID: call.id, Name: call.name, Arguments: args}); err != nil {
				return err
			}

			out, callErr := p.router.Call(ctx, call.name, req.OwnerID, args)
			if callErr != nil {
				if err := emit(ToolResolved{CallID: call.id, Name: call.name, IsError: true, Error: callErr.Error()}); err != nil {
					return err
				}
				messages = append(messages, openai.ToolMessage(callErr.Error(), call.id))
				continue
			}

			if err := emit(ToolResolved{CallID: call.id, Name: call.name, Result: out}); err != nil {
				return err
			}
			messages = append(messages, openai.ToolMessage(string(out), call.id))
		}
	}
	return fmt.Errorf("assistant exceeded %d tool rounds", maxToolRounds)
}

// streamRound streams one completion, forwarding text deltas as they arrive
// and returning the completed tool calls in index order.
func (p *OpenAIProvider) streamRound(ctx context.Context, params openai.ChatCompletionNewParams, emit func(Event) error, turnText *strings.Builder) ([]*pendingCall, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	agg := map[int64]*pendingCall{}
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				turnText.WriteString(choice.Delta.Content)
				if err := emit(TextDelta{Text: choice.Delta.Content}); err != nil {
					return nil, err
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				pc, ok := agg[tc.Index]
				if !ok {
					pc = &pendingCall{index: tc.Index}
					agg[tc.Index] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args.WriteString(tc.Function.Arguments)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	calls := make([]*pendingCall, 0, len(agg))
	for _, pc := range agg {
		if pc.id == "" || pc.name == "" {
			p.logger.Warn("dropping incomplete tool call fragment", "index", pc.index)
			continue
		}
		calls = append(calls, pc)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].index < calls[j].index })
	return calls, nil
}

// buildTools converts router definitions into chat completion tool params.
func (p *OpenAIProvider) buildTools() []openai.ChatCompletionToolParam {
	defs := p.router.Definitions()
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
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
		out = append(out, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  schema,
			},
		})
	}
	return out
}

// buildOpenAIMessages converts the system prompt, history, and new user
// content into chat completion messages.
func buildOpenAIMessages(req TurnRequest) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt(req)))
	for _, turn := range req.History {
		if turn.Text == "" {
			continue
		}
		if turn.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(turn.Text))
		} else {
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}
	messages = append(messages, openai.UserMessage(req.Content))
	return messages
}

// echoToolCalls converts the finished calls back into the assistant message
// for the next round.
func echoToolCalls(calls []*pendingCall) openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
	for i, call := range calls {
		params[i] = openai.ChatCompletionMessageToolCallParam{
			ID:   call.id,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.name,
				Arguments: call.args.String(),
			},
		}
	}
	return openai.ChatCompletionMessageParamUnion{
		OfAssistant: &openai.ChatCompletionAssistantMessageParam{
			Role:      "assistant",
			ToolCalls: params,
		},
	}
}
