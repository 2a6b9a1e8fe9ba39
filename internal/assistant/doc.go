// Package assistant runs model turns and reports them as a flat event stream.
//
// # Providers
//
// A Provider takes one TurnRequest (the new user message plus conversation
// history and the resolved turn clock) and drives a complete turn against a
// model backend, calling the caller's emit function once per observable step:
//
//   - anthropic: Anthropic Messages API with streaming and tool use
//   - openai: OpenAI Chat Completions API with streaming and tool calls
//   - scripted: deterministic offline provider for development and tests
//
// All providers dispatch tool calls through the same tools.Router, so the
// scripted provider exercises the identical tool pipeline as the real ones.
//
// # Event Stream
//
// Events arrive in production order and form a closed vocabulary: ToolStarted,
// ToolResolved, TextDelta, TurnFinished, and Unknown. A successful turn ends
// with exactly one TurnFinished. Consumers translate these into protocol
// events; the provider never talks to the store or the push stream itself.
package assistant
