// ABOUTME: Core types for in-process tool packs.
// ABOUTME: Defines tool definitions, handlers, and pack grouping.

package tools

import (
	"context"
	"encoding/json"
)

// Handler is a function that executes a tool. It receives the calling
// owner's ID and the tool input as JSON. Returns the result as JSON or an
// error.
type Handler func(ctx context.Context, ownerID string, input json.RawMessage) (json.RawMessage, error)

// Definition describes a tool to the model provider.
type Definition struct {
	Name        string
	Description string
	// InputSchema is a JSON Schema document describing the tool's input.
	InputSchema string
}

// Tool pairs a definition with its in-process handler.
type Tool struct {
	Definition Definition
	Handler    Handler
}

// Pack is a collection of tools registered under one ID.
type Pack struct {
	ID    string
	Tools []*Tool
}
