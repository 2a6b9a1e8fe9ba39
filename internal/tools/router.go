// ABOUTME: Routes tool calls to registered in-process handlers.
// ABOUTME: Handles lookup, per-call timeouts, and dispatch tracing.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// ErrToolNotFound indicates the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// DefaultTimeout is the default timeout for tool execution.
const DefaultTimeout = 30 * time.Second

// Router dispatches tool calls to registered handlers.
type Router struct {
	registry *Registry
	logger   *slog.Logger
	timeout  time.Duration
}

// RouterConfig contains configuration options for the Router.
type RouterConfig struct {
	Registry *Registry
	Logger   *slog.Logger
	Timeout  time.Duration
}

// NewRouter creates a new Router with the given configuration.
func NewRouter(cfg RouterConfig) *Router {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Router{
		registry: cfg.Registry,
		logger:   cfg.Logger,
		timeout:  timeout,
	}
}

// Definitions returns the definitions of every registered tool, for handing
// to a model provider.
func (r *Router) Definitions() []Definition {
	all := r.registry.All()
	defs := make([]Definition, len(all))
	for i, tool := range all {
		defs[i] = tool.Definition
	}
	return defs
}

// Call dispatches a tool call to its handler with the router's timeout.
// Returns ErrToolNotFound if the tool is not registered; handler errors are
// returned as-is for the caller to audit and render.
func (r *Router) Call(ctx context.Context, toolName, ownerID string, input json.RawMessage) (json.RawMessage, error) {
	tool := r.registry.Get(toolName)
	if tool == nil {
		r.logger.Debug("tool not found in registry", "tool_name", toolName)
		return nil, ErrToolNotFound
	}

	r.logger.Info("→ dispatching tool call",
		"tool_name", toolName,
		"owner_id", ownerID,
	)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := tool.Handler(ctx, ownerID, input)
	if err != nil {
		r.logger.Warn("tool call failed",
			"tool_name", toolName,
			"error", err,
		)
		return nil, err
	}

	r.logger.Info("← tool responded",
		"tool_name", toolName,
		"result_bytes", len(result),
	)
	return result, nil
}
