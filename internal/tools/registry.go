// ABOUTME: Thread-safe registry for tool packs and their tools.
// ABOUTME: Manages pack registration, tool lookup, and collision detection.

package tools

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrToolCollision indicates a tool name already exists from another pack.
var ErrToolCollision = errors.New("tool name collision")

// registryEntry stores a tool with its pack ID for lookup.
type registryEntry struct {
	tool   *Tool
	packID string
}

// Registry maintains the set of registered packs and their tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*registryEntry
	logger *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*registryEntry),
		logger: logger,
	}
}

// RegisterPack validates and stores a pack and its tools.
// Returns ErrToolCollision if any tool name already exists from another pack.
func (r *Registry) RegisterPack(pack *Pack) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for tool name collisions before registering anything
	for _, tool := range pack.Tools {
		if existing, exists := r.tools[tool.Definition.Name]; exists {
			return fmt.Errorf("%w: tool '%s' already registered by pack '%s'",
				ErrToolCollision, tool.Definition.Name, existing.packID)
		}
	}

	for _, tool := range pack.Tools {
		r.tools[tool.Definition.Name] = &registryEntry{
			tool:   tool,
			packID: pack.ID,
		}
	}

	r.logger.Info("=== TOOL PACK REGISTERED ===",
		"pack_id", pack.ID,
		"tool_count", len(pack.Tools),
		"total_tools", len(r.tools),
	)

	return nil
}

// Get returns a tool by name, or nil if not registered.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.tools[name]; ok {
		return entry.tool
	}
	return nil
}

// All returns every registered tool sorted by name, so providers see a
// stable tool list across calls.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Tool, 0, len(r.tools))
	for _, entry := range r.tools {
		result = append(result, entry.tool)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Definition.Name < result[j].Definition.Name
	})
	return result
}

// Names returns all registered tool names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
