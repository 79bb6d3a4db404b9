package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/cueso-tv/cueso/pkg/chat"
)

// entry binds a ToolDefinition to the Executor that backs it, and
// carries the pause_after routing hint; direct vs. remote tools share
// one Catalog via a distinct Executor per entry.
type entry struct {
	def      chat.ToolDefinition
	executor Executor
}

// Catalog is the tool registry offered to the LLM: an ordered,
// immutable-after-construction set of (definition, executor) pairs.
// Safe for concurrent use; callers register everything at startup and
// only call the read paths afterward.
type Catalog struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]entry
}

// NewCatalog builds an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]entry)}
}

// Register adds a tool definition backed by the given executor. The
// name must be unique within the catalog.
func (c *Catalog) Register(def chat.ToolDefinition, executor Executor) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition has no name")
	}
	if executor == nil {
		return fmt.Errorf("tool %s: executor is nil", def.Name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	c.entries[def.Name] = entry{def: def, executor: executor}
	c.order = append(c.order, def.Name)
	return nil
}

// Definitions returns the ToolDefinitions for the named tools, in the
// order names lists them; a nil names returns every tool in catalog
// registration order. Unknown names are silently skipped; the
// session's SessionConfig.Tools list is user-controlled and may lag a
// catalog reconfiguration.
func (c *Catalog) Definitions(names []string) []chat.ToolDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	wanted := names
	if wanted == nil {
		wanted = c.order
	}
	out := make([]chat.ToolDefinition, 0, len(wanted))
	for _, name := range wanted {
		if e, ok := c.entries[name]; ok {
			out = append(out, e.def)
		}
	}
	return out
}

// Lookup returns the definition and executor registered for name.
func (c *Catalog) Lookup(name string) (chat.ToolDefinition, Executor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return chat.ToolDefinition{}, nil, false
	}
	return e.def, e.executor, true
}

// Execute validates call.Arguments against the registered schema, then
// dispatches to the backing executor. Schema-validation failure is
// reported the same way a tool-level failure is: a ToolResult with
// Error=true, never a Go error.
func (c *Catalog) Execute(ctx context.Context, call chat.ToolCall) (chat.ToolResult, error) {
	def, executor, ok := c.Lookup(call.Name)
	if !ok {
		return chat.ToolResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    fmt.Sprintf("tool %q is not registered", call.Name),
			Error:      true,
		}, nil
	}

	if def.InputSchema != nil {
		if err := (DefaultValidator{}).Validate(call.Arguments, def.InputSchema); err != nil {
			return chat.ToolResult{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    fmt.Sprintf("argument validation failed: %v", err),
				Error:      true,
			}, nil
		}
	}

	return executor.Execute(ctx, call)
}

// AnyPauseAfter reports whether any of the named tools has its
// PauseAfter flag set in the catalog — the union check the driver
// performs against the just-completed assistant turn's tool names.
func (c *Catalog) AnyPauseAfter(names []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range names {
		if e, ok := c.entries[name]; ok && e.def.PauseAfter {
			return true
		}
	}
	return false
}
