// Package tool defines the executor contract every tool implementation
// satisfies (direct ECP/search handlers in pkg/tool/direct, an MCP
// client in pkg/tool/remote) and the Catalog the driver consults to
// compose provider calls and route dispatch.
package tool

import (
	"context"

	"github.com/cueso-tv/cueso/pkg/chat"
)

// Executor runs a single named tool call and returns its result.
// Implementations never propagate errors as Go errors for tool-level
// failures (bad args, timeouts, upstream HTTP failures) — those convert
// to chat.ToolResult{Error: true} so the LLM can observe and react. A
// non-nil error return is reserved for programmer errors (a call
// routed to the wrong executor).
type Executor interface {
	Execute(ctx context.Context, call chat.ToolCall) (chat.ToolResult, error)
}
