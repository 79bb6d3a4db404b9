// Package provider defines the capability interface every LLM vendor
// adapter must satisfy. The driver never branches on provider identity;
// vendor-shape differences are absorbed entirely inside the adapters in
// pkg/provider/anthropic and pkg/provider/openai.
package provider

import (
	"context"

	"github.com/cueso-tv/cueso/pkg/chat"
)

// Config captures the knobs a provider call accepts. Model-specific
// extras that don't fit the common surface can be round-tripped through
// Extra without growing this struct.
type Config struct {
	Model        string
	Temperature  *float64
	MaxTokens    int
	SystemPrompt string
	Extra        map[string]any
}

// Provider streams a single model turn. The returned channel is lazy,
// finite, and terminates with exactly one MessageEnd event. Implementations
// must always close the channel; when the context is cancelled first they
// may close it without emitting MessageEnd.
type Provider interface {
	Stream(ctx context.Context, messages []chat.Message, tools []chat.ToolDefinition, cfg Config) (<-chan Event, error)
}

// EventType discriminates the Event union.
type EventType string

const (
	EventContentDelta     EventType = "content_delta"
	EventToolCallStart    EventType = "tool_call_start"
	EventToolCallArgDelta EventType = "tool_call_arg_delta"
	EventToolCallEnd      EventType = "tool_call_end"
	EventMessageEnd       EventType = "message_end"
)

// FinishReason enumerates why a provider call ended.
type FinishReason string

const (
	FinishEndTurn      FinishReason = "end_turn"
	FinishToolUse      FinishReason = "tool_use"
	FinishLength       FinishReason = "length"
	FinishStopSequence FinishReason = "stop_sequence"
	FinishError        FinishReason = "error"
)

// Event is the normalized event shape every adapter emits. Only the
// fields relevant to Type are populated.
type Event struct {
	Type EventType

	// EventContentDelta
	Text string

	// EventToolCallStart / EventToolCallArgDelta / EventToolCallEnd
	Index        int
	ToolCallID   string
	ToolCallName string
	ArgsFragment string

	// EventMessageEnd
	FinishReason FinishReason
	Err          error
}
