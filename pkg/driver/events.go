package driver

import "github.com/cueso-tv/cueso/pkg/provider"

// EventType discriminates the DriverEvent union the bridge translates
// to wire events.
type EventType string

const (
	EventContentDelta    EventType = "content_delta"
	EventToolCallDelta   EventType = "tool_call_delta"
	EventMessageComplete EventType = "message_complete"
	EventToolResult      EventType = "tool_result"
	EventFinal           EventType = "final"
)

// Event is what Run emits. Only the fields relevant to Type are
// populated; the rest are zero.
type Event struct {
	Type EventType

	// EventContentDelta
	Text string

	// EventToolCallDelta: emitted once per tool-call start
	// (InputFragment == nil) and once per argument fragment
	// (InputFragment != nil, possibly pointing at an empty string).
	ToolCallID    string
	ToolCallName  string
	InputFragment *string

	// EventMessageComplete
	Content       string
	ToolCallNames []string
	FinishReason  provider.FinishReason

	// EventToolResult
	ToolName string
	Result   string
	Error    bool

	// EventFinal
	IterationCount int
	Paused         bool
}
