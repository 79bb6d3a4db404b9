// Package bridge binds one websocket connection to one driver.Driver,
// translating DriverEvents into the wire schema and the client's turn
// requests into driver.Run calls, using an upgrade/read-pump/
// write-pump/ping-ticker connection shape with a flat JSON envelope.
package bridge

// ClientMessage is the only shape a client ever sends: a turn request.
// Unknown fields are ignored by encoding/json by default.
type ClientMessage struct {
	Message   string  `json:"message"`
	SessionID *string `json:"session_id"`
}

// wireType discriminates the server->client event union.
type wireType string

const (
	wireSessionCreated   wireType = "session_created"
	wireContentDelta     wireType = "content_delta"
	wireToolCallDelta    wireType = "tool_call_delta"
	wireMessageComplete  wireType = "message_complete"
	wireToolResult       wireType = "tool_result"
	wireFinal            wireType = "final"
	wireError            wireType = "error"
)

// wireEvent is the single envelope shape every outbound message uses;
// fields irrelevant to Type are omitted by the zero-value omitempty
// tags, flattened into one struct since the payloads here are small.
type wireEvent struct {
	Type string `json:"type"`

	SessionID string `json:"session_id,omitempty"`

	Content string `json:"content,omitempty"`
	Role    string `json:"role,omitempty"`

	ToolCall *wireToolCall `json:"tool_call,omitempty"`

	ToolCalls    []string `json:"tool_calls,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`

	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Result     string `json:"result,omitempty"`
	Error      bool   `json:"error,omitempty"`

	IterationCount int  `json:"iteration_count,omitempty"`
	Paused         bool `json:"paused,omitempty"`

	Message string `json:"message,omitempty"`
}

type wireToolCall struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	InputJSON *string `json:"input_json,omitempty"`
}

func sessionCreatedEvent(sessionID string) wireEvent {
	return wireEvent{Type: string(wireSessionCreated), SessionID: sessionID}
}

func contentDeltaEvent(text string) wireEvent {
	return wireEvent{Type: string(wireContentDelta), Content: text, Role: "assistant"}
}

func toolCallDeltaEvent(id, name string, inputJSON *string) wireEvent {
	return wireEvent{Type: string(wireToolCallDelta), ToolCall: &wireToolCall{ID: id, Name: name, InputJSON: inputJSON}}
}

func messageCompleteEvent(content string, toolCalls []string, finishReason string) wireEvent {
	return wireEvent{Type: string(wireMessageComplete), Content: content, ToolCalls: toolCalls, FinishReason: finishReason}
}

func toolResultEvent(toolName, toolCallID, result string, isError bool) wireEvent {
	return wireEvent{Type: string(wireToolResult), ToolName: toolName, ToolCallID: toolCallID, Result: result, Error: isError}
}

func finalEvent(content, sessionID string, iterationCount int, paused bool, toolCalls []string) wireEvent {
	return wireEvent{
		Type:           string(wireFinal),
		Content:        content,
		SessionID:      sessionID,
		IterationCount: iterationCount,
		Paused:         paused,
		ToolCalls:      toolCalls,
	}
}

func errorEvent(message string) wireEvent {
	return wireEvent{Type: string(wireError), Message: message}
}
