package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cueso-tv/cueso/pkg/chat"
	"github.com/cueso-tv/cueso/pkg/provider"
)

func sseServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
}

func drainEvents(ch <-chan provider.Event) []provider.Event {
	var out []provider.Event
	for evt := range ch {
		out = append(out, evt)
	}
	return out
}

func TestClientStreamTextOnly(t *testing.T) {
	ts := sseServer(t, []string{
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi there"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
		`{"type":"message_stop"}`,
	})
	defer ts.Close()

	c := NewClient("test-key", WithBaseURL(ts.URL))
	ch, err := c.Stream(context.Background(), nil, nil, provider.Config{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	events := drainEvents(ch)
	if len(events) != 2 {
		t.Fatalf("expected a content delta and a message end, got %d: %+v", len(events), events)
	}
	if events[0].Type != provider.EventContentDelta || events[0].Text != "hi there" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Type != provider.EventMessageEnd || events[1].FinishReason != provider.FinishEndTurn {
		t.Fatalf("unexpected final event: %+v", events[1])
	}
}

func TestClientStreamToolUseAccumulatesPartialJSON(t *testing.T) {
	ts := sseServer(t, []string{
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"call_1","name":"find_content"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"title\":"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"Succession\"}"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"}}`,
		`{"type":"message_stop"}`,
	})
	defer ts.Close()

	c := NewClient("test-key", WithBaseURL(ts.URL))
	ch, err := c.Stream(context.Background(), nil, nil, provider.Config{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	events := drainEvents(ch)

	var gotStart, gotEnd bool
	var fragments string
	for _, evt := range events {
		switch evt.Type {
		case provider.EventToolCallStart:
			gotStart = true
			if evt.ToolCallID != "call_1" || evt.ToolCallName != "find_content" {
				t.Fatalf("unexpected start event: %+v", evt)
			}
		case provider.EventToolCallArgDelta:
			fragments += evt.ArgsFragment
		case provider.EventToolCallEnd:
			gotEnd = true
		}
	}
	if !gotStart || !gotEnd {
		t.Fatalf("expected start and end events, got %+v", events)
	}
	if fragments != `{"title":"Succession"}` {
		t.Fatalf("unexpected accumulated fragments: %s", fragments)
	}
	last := events[len(events)-1]
	if last.Type != provider.EventMessageEnd || last.FinishReason != provider.FinishToolUse {
		t.Fatalf("unexpected final event: %+v", last)
	}
}

func TestClientStreamNon2xxYieldsErrorEvent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer ts.Close()

	c := NewClient("test-key", WithBaseURL(ts.URL))
	ch, err := c.Stream(context.Background(), nil, nil, provider.Config{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	events := drainEvents(ch)
	if len(events) != 1 || events[0].Type != provider.EventMessageEnd || events[0].FinishReason != provider.FinishError {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].Err == nil {
		t.Fatalf("expected a non-nil Err on the error event")
	}
}

func TestToMessageParamsSplitsSystemAndMapsToolResults(t *testing.T) {
	messages := []chat.Message{
		{Role: chat.RoleSystem, Content: "be concise"},
		{Role: chat.RoleUser, Content: "find Succession"},
		{Role: chat.RoleTool, Content: `{"matches":[]}`, ToolCallID: "call_1"},
	}
	system, params := toMessageParams(messages)
	if system != "be concise" {
		t.Fatalf("unexpected system prompt: %q", system)
	}
	if len(params) != 2 {
		t.Fatalf("expected 2 message params, got %d: %+v", len(params), params)
	}
	if params[1].Role != "user" || params[1].Content[0].Type != "tool_result" || params[1].Content[0].ToolUseID != "call_1" {
		t.Fatalf("unexpected tool_result mapping: %+v", params[1])
	}
}

func TestToAnthropicToolsMapsSchema(t *testing.T) {
	tools := []chat.ToolDefinition{
		{
			Name:        "send_key",
			Description: "Send a remote keypress.",
			InputSchema: &chat.JSONSchema{
				Type:       "object",
				Properties: map[string]any{"key": map[string]any{"type": "string"}},
				Required:   []string{"key"},
			},
		},
	}
	out := toAnthropicTools(tools)
	if len(out) != 1 || out[0].Name != "send_key" {
		t.Fatalf("unexpected tools: %+v", out)
	}
	if out[0].InputSchema["type"] != "object" {
		t.Fatalf("expected object type in schema, got %+v", out[0].InputSchema)
	}
}
