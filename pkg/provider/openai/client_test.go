package openai

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

func TestClientStreamContentOnly(t *testing.T) {
	ts := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"hi"}}]}`,
		`{"choices":[{"delta":{"content":" there"},"finish_reason":"stop"}]}`,
		"[DONE]",
	})
	defer ts.Close()

	c := NewClient("test-key", WithBaseURL(ts.URL))
	ch, err := c.Stream(context.Background(), nil, nil, provider.Config{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	events := drainEvents(ch)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Type != provider.EventContentDelta || events[0].Text != "hi" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Type != provider.EventContentDelta || events[1].Text != " there" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	last := events[len(events)-1]
	if last.Type != provider.EventMessageEnd || last.FinishReason != provider.FinishEndTurn {
		t.Fatalf("unexpected final event: %+v", last)
	}
}

func TestClientStreamToolCallAccumulatesAcrossDeltas(t *testing.T) {
	id := `"call_1"`
	ts := sseServer(t, []string{
		fmt.Sprintf(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":%s,"function":{"name":"find_content","arguments":""}}]}}]}`, id),
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"title\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Succession\"}"}}]},"finish_reason":"tool_calls"}]}`,
	})
	defer ts.Close()

	c := NewClient("test-key", WithBaseURL(ts.URL))
	ch, err := c.Stream(context.Background(), nil, nil, provider.Config{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	events := drainEvents(ch)

	var gotStart, gotEnd bool
	var argFragments string
	for _, evt := range events {
		switch evt.Type {
		case provider.EventToolCallStart:
			gotStart = true
			if evt.ToolCallID != "call_1" || evt.ToolCallName != "find_content" {
				t.Fatalf("unexpected start event: %+v", evt)
			}
		case provider.EventToolCallArgDelta:
			argFragments += evt.ArgsFragment
		case provider.EventToolCallEnd:
			gotEnd = true
		}
	}
	if !gotStart || !gotEnd {
		t.Fatalf("expected both start and end events, got %+v", events)
	}
	if argFragments != `{"title":"Succession"}` {
		t.Fatalf("unexpected accumulated arguments: %s", argFragments)
	}
	last := events[len(events)-1]
	if last.Type != provider.EventMessageEnd || last.FinishReason != provider.FinishToolUse {
		t.Fatalf("unexpected final event: %+v", last)
	}
}

func TestClientStreamNon2xxYieldsErrorEvent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer ts.Close()

	c := NewClient("bad-key", WithBaseURL(ts.URL))
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

func TestToChatMessagesIncludesSystemPromptFirst(t *testing.T) {
	messages := []chat.Message{{Role: chat.RoleUser, Content: "hi"}}
	out := toChatMessages(messages, "be helpful")
	if len(out) != 2 || out[0].Role != "system" || out[0].Content != "be helpful" {
		t.Fatalf("unexpected messages: %+v", out)
	}
}

func TestToChatMessagesMapsToolRoleWithCallID(t *testing.T) {
	messages := []chat.Message{{Role: chat.RoleTool, Content: "result", ToolCallID: "call_1"}}
	out := toChatMessages(messages, "")
	if len(out) != 1 || out[0].Role != "tool" || out[0].ToolCallID != "call_1" {
		t.Fatalf("unexpected messages: %+v", out)
	}
}
