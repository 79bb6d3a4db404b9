// Package anthropic adapts Anthropic's Messages API streaming contract
// into the normalized provider.Event sequence every other package in
// this module consumes. It uses a plain net/http.Client plus a
// hand-rolled SSE scanner, no vendor SDK.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cueso-tv/cueso/pkg/chat"
	"github.com/cueso-tv/cueso/pkg/provider"
	"github.com/cueso-tv/cueso/pkg/provider/internal/sse"
)

var _ provider.Provider = (*Client)(nil)

// Client streams assistant turns from the Anthropic Messages API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithBaseURL overrides the default Anthropic API origin, useful for
// pointing at a proxy or test server.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base != "" {
			c.baseURL = base
		}
	}
}

// WithHTTPClient overrides the default HTTP client (e.g. to add tracing
// transports or custom timeouts).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// NewClient builds an Anthropic-backed provider.Provider.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: time.Duration(defaultHTTPTimeout) * time.Second},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream opens a streaming Messages API call and translates its SSE
// frames into provider.Events. The returned channel terminates with
// exactly one EventMessageEnd, unless ctx is cancelled first, in which
// case it is closed without one.
func (c *Client) Stream(ctx context.Context, messages []chat.Message, tools []chat.ToolDefinition, cfg provider.Config) (<-chan provider.Event, error) {
	ex := parseExtra(cfg.Extra)
	system, params := toMessageParams(messages)
	if cfg.SystemPrompt != "" {
		if system != "" {
			system = system + "\n\n" + cfg.SystemPrompt
		} else {
			system = cfg.SystemPrompt
		}
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	req := messageRequest{
		Model:       cfg.Model,
		Messages:    params,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: cfg.Temperature,
		Stream:      true,
		Tools:       toAnthropicTools(tools),
		TopP:        ex.TopP,
		TopK:        ex.TopK,
		Metadata:    ex.Metadata,
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(req); err != nil {
		return nil, fmt.Errorf("encode anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, &body)
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		apiErr := readAPIError(resp)
		ch := make(chan provider.Event, 1)
		ch <- provider.Event{Type: provider.EventMessageEnd, FinishReason: provider.FinishError, Err: apiErr}
		close(ch)
		return ch, nil
	}

	out := make(chan provider.Event, 16)
	go c.relay(ctx, resp.Body, out)
	return out, nil
}

// relay translates the SSE body into provider.Events. blockKinds records
// each content_block index's type, since tool_use blocks interleave
// with text blocks in the same stream; tool events reuse that index.
func (c *Client) relay(ctx context.Context, body io.ReadCloser, out chan<- provider.Event) {
	defer close(out)
	defer body.Close()

	emit := func(evt provider.Event) bool {
		select {
		case <-ctx.Done():
			return false
		case out <- evt:
			return true
		}
	}

	finishReason := provider.FinishEndTurn
	ended := false
	blockKinds := map[int]string{}

	err := sse.Consume(ctx, body, func(_ string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}
		var envelope streamEnvelope
		if err := json.Unmarshal([]byte(data), &envelope); err != nil {
			return fmt.Errorf("decode anthropic envelope: %w", err)
		}

		switch envelope.Type {
		case "content_block_start":
			var start contentBlockStartEvent
			if err := json.Unmarshal([]byte(data), &start); err != nil {
				return fmt.Errorf("decode content_block_start: %w", err)
			}
			blockKinds[start.Index] = start.ContentBlock.Type
			if start.ContentBlock.Type == "tool_use" {
				if !emit(provider.Event{
					Type:         provider.EventToolCallStart,
					Index:        start.Index,
					ToolCallID:   start.ContentBlock.ID,
					ToolCallName: start.ContentBlock.Name,
				}) {
					return context.Canceled
				}
			}
			return nil
		case "content_block_delta":
			var delta contentBlockDeltaEvent
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				return fmt.Errorf("decode content_block_delta: %w", err)
			}
			switch blockKinds[delta.Index] {
			case "tool_use":
				if delta.Delta.PartialJSON == "" {
					return nil
				}
				if !emit(provider.Event{Type: provider.EventToolCallArgDelta, Index: delta.Index, ArgsFragment: delta.Delta.PartialJSON}) {
					return context.Canceled
				}
			default:
				if delta.Delta.Text == "" {
					return nil
				}
				if !emit(provider.Event{Type: provider.EventContentDelta, Text: delta.Delta.Text}) {
					return context.Canceled
				}
			}
			return nil
		case "content_block_stop":
			var stop struct {
				Index int `json:"index"`
			}
			if err := json.Unmarshal([]byte(data), &stop); err != nil {
				return fmt.Errorf("decode content_block_stop: %w", err)
			}
			if blockKinds[stop.Index] == "tool_use" {
				if !emit(provider.Event{Type: provider.EventToolCallEnd, Index: stop.Index}) {
					return context.Canceled
				}
			}
			return nil
		case "message_delta":
			var md messageDeltaEvent
			if err := json.Unmarshal([]byte(data), &md); err != nil {
				return fmt.Errorf("decode message_delta: %w", err)
			}
			finishReason = mapStopReason(md.Delta.StopReason)
			return nil
		case "message_stop":
			ended = true
			return nil
		case "error":
			var errResp errorResponse
			_ = json.Unmarshal([]byte(data), &errResp)
			finishReason = provider.FinishError
			ended = true
			return fmt.Errorf("anthropic stream error: %s", errResp.Error.Message)
		default:
			return nil
		}
	})

	if err != nil && err != context.Canceled {
		emit(provider.Event{Type: provider.EventMessageEnd, FinishReason: provider.FinishError, Err: err})
		return
	}
	if err == context.Canceled {
		return
	}
	if !ended {
		finishReason = provider.FinishError
	}
	emit(provider.Event{Type: provider.EventMessageEnd, FinishReason: finishReason})
}

func mapStopReason(reason string) provider.FinishReason {
	switch reason {
	case "end_turn":
		return provider.FinishEndTurn
	case "tool_use":
		return provider.FinishToolUse
	case "max_tokens":
		return provider.FinishLength
	case "stop_sequence":
		return provider.FinishStopSequence
	default:
		return provider.FinishEndTurn
	}
}

func toAnthropicTools(tools []chat.ToolDefinition) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		schema := map[string]any{"type": "object"}
		if t.InputSchema != nil {
			schema["properties"] = t.InputSchema.Properties
			if len(t.InputSchema.Required) > 0 {
				schema["required"] = t.InputSchema.Required
			}
		}
		out = append(out, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out
}

// toMessageParams splits out system-role content and converts the rest
// of the transcript into Anthropic's role/content-block shape. Tool-role
// messages become user messages carrying a tool_result block; assistant
// messages with ToolCalls carry tool_use blocks alongside any text.
func toMessageParams(messages []chat.Message) (string, []messageParam) {
	var systemParts []string
	out := make([]messageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
			continue
		case chat.RoleTool:
			out = append(out, messageParam{
				Role: "user",
				Content: []contentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
			continue
		}

		blocks := make([]contentBlock, 0, 1+len(msg.ToolCalls))
		if msg.Content != "" {
			blocks = append(blocks, contentBlock{Type: "text", Text: msg.Content})
		}
		for _, call := range msg.ToolCalls {
			var input map[string]any
			_ = json.Unmarshal(call.Arguments, &input)
			blocks = append(blocks, contentBlock{Type: "tool_use", ID: call.ID, Name: call.Name, Input: input})
		}
		if len(blocks) == 0 {
			continue
		}

		role := "user"
		if msg.Role == chat.RoleAssistant {
			role = "assistant"
		}
		out = append(out, messageParam{Role: role, Content: blocks})
	}
	return strings.Join(systemParts, "\n\n"), out
}

func readAPIError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("anthropic api status %d: %w", resp.StatusCode, err)
	}
	body = bytes.TrimSpace(body)
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return apiError{StatusCode: resp.StatusCode, Type: errResp.Error.Type, Message: errResp.Error.Message}
	}
	return apiError{StatusCode: resp.StatusCode, Message: string(body)}
}
