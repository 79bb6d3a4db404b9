// Package openai adapts an OpenAI-compatible /v1/chat/completions
// streaming endpoint into the same normalized provider.Event sequence
// pkg/provider/anthropic produces. The two adapters share the SSE
// scanner in pkg/provider/internal/sse; the only vendor-shape
// difference — a single incrementally-streamed JSON arguments blob per
// tool_calls[].index, instead of typed content blocks — is absorbed
// entirely here.
package openai

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

// Client streams assistant turns from an OpenAI-compatible endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithBaseURL points the client at a self-hosted or proxy endpoint
// instead of api.openai.com.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base != "" {
			c.baseURL = base
		}
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// NewClient builds an OpenAI-compatible provider.Provider.
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

// Stream opens a streaming chat/completions call and translates its SSE
// frames into provider.Events.
func (c *Client) Stream(ctx context.Context, messages []chat.Message, tools []chat.ToolDefinition, cfg provider.Config) (<-chan provider.Event, error) {
	req := chatRequest{
		Model:       cfg.Model,
		Messages:    toChatMessages(messages, cfg.SystemPrompt),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Stream:      true,
		Tools:       toOpenAITools(tools),
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(req); err != nil {
		return nil, fmt.Errorf("encode openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, &body)
	if err != nil {
		return nil, fmt.Errorf("create openai request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
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

	// slotIDs remembers the provider-assigned id for each tool_calls[].index
	// the first time it's announced, since later deltas for the same index
	// only carry arguments, not the id again.
	slotIDs := map[int]string{}
	finishReason := provider.FinishEndTurn
	sawFinish := false

	err := sse.Consume(ctx, body, func(_ string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" {
			return nil
		}
		if data == "[DONE]" {
			return nil
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("decode openai chunk: %w", err)
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if !emit(provider.Event{Type: provider.EventContentDelta, Text: choice.Delta.Content}) {
				return context.Canceled
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			if _, started := slotIDs[tc.Index]; !started {
				id := ""
				if tc.ID != nil {
					id = *tc.ID
				}
				name := ""
				if tc.Function.Name != nil {
					name = *tc.Function.Name
				}
				slotIDs[tc.Index] = id
				if !emit(provider.Event{Type: provider.EventToolCallStart, Index: tc.Index, ToolCallID: id, ToolCallName: name}) {
					return context.Canceled
				}
			}
			if tc.Function.Arguments != "" {
				if !emit(provider.Event{Type: provider.EventToolCallArgDelta, Index: tc.Index, ArgsFragment: tc.Function.Arguments}) {
					return context.Canceled
				}
			}
		}

		if choice.FinishReason != nil {
			sawFinish = true
			finishReason = mapFinishReason(*choice.FinishReason)
			for idx := range slotIDs {
				if !emit(provider.Event{Type: provider.EventToolCallEnd, Index: idx}) {
					return context.Canceled
				}
			}
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		emit(provider.Event{Type: provider.EventMessageEnd, FinishReason: provider.FinishError, Err: err})
		return
	}
	if err == context.Canceled {
		return
	}
	if !sawFinish {
		finishReason = provider.FinishError
	}
	emit(provider.Event{Type: provider.EventMessageEnd, FinishReason: finishReason})
}

func mapFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "stop":
		return provider.FinishEndTurn
	case "tool_calls":
		return provider.FinishToolUse
	case "length":
		return provider.FinishLength
	case "content_filter":
		return provider.FinishStopSequence
	default:
		return provider.FinishEndTurn
	}
}

func toOpenAITools(tools []chat.ToolDefinition) []openaiTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openaiTool, 0, len(tools))
	for _, t := range tools {
		params := map[string]any{"type": "object"}
		if t.InputSchema != nil {
			params["properties"] = t.InputSchema.Properties
			if len(t.InputSchema.Required) > 0 {
				params["required"] = t.InputSchema.Required
			}
		}
		out = append(out, openaiTool{Type: "function", Function: openaiFunction{Name: t.Name, Description: t.Description, Parameters: params}})
	}
	return out
}

func toChatMessages(messages []chat.Message, systemPrompt string) []chatMessage {
	out := make([]chatMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, chatMessage{Role: "system", Content: systemPrompt})
	}
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleTool:
			out = append(out, chatMessage{Role: "tool", Content: msg.Content, ToolCallID: msg.ToolCallID})
		case chat.RoleAssistant:
			cm := chatMessage{Role: "assistant", Content: msg.Content}
			for _, call := range msg.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, toolCallParam{
					ID:   call.ID,
					Type: "function",
					Function: functionCallParam{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
			out = append(out, cm)
		case chat.RoleSystem:
			out = append(out, chatMessage{Role: "system", Content: msg.Content})
		default:
			out = append(out, chatMessage{Role: "user", Content: msg.Content})
		}
	}
	return out
}

func readAPIError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("openai api status %d: %w", resp.StatusCode, err)
	}
	body = bytes.TrimSpace(body)
	var errResp errorEnvelope
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return apiError{StatusCode: resp.StatusCode, Type: errResp.Error.Type, Message: errResp.Error.Message}
	}
	return apiError{StatusCode: resp.StatusCode, Message: string(body)}
}
