// Package remote implements the tool executor variant that dispatches
// to a remote tool-serving protocol (the Model Context Protocol)
// instead of calling handlers in-process, built on
// github.com/modelcontextprotocol/go-sdk/mcp. Transport errors,
// timeouts, and server-reported tool errors all convert to
// chat.ToolResult{Error: true}, never a Go error.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cueso-tv/cueso/pkg/chat"
	"github.com/cueso-tv/cueso/pkg/tool"
)

const defaultTimeout = 15 * time.Second

// ServerSpec names one configured MCP server and how to reach it.
// Transport accepts scheme-sniffed spec strings: "stdio://cmd args...",
// "sse://host..." (plain http unless the rest carries its own scheme),
// and "http(s)://host...". A spec with no recognized prefix is run as a
// stdio command.
type ServerSpec struct {
	Name      string
	Transport string
}

type server struct {
	name    string
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
}

// Executor is the remote tool-executor variant: it materializes a
// tool-name -> server catalog at startup by calling ListTools against
// every configured server, then routes Execute calls through
// CallTool. The catalog is read-only after Connect.
type Executor struct {
	Timeout time.Duration

	mu      sync.RWMutex
	servers map[string]*server // by server name
	routes  map[string]*server // by tool name
}

var _ tool.Executor = (*Executor)(nil)

// New builds an unconnected remote Executor.
func New() *Executor {
	return &Executor{
		servers: make(map[string]*server),
		routes:  make(map[string]*server),
	}
}

// Connect dials every configured server, enumerates its tools, and
// caches the tool-name -> server routing table. Later duplicate tool
// names overwrite earlier ones; callers should keep server tool sets
// disjoint.
func (e *Executor) Connect(ctx context.Context, specs []ServerSpec) ([]chat.ToolDefinition, error) {
	var defs []chat.ToolDefinition
	for _, spec := range specs {
		srv, err := dial(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("remote tool server %s: %w", spec.Name, err)
		}

		tools, err := listTools(ctx, srv)
		if err != nil {
			return nil, fmt.Errorf("remote tool server %s: list tools: %w", spec.Name, err)
		}

		e.mu.Lock()
		e.servers[spec.Name] = srv
		for _, t := range tools {
			e.routes[t.Name] = srv
		}
		e.mu.Unlock()

		defs = append(defs, tools...)
	}
	return defs, nil
}

// Close shuts down every connected server session.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for _, srv := range e.servers {
		if srv.session == nil {
			continue
		}
		if err := srv.session.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Execute dispatches call to whichever server advertised its name.
func (e *Executor) Execute(ctx context.Context, call chat.ToolCall) (chat.ToolResult, error) {
	e.mu.RLock()
	srv, ok := e.routes[call.Name]
	e.mu.RUnlock()
	if !ok {
		return chat.ToolResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    fmt.Sprintf("no remote tool server advertises %q", call.Name),
			Error:      true,
		}, nil
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return chat.ToolResult{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    fmt.Sprintf("invalid arguments: %v", err),
				Error:      true,
			}, nil
		}
	}

	result, err := srv.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: call.Name, Arguments: args})
	if err != nil {
		return chat.ToolResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    fmt.Sprintf("remote tool call failed: %v", err),
			Error:      true,
		}, nil
	}

	content := flattenContent(result)
	return chat.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    content,
		Error:      result.IsError,
	}, nil
}

func listTools(ctx context.Context, srv *server) ([]chat.ToolDefinition, error) {
	var defs []chat.ToolDefinition
	for t, err := range srv.session.Tools(ctx, nil) {
		if err != nil {
			return nil, err
		}
		def := chat.ToolDefinition{Name: t.Name, Description: t.Description}
		if schema, ok := t.InputSchema.(map[string]any); ok {
			def.InputSchema = toChatSchema(schema)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func toChatSchema(raw map[string]any) *chat.JSONSchema {
	schema := &chat.JSONSchema{Type: "object"}
	if props, ok := raw["properties"].(map[string]any); ok {
		schema.Properties = props
	}
	if req, ok := raw["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func flattenContent(result *mcpsdk.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	var parts []string
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, text.Text)
			continue
		}
		if data, err := json.Marshal(c); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}

func dial(ctx context.Context, spec ServerSpec) (*server, error) {
	transport, err := buildTransport(ctx, spec.Transport)
	if err != nil {
		return nil, err
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "cueso", Version: "dev"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	return &server{name: spec.Name, client: client, session: session}, nil
}

const (
	stdioSchemePrefix = "stdio://"
	sseSchemePrefix   = "sse://"
)

func buildTransport(ctx context.Context, spec string) (mcpsdk.Transport, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("transport spec is empty")
	}
	lowered := strings.ToLower(spec)
	switch {
	case strings.HasPrefix(lowered, stdioSchemePrefix):
		return buildStdioTransport(ctx, spec[len(stdioSchemePrefix):])
	case strings.HasPrefix(lowered, sseSchemePrefix):
		rest := spec[len(sseSchemePrefix):]
		if !strings.Contains(rest, "://") {
			rest = "http://" + rest
		}
		endpoint, err := normalizeHTTPURL(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid sse endpoint: %w", err)
		}
		return &mcpsdk.SSEClientTransport{Endpoint: endpoint}, nil
	case strings.HasPrefix(lowered, "http://"), strings.HasPrefix(lowered, "https://"):
		endpoint, err := normalizeHTTPURL(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid http endpoint: %w", err)
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: endpoint}, nil
	default:
		return buildStdioTransport(ctx, spec)
	}
}

func buildStdioTransport(ctx context.Context, cmdSpec string) (mcpsdk.Transport, error) {
	parts := strings.Fields(strings.TrimSpace(cmdSpec))
	if len(parts) == 0 {
		return nil, fmt.Errorf("stdio command is empty")
	}
	// #nosec G204 -- cmdSpec originates from trusted server config, not user input.
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

func normalizeHTTPURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	return parsed.String(), nil
}
