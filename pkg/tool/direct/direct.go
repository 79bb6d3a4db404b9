// Package direct implements the closed set of tool handlers that talk
// straight to the Roku's ECP and to a content-search collaborator,
// without going through a remote tool server: timeout-bound I/O and a
// chat.ToolResult whose Content is a JSON payload on success or a
// message with Error=true on failure, for the fixed find_content/launch_content/
// get_device_info/get_active_app/send_key tool set.
package direct

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cueso-tv/cueso/pkg/chat"
	"github.com/cueso-tv/cueso/pkg/ecp"
	"github.com/cueso-tv/cueso/pkg/search"
	"github.com/cueso-tv/cueso/pkg/tool"
)

const defaultTimeout = 8 * time.Second

// Executor dispatches find_content, launch_content, get_device_info,
// get_active_app, and send_key to a Searcher and an ECP client. It
// implements tool.Executor directly: a single value is registered
// under all five tool names in the catalog.
type Executor struct {
	Searcher search.Searcher
	Device   *ecp.Client
	Timeout  time.Duration
}

var _ tool.Executor = (*Executor)(nil)

// New builds a direct Executor backed by searcher and device.
func New(searcher search.Searcher, device *ecp.Client) *Executor {
	return &Executor{Searcher: searcher, Device: device, Timeout: defaultTimeout}
}

// Execute routes call by name. Any failure — bad arguments, transport
// error, upstream non-2xx — is converted to an Error=true ToolResult;
// Execute itself only returns a Go error for a call routed here under
// a name this executor doesn't own.
func (e *Executor) Execute(ctx context.Context, call chat.ToolCall) (chat.ToolResult, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch call.Name {
	case ToolFindContent:
		return e.findContent(ctx, call)
	case ToolLaunchContent:
		return e.launchContent(ctx, call)
	case ToolGetDeviceInfo:
		return e.getDeviceInfo(ctx, call)
	case ToolGetActiveApp:
		return e.getActiveApp(ctx, call)
	case ToolSendKey:
		return e.sendKey(ctx, call)
	default:
		return chat.ToolResult{}, fmt.Errorf("direct executor: %q is not one of its handled tools", call.Name)
	}
}

func errResult(call chat.ToolCall, format string, args ...any) chat.ToolResult {
	return chat.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    fmt.Sprintf(format, args...),
		Error:      true,
	}
}

func okResult(call chat.ToolCall, payload any) chat.ToolResult {
	data, err := json.Marshal(payload)
	if err != nil {
		return errResult(call, "marshal result: %v", err)
	}
	return chat.ToolResult{ToolCallID: call.ID, ToolName: call.Name, Content: string(data)}
}

type findContentArgs struct {
	Title     string `json:"title"`
	MediaType string `json:"media_type,omitempty"`
	Season    int    `json:"season,omitempty"`
	Episode   int    `json:"episode,omitempty"`
}

func (e *Executor) findContent(ctx context.Context, call chat.ToolCall) (chat.ToolResult, error) {
	var args findContentArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return errResult(call, "invalid arguments: %v", err), nil
	}
	if e.Searcher == nil {
		return errResult(call, "content search is not configured"), nil
	}

	matches, err := e.Searcher.Search(ctx, search.Query{
		Title:     args.Title,
		MediaType: args.MediaType,
		Season:    args.Season,
		Episode:   args.Episode,
	})
	if err != nil {
		return errResult(call, "search failed: %v", err), nil
	}

	return okResult(call, map[string]any{
		"success": true,
		"matches": matches,
	}), nil
}

type launchContentArgs struct {
	ChannelID int    `json:"channel_id"`
	ContentID string `json:"content_id"`
	MediaType string `json:"media_type"`
}

func (e *Executor) launchContent(ctx context.Context, call chat.ToolCall) (chat.ToolResult, error) {
	var args launchContentArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return errResult(call, "invalid arguments: %v", err), nil
	}
	if args.ChannelID == 0 {
		return errResult(call, "missing channel_id"), nil
	}
	if e.Device == nil {
		return errResult(call, "roku device is not configured"), nil
	}

	if err := e.Device.Launch(ctx, args.ChannelID, args.ContentID, args.MediaType); err != nil {
		return errResult(call, "launch failed: %v", err), nil
	}
	return okResult(call, map[string]any{"success": true}), nil
}

func (e *Executor) getDeviceInfo(ctx context.Context, call chat.ToolCall) (chat.ToolResult, error) {
	if e.Device == nil {
		return errResult(call, "roku device is not configured"), nil
	}
	info, err := e.Device.DeviceInfo(ctx)
	if err != nil {
		return errResult(call, "device info failed: %v", err), nil
	}
	return okResult(call, info), nil
}

func (e *Executor) getActiveApp(ctx context.Context, call chat.ToolCall) (chat.ToolResult, error) {
	if e.Device == nil {
		return errResult(call, "roku device is not configured"), nil
	}
	app, err := e.Device.ActiveApp(ctx)
	if err != nil {
		return errResult(call, "active app query failed: %v", err), nil
	}
	return okResult(call, app), nil
}

type sendKeyArgs struct {
	Key string `json:"key"`
}

func (e *Executor) sendKey(ctx context.Context, call chat.ToolCall) (chat.ToolResult, error) {
	var args sendKeyArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return errResult(call, "invalid arguments: %v", err), nil
	}
	if args.Key == "" {
		return errResult(call, "missing key"), nil
	}
	if e.Device == nil {
		return errResult(call, "roku device is not configured"), nil
	}
	if err := e.Device.KeyPress(ctx, args.Key); err != nil {
		return errResult(call, "keypress failed: %v", err), nil
	}
	return okResult(call, map[string]any{"success": true}), nil
}
