package direct

import "github.com/cueso-tv/cueso/pkg/chat"

// Tool name constants for the closed set this executor handles.
const (
	ToolFindContent   = "find_content"
	ToolLaunchContent = "launch_content"
	ToolGetDeviceInfo = "get_device_info"
	ToolGetActiveApp  = "get_active_app"
	ToolSendKey       = "send_key"
)

// Definitions returns the ToolDefinition for every tool this executor
// handles, ready to Catalog.Register alongside New(...). find_content
// is marked PauseAfter: true — the driver hands control back to the
// user once candidate matches are found so they can pick one before
// launch_content fires.
func Definitions() []chat.ToolDefinition {
	return []chat.ToolDefinition{
		{
			Name:        ToolFindContent,
			Description: "Search for streaming content by title and return candidate matches.",
			PauseAfter:  true,
			InputSchema: &chat.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"title": map[string]interface{}{"type": "string", "description": "Title to search for."},
					"media_type": map[string]interface{}{
						"type":        "string",
						"description": "movie, tv, or episode.",
					},
					"season":  map[string]interface{}{"type": "integer"},
					"episode": map[string]interface{}{"type": "integer"},
				},
				Required: []string{"title"},
			},
		},
		{
			Name:        ToolLaunchContent,
			Description: "Launch a channel and piece of content on the Roku.",
			InputSchema: &chat.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"channel_id": map[string]interface{}{"type": "integer"},
					"content_id": map[string]interface{}{"type": "string"},
					"media_type": map[string]interface{}{"type": "string"},
				},
				Required: []string{"channel_id", "content_id", "media_type"},
			},
		},
		{
			Name:        ToolGetDeviceInfo,
			Description: "Fetch identifying information about the Roku device.",
			InputSchema: &chat.JSONSchema{Type: "object"},
		},
		{
			Name:        ToolGetActiveApp,
			Description: "Fetch the currently foregrounded app or channel.",
			InputSchema: &chat.JSONSchema{Type: "object"},
		},
		{
			Name:        ToolSendKey,
			Description: "Send a single remote keypress, e.g. Home, Select, Up.",
			InputSchema: &chat.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"key": map[string]interface{}{"type": "string"},
				},
				Required: []string{"key"},
			},
		},
	}
}
