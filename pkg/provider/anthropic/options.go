package anthropic

import (
	"encoding/json"
	"strconv"
	"strings"
)

// extra captures the provider.Config.Extra knobs this adapter understands
// beyond the common Config surface.
type extra struct {
	TopP     *float64
	TopK     *int
	Metadata map[string]any
}

func parseExtra(in map[string]any) extra {
	var out extra
	for key, val := range in {
		switch strings.ToLower(key) {
		case "top_p":
			if v, ok := toFloat(val); ok {
				out.TopP = &v
			}
		case "top_k":
			if v, ok := toInt(val); ok {
				out.TopK = &v
			}
		case "metadata":
			if m, ok := val.(map[string]any); ok {
				out.Metadata = m
			}
		}
	}
	return out
}

func toInt(val any) (int, bool) {
	switch v := val.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		return i, err == nil
	default:
		return 0, false
	}
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
