package tool

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/cueso-tv/cueso/pkg/chat"
)

// Validator checks a tool call's arguments against its JSON Schema
// before dispatch, operating on the raw ToolCall.Arguments bytes
// rather than a pre-decoded map.
type Validator interface {
	Validate(arguments []byte, schema *chat.JSONSchema) error
}

// DefaultValidator implements a minimal JSON Schema validator covering
// required fields and primitive type checks, no partial-schema library
// pulled in.
type DefaultValidator struct{}

// Validate ensures arguments parses as a JSON object satisfying schema.
func (DefaultValidator) Validate(arguments []byte, schema *chat.JSONSchema) error {
	if schema == nil {
		return nil
	}

	params := map[string]interface{}{}
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &params); err != nil {
			return fmt.Errorf("arguments are not a JSON object: %w", err)
		}
	}

	for _, field := range schema.Required {
		if _, exists := params[field]; !exists {
			return fmt.Errorf("missing required field: %s", field)
		}
	}

	if len(schema.Properties) == 0 {
		return nil
	}

	for key, value := range params {
		propDef, ok := schema.Properties[key]
		if !ok {
			continue
		}
		expectedType := extractExpectedType(propDef)
		if expectedType == "" {
			continue
		}
		if err := validateType(value, expectedType); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
	}

	return nil
}

func extractExpectedType(definition interface{}) string {
	m, ok := definition.(map[string]interface{})
	if !ok {
		return ""
	}
	value, _ := m["type"].(string)
	return value
}

func validateType(value interface{}, expected string) error {
	switch expected {
	case "string":
		if _, ok := value.(string); ok {
			return nil
		}
	case "number":
		if isNumber(value) {
			return nil
		}
	case "integer":
		if isInteger(value) {
			return nil
		}
	case "boolean":
		if _, ok := value.(bool); ok {
			return nil
		}
	case "object":
		if _, ok := value.(map[string]interface{}); ok {
			return nil
		}
	case "array":
		if _, ok := value.([]interface{}); ok {
			return nil
		}
	case "null":
		if value == nil {
			return nil
		}
	default:
		return fmt.Errorf("unsupported schema type %q", expected)
	}
	return fmt.Errorf("expected %s but got %T", expected, value)
}

func isNumber(value interface{}) bool {
	switch v := value.(type) {
	case float32, float64:
		return true
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	return false
}

func isInteger(value interface{}) bool {
	switch v := value.(type) {
	case float64:
		return math.Trunc(v) == v
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}
