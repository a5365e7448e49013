package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// SafeGetString reads a string argument.
func SafeGetString(arguments map[string]any, key string, required bool) (string, error) {
	value, exists := arguments[key]
	if !exists || value == nil {
		if required {
			return "", fmt.Errorf("missing required argument: %s", key)
		}
		return "", nil
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("argument %s: expected string, got %T", key, value)
	}
	return s, nil
}

// SafeGetNumber reads a numeric argument, falling back to defaultValue when absent.
func SafeGetNumber(arguments map[string]any, key string, required bool, defaultValue float64) (float64, error) {
	value, exists := arguments[key]
	if !exists || value == nil {
		if required {
			return 0, fmt.Errorf("missing required argument: %s", key)
		}
		return defaultValue, nil
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("argument %s: expected number, got %T", key, value)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...))
}
