// Package common provides shared MCP helper functions for all tool packages.
//
// This package centralizes argument parsing, validation, and result creation
// to reduce duplication across MCP tool implementations and ensure consistent
// error handling and response formatting.
package common

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// GetStringArg safely extracts a string argument with default value.
func GetStringArg(args map[string]interface{}, key, defaultVal string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultVal
}

// GetBoolArg safely extracts a boolean argument. String representations are
// accepted because some clients send "true"/"false".
func GetBoolArg(args map[string]interface{}, key string, defaultVal bool) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return defaultVal
}

// GetIntArg safely extracts an integer argument.
func GetIntArg(args map[string]interface{}, key string, defaultVal int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		// Try to parse string as int
		var result int
		if _, err := fmt.Sscanf(v, "%d", &result); err == nil {
			return result
		}
	}
	return defaultVal
}

// GetStringSliceArg safely extracts a list argument. JSON arrays arrive as
// []interface{}; a comma-separated string is accepted as well.
func GetStringSliceArg(args map[string]interface{}, key string) []string {
	var out []string
	switch v := args[key].(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// NewTextResult creates a success result with text content.
func NewTextResult(text string) *mcp.CallToolResult {
	return mcp.NewToolResultText(text)
}

// NewErrorResult creates an error result with text content.
func NewErrorResult(text string) *mcp.CallToolResult {
	return mcp.NewToolResultError(text)
}

// RequireStringArg validates that a required string argument exists.
// Returns error result if missing or empty.
func RequireStringArg(args map[string]interface{}, key string) (string, *mcp.CallToolResult) {
	val, ok := args[key].(string)
	if !ok || val == "" {
		return "", NewErrorResult(fmt.Sprintf("%s parameter is required", key))
	}
	return val, nil
}

// RequireArgs validates multiple required string arguments.
// Returns error result with missing parameters listed.
func RequireArgs(args map[string]interface{}, keys ...string) *mcp.CallToolResult {
	var missing []string
	for _, key := range keys {
		val, ok := args[key].(string)
		if !ok || val == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return NewErrorResult(fmt.Sprintf("required parameters missing: %v", missing))
	}
	return nil
}
