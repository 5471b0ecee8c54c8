package agent

import (
	"encoding/json"
	"fmt"
)

// parseToolArguments decodes a tool call's raw JSON argument string into an
// object. A non-object top-level value (array, string, number, bool, null)
// or a JSON syntax error both count as failure; callers get an empty map
// back either way so a caller that only needs a best-effort display value
// (the tool-call announcement) can ignore the error.
func parseToolArguments(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, fmt.Errorf("JSON parse error: empty arguments")
	}

	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return map[string]interface{}{}, fmt.Errorf("JSON parse error: %w", err)
	}

	m, ok := v.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}, fmt.Errorf("expected object, got %s", jsonValueKind(v))
	}
	return m, nil
}

func jsonValueKind(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	default:
		return "unknown"
	}
}
