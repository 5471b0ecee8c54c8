package tools

import (
	"context"
	"time"
)

// CurrentTimeTool reports the current time in a caller-supplied timezone,
// defaulting to UTC.
type CurrentTimeTool struct{ baseTool }

// NewCurrentTimeTool builds the current_time tool.
func NewCurrentTimeTool() *CurrentTimeTool { return &CurrentTimeTool{} }

func (t *CurrentTimeTool) Name() string        { return "current_time" }
func (t *CurrentTimeTool) Description() string { return "Get the current date and time" }
func (t *CurrentTimeTool) Group() Group        { return GroupWorld }
func (t *CurrentTimeTool) RiskLevel() RiskLevel { return RiskLow }
func (t *CurrentTimeTool) AllowedModes() map[Mode]bool {
	return map[Mode]bool{ModeChatSafe: true, ModeCoding: true}
}

func (t *CurrentTimeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "IANA timezone name, defaults to UTC",
			},
		},
	}
}

func (t *CurrentTimeTool) Execute(ctx context.Context, args map[string]interface{}, tc Context) (map[string]interface{}, error) {
	tzName, _ := args["timezone"].(string)
	if tzName == "" {
		tzName = "UTC"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return map[string]interface{}{
			"error_code": "INVALID_TIMEZONE",
			"message":    "unknown timezone: " + tzName,
		}, nil
	}
	now := time.Now().In(loc)
	return map[string]interface{}{
		"time":     now.Format("2006-01-02 15:04:05"),
		"timezone": tzName,
		"iso":      now.Format(time.RFC3339),
	}, nil
}
