package agent

import (
	"context"
	"testing"

	"github.com/neomagi/neomagi/internal/guardrail"
	"github.com/neomagi/neomagi/internal/providers"
	"github.com/neomagi/neomagi/internal/tools"
)

func TestParseToolArguments_ValidObject(t *testing.T) {
	got, err := parseToolArguments(`{"a": 1}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["a"] != float64(1) {
		t.Fatalf("unexpected args: %v", got)
	}
}

func TestParseToolArguments_EmptyObject(t *testing.T) {
	got, err := parseToolArguments(`{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestParseToolArguments_MalformedJSON(t *testing.T) {
	_, err := parseToolArguments(`{bad}`)
	if err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestParseToolArguments_EmptyStringIsParseError(t *testing.T) {
	_, err := parseToolArguments("")
	if err == nil {
		t.Fatal("expected a parse error for empty arguments")
	}
}

func TestParseToolArguments_ListRejected(t *testing.T) {
	_, err := parseToolArguments(`[]`)
	if err == nil {
		t.Fatal("expected list arguments to be rejected")
	}
}

func TestParseToolArguments_StringRejected(t *testing.T) {
	_, err := parseToolArguments(`"hello"`)
	if err == nil {
		t.Fatal("expected string arguments to be rejected")
	}
}

func TestParseToolArguments_IntRejected(t *testing.T) {
	_, err := parseToolArguments(`123`)
	if err == nil {
		t.Fatal("expected numeric arguments to be rejected")
	}
}

func TestParseToolArguments_NullRejected(t *testing.T) {
	_, err := parseToolArguments(`null`)
	if err == nil {
		t.Fatal("expected null arguments to be rejected")
	}
}

type stubAgentTool struct {
	name string
}

func (s *stubAgentTool) Name() string                       { return s.name }
func (s *stubAgentTool) Description() string                { return "stub" }
func (s *stubAgentTool) Parameters() map[string]interface{} { return map[string]interface{}{} }
func (s *stubAgentTool) Group() tools.Group                 { return tools.GroupCode }
func (s *stubAgentTool) AllowedModes() map[tools.Mode]bool {
	return map[tools.Mode]bool{tools.ModeChatSafe: true}
}
func (s *stubAgentTool) RiskLevel() tools.RiskLevel { return tools.RiskLow }
func (s *stubAgentTool) Execute(ctx context.Context, args map[string]interface{}, tc tools.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"received": args}, nil
}

func newExecuteTestLoop() *Loop {
	reg := tools.NewRegistry()
	_ = reg.Register(&stubAgentTool{name: "echo_tool"})
	return &Loop{toolRegistry: reg}
}

func TestExecuteToolCall_MalformedArgumentsReturnsInvalidArgs(t *testing.T) {
	l := newExecuteTestLoop()
	tc := providers.ToolCall{ID: "call_1", Name: "echo_tool", Arguments: `{bad json}`}

	out := make(chan Event, 4)
	result := l.executeToolCall(context.Background(), tc, tools.ModeChatSafe, guardrail.CheckResult{}, "scope", "sess", out)

	errResult, ok := result.(toolResultError)
	if !ok {
		t.Fatalf("expected toolResultError, got %T: %v", result, result)
	}
	if errResult.ErrorCode != "INVALID_ARGS" {
		t.Fatalf("expected INVALID_ARGS, got %s", errResult.ErrorCode)
	}
}

func TestExecuteToolCall_ListArgumentsReturnsInvalidArgs(t *testing.T) {
	l := newExecuteTestLoop()
	tc := providers.ToolCall{ID: "call_2", Name: "echo_tool", Arguments: `[]`}

	out := make(chan Event, 4)
	result := l.executeToolCall(context.Background(), tc, tools.ModeChatSafe, guardrail.CheckResult{}, "scope", "sess", out)

	errResult, ok := result.(toolResultError)
	if !ok {
		t.Fatalf("expected toolResultError, got %T: %v", result, result)
	}
	if errResult.ErrorCode != "INVALID_ARGS" {
		t.Fatalf("expected INVALID_ARGS, got %s", errResult.ErrorCode)
	}
}

func TestExecuteToolCall_ValidArgumentsExecutes(t *testing.T) {
	l := newExecuteTestLoop()
	tc := providers.ToolCall{ID: "call_3", Name: "echo_tool", Arguments: `{"x": 1}`}

	out := make(chan Event, 4)
	result := l.executeToolCall(context.Background(), tc, tools.ModeChatSafe, guardrail.CheckResult{}, "scope", "sess", out)

	if _, ok := result.(toolResultError); ok {
		t.Fatalf("expected successful execution, got error: %v", result)
	}
}

func TestExecuteToolCall_UnknownToolStillReportsUnknownTool(t *testing.T) {
	l := newExecuteTestLoop()
	tc := providers.ToolCall{ID: "call_4", Name: "does_not_exist", Arguments: `{}`}

	out := make(chan Event, 4)
	result := l.executeToolCall(context.Background(), tc, tools.ModeChatSafe, guardrail.CheckResult{}, "scope", "sess", out)

	errResult, ok := result.(toolResultError)
	if !ok {
		t.Fatalf("expected toolResultError, got %T: %v", result, result)
	}
	if errResult.ErrorCode != "UNKNOWN_TOOL" {
		t.Fatalf("expected UNKNOWN_TOOL, got %s", errResult.ErrorCode)
	}
}
