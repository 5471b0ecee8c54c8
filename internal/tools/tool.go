// Package tools implements the Tool Registry & Modes component: a
// name-keyed registry of agent-callable tools with mode-based visibility
// and risk-level classification, adapted from the teacher's
// internal/tools/policy.go group/profile machinery into the simpler
// allowed-modes/override model the spec calls for.
package tools

import "context"

// Group is a coarse domain tag for a tool, informational only — the
// guardrail gates on RiskLevel, not Group.
type Group string

const (
	GroupCode   Group = "code"
	GroupMemory Group = "memory"
	GroupWorld  Group = "world"
)

// Mode is a named operating mode a session can be in. Only ModeChatSafe
// is honored by the session store in this milestone (spec §3); ModeCoding
// exists so a tool's AllowedModes can already declare it.
type Mode string

const (
	ModeChatSafe Mode = "chat_safe"
	ModeCoding   Mode = "coding"
)

// RiskLevel classifies a tool for guardrail gating. Undeclared tools
// default to RiskHigh (fail-closed).
type RiskLevel string

const (
	RiskLow  RiskLevel = "low"
	RiskHigh RiskLevel = "high"
)

// Context is the runtime context injected into Execute by the agent loop.
// Tools must not re-derive ScopeKey from SessionID; they consume the
// resolved value directly, matching the scope resolver's scope_key output.
type Context struct {
	ScopeKey  string
	SessionID string
}

// Tool is the interface every agent-callable tool implements. AllowedModes
// is fail-closed: an empty set means the tool is registered but callable
// in no mode.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Group() Group
	AllowedModes() map[Mode]bool
	RiskLevel() RiskLevel
	Execute(ctx context.Context, args map[string]interface{}, tc Context) (map[string]interface{}, error)
}

// baseTool centralizes the fail-closed defaults (empty modes, high risk,
// code group) so concrete tools only override what differs.
type baseTool struct{}

func (baseTool) Group() Group                { return GroupCode }
func (baseTool) AllowedModes() map[Mode]bool { return nil }
func (baseTool) RiskLevel() RiskLevel        { return RiskHigh }
