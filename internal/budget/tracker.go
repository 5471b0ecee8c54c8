// Package budget implements the Budget Tracker (per-turn token accounting
// against configured thresholds). The Budget Gate (cross-provider
// cumulative-€ accounting with atomic reserve/settle) is not in this
// package: it is store.BudgetStore, implemented against Postgres in
// internal/store/pg.
//
// The tracker is pure arithmetic grounded on internal/tokencount.
package budget

import (
	"github.com/neomagi/neomagi/internal/config"
	"github.com/neomagi/neomagi/internal/tokencount"
)

// Status is the Budget Tracker's verdict for the current turn.
type Status string

const (
	StatusOK            Status = "ok"
	StatusWarn          Status = "warn"
	StatusCompactNeeded Status = "compact_needed"
)

// Report is the full tracker result, carrying enough detail for the Agent
// Loop to log and for the Prompt Builder's caller to decide on compaction.
type Report struct {
	Status          Status
	CurrentTokens   int
	UsableBudget    int
	WarnThreshold   int
	CompactThreshold int
	TokenizerMode   tokencount.Mode
}

// Tracker evaluates token usage for a turn against the configured context
// window, producing the {ok, warn, compact-needed} verdict.
type Tracker struct {
	counter *tokencount.Counter
	runtime config.RuntimeConfig
}

// New builds a Tracker bound to a runtime configuration's context-window
// knobs (limit, reserved-output, safety-margin, warn/compact ratios).
func New(runtime config.RuntimeConfig, counter *tokencount.Counter) *Tracker {
	if counter == nil {
		counter = tokencount.New()
	}
	return &Tracker{counter: counter, runtime: runtime}
}

// usableBudget is context_limit - reserved_output - safety_margin, per
// spec §6's configuration table.
func (t *Tracker) usableBudget() int {
	usable := t.runtime.ContextLimit - t.runtime.ReservedOutputTokens - t.runtime.SafetyMarginTokens
	if usable < 0 {
		usable = 0
	}
	return usable
}

// Evaluate counts tokens across the system prompt, effective history, and
// tool schemas, and reports the resulting status. Boundary behavior: a
// count exactly at warnThreshold reports warn; exactly at compactThreshold
// reports compact_needed (compact takes precedence since it is checked
// first and is numerically the larger threshold).
func (t *Tracker) Evaluate(systemPrompt string, history []tokencount.Message, toolSchemas []string) Report {
	usable := t.usableBudget()
	warnThreshold := int(float64(usable) * t.runtime.WarnRatio)
	compactThreshold := int(float64(usable) * t.runtime.CompactRatio)

	promptTokens, promptMode := t.counter.CountText(systemPrompt)
	historyTokens, historyMode := t.counter.CountMessages(history)
	toolTokens, toolMode := t.counter.CountToolSchemas(toolSchemas)

	mode := tokencount.ModeExact
	if promptMode == tokencount.ModeEstimate || historyMode == tokencount.ModeEstimate || toolMode == tokencount.ModeEstimate {
		mode = tokencount.ModeEstimate
	}

	current := promptTokens + historyTokens + toolTokens

	status := StatusOK
	switch {
	case current >= compactThreshold:
		status = StatusCompactNeeded
	case current >= warnThreshold:
		status = StatusWarn
	}

	return Report{
		Status:           status,
		CurrentTokens:    current,
		UsableBudget:     usable,
		WarnThreshold:    warnThreshold,
		CompactThreshold: compactThreshold,
		TokenizerMode:    mode,
	}
}
