// Package agent implements the Agent Loop (C13): the per-turn pipeline
// described in spec §4.9 that appends the user message, builds the system
// prompt, runs the budget/compaction/guardrail checks, streams the model
// call, and executes any tool calls the model requests. Grounded on
// original_source/src/agent/agent.py, adapted from the teacher's Think ->
// Act -> Observe loop in internal/agent/loop.go.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomagi/neomagi/internal/budget"
	"github.com/neomagi/neomagi/internal/compaction"
	"github.com/neomagi/neomagi/internal/config"
	"github.com/neomagi/neomagi/internal/guardrail"
	"github.com/neomagi/neomagi/internal/memory"
	"github.com/neomagi/neomagi/internal/promptbuilder"
	"github.com/neomagi/neomagi/internal/providers"
	"github.com/neomagi/neomagi/internal/scope"
	"github.com/neomagi/neomagi/internal/store"
	"github.com/neomagi/neomagi/internal/telemetry"
	"github.com/neomagi/neomagi/internal/tokencount"
	"github.com/neomagi/neomagi/internal/tools"
)

// EventType discriminates the variants an Agent Loop turn yields.
type EventType string

const (
	// EventTextChunk carries one streamed fragment of assistant text.
	EventTextChunk EventType = "text_chunk"
	// EventToolCall announces a tool call the model requested, before it
	// runs.
	EventToolCall EventType = "tool_call"
	// EventToolDenied announces that a tool call was blocked by the mode
	// gate or the guardrail, instead of executed.
	EventToolDenied EventType = "tool_denied"
)

// ToolCallInfo is the payload of an EventToolCall event.
type ToolCallInfo struct {
	ToolName  string
	CallID    string
	Arguments map[string]interface{}
}

// ToolDeniedInfo is the payload of an EventToolDenied event.
type ToolDeniedInfo struct {
	CallID     string
	ToolName   string
	Mode       string
	ErrorCode  string
	Message    string
	NextAction string
}

// Event is one item of the lazy sequence HandleMessage yields. Exactly one
// of TextChunk, ToolCall, ToolDenied is populated, matching Type.
type Event struct {
	Type       EventType
	TextChunk  string
	ToolCall   *ToolCallInfo
	ToolDenied *ToolDeniedInfo
}

// toolResultError is the structured, JSON-serializable error object
// synthesized as a tool result on mode denial, guard block, unknown tool,
// invalid arguments, or a tool execution failure.
type toolResultError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// Turn is one user message handed to the Agent Loop by the Dispatch
// Orchestrator.
type Turn struct {
	SessionID string
	Content   string
	LockToken string
	Provider  providers.Provider
	Model     string
	Identity  scope.Identity
	DMScope   scope.DMScopePolicy
}

const recallLimit = 5

// Loop wires the session store, tool registry, prompt builder, budget
// tracker, compaction engine, and memory writer/searcher into one
// per-turn pipeline.
type Loop struct {
	sessions      store.SessionStore
	toolRegistry  *tools.Registry
	promptBuilder *promptbuilder.Builder
	tracker       *budget.Tracker
	compactor     *compaction.Engine
	memWriter     *memory.Writer
	memSearcher   *memory.Searcher
	counter       *tokencount.Counter
	workspaceDir  string
	runtime       config.RuntimeConfig
	tracer        trace.Tracer

	contractMu sync.Mutex
	contract   guardrail.CoreSafetyContract
}

// NewLoop builds a Loop. The core safety contract is loaded once here and
// refreshed lazily (via guardrail.MaybeRefresh) on each turn.
func NewLoop(
	sessions store.SessionStore,
	toolRegistry *tools.Registry,
	promptBuilder *promptbuilder.Builder,
	tracker *budget.Tracker,
	compactor *compaction.Engine,
	memWriter *memory.Writer,
	memSearcher *memory.Searcher,
	counter *tokencount.Counter,
	workspaceDir string,
	runtime config.RuntimeConfig,
) *Loop {
	return &Loop{
		sessions:      sessions,
		toolRegistry:  toolRegistry,
		promptBuilder: promptBuilder,
		tracker:       tracker,
		compactor:     compactor,
		memWriter:     memWriter,
		memSearcher:   memSearcher,
		counter:       counter,
		workspaceDir:  workspaceDir,
		runtime:       runtime,
		tracer:        otel.Tracer(telemetry.TracerName),
		contract:      guardrail.LoadContract(workspaceDir),
	}
}

// HandleMessage runs one turn, sending every yielded event to out. It never
// closes out (the caller owns the channel lifetime). The returned error is
// nil on a normal or degraded-but-completed turn; a non-nil error means a
// persistence or transport failure closed the turn early and the caller
// should surface it as a terminal RPC error rather than treat the turn as
// having produced a final assistant message.
func (l *Loop) HandleMessage(ctx context.Context, turn Turn, out chan<- Event) error {
	if _, err := l.sessions.AppendMessage(ctx, turn.SessionID, store.NewMessage{
		Role:    "user",
		Content: turn.Content,
	}, turn.LockToken); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}

	resolved, err := scope.Resolve(turn.Identity, turn.DMScope)
	if err != nil {
		return fmt.Errorf("resolve scope: %w", err)
	}

	mode, err := l.sessions.GetMode(ctx, turn.SessionID)
	if err != nil {
		slog.Warn("get_mode_failed_defaulting_chat_safe", "session_id", turn.SessionID, "error", err)
		mode = string(tools.ModeChatSafe)
	}

	compState, err := l.sessions.GetCompactionState(ctx, turn.SessionID)
	if err != nil {
		return fmt.Errorf("get compaction state: %w", err)
	}
	var watermark *int64
	compactedContext := ""
	if compState != nil {
		watermark = compState.Watermark
		compactedContext = compState.Summary
	}

	history, err := l.sessions.GetEffectiveHistory(ctx, turn.SessionID, watermark)
	if err != nil {
		return fmt.Errorf("load effective history: %w", err)
	}

	recall, err := l.memSearcher.SearchForRecall(ctx, resolved.ScopeKey, turn.Content, recallLimit)
	if err != nil {
		slog.Warn("memory_recall_failed", "session_id", turn.SessionID, "error", err)
		recall = nil
	}

	systemPrompt := l.promptBuilder.Build(tools.Mode(mode), resolved.ScopeKey, compactedContext, recall)

	maxIter := l.runtime.MaxToolIterations
	if maxIter <= 0 {
		maxIter = 10
	}
	compactionsUsed := 0

	for iteration := 0; iteration < maxIter; iteration++ {
		toolDefs := l.toolRegistry.GetToolsSchema(tools.Mode(mode))

		report := l.tracker.Evaluate(systemPrompt, toCounterMessages(history), schemaTexts(toolDefs))
		slog.Debug("budget_tracker_report", "session_id", turn.SessionID, "status", report.Status, "tokens", report.CurrentTokens)

		if report.Status == budget.StatusCompactNeeded && compactionsUsed < l.runtime.MaxCompactionsPerRequest {
			history, watermark, compactedContext = l.runCompaction(ctx, turn, resolved, history, systemPrompt, watermark, compactedContext)
			compactionsUsed++
			recall, err = l.memSearcher.SearchForRecall(ctx, resolved.ScopeKey, turn.Content, recallLimit)
			if err != nil {
				recall = nil
			}
			systemPrompt = l.promptBuilder.Build(tools.Mode(mode), resolved.ScopeKey, compactedContext, recall)
		}

		contract := l.refreshedContract()
		guardState := guardrail.CheckPreLLM(contract, systemPrompt)

		messages := append([]providers.Message{{Role: "system", Content: systemPrompt}}, toProviderMessages(history)...)

		resp, err := l.chatStreamTraced(ctx, turn, iteration, messages, toolDefs, out)
		if err != nil {
			return fmt.Errorf("model call: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			if _, err := l.sessions.AppendMessage(ctx, turn.SessionID, store.NewMessage{
				Role:    "assistant",
				Content: resp.Content,
			}, turn.LockToken); err != nil {
				return fmt.Errorf("append assistant message: %w", err)
			}
			return nil
		}

		toolCallsJSON, _ := json.Marshal(resp.ToolCalls)
		if _, err := l.sessions.AppendMessage(ctx, turn.SessionID, store.NewMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: toolCallsJSON,
		}, turn.LockToken); err != nil {
			return fmt.Errorf("append assistant tool-call message: %w", err)
		}

		for _, tc := range resp.ToolCalls {
			announcedArgs, _ := parseToolArguments(tc.Arguments)
			select {
			case out <- Event{Type: EventToolCall, ToolCall: &ToolCallInfo{ToolName: tc.Name, CallID: tc.ID, Arguments: announcedArgs}}:
			case <-ctx.Done():
				return ctx.Err()
			}

			result := l.executeToolCallTraced(ctx, tc, tools.Mode(mode), guardState, resolved.ScopeKey, turn.SessionID, out)
			resultJSON, err := json.Marshal(result)
			if err != nil {
				resultJSON, _ = json.Marshal(toolResultError{ErrorCode: "INTERNAL_ERROR", Message: "failed to encode tool result"})
			}

			if _, err := l.sessions.AppendMessage(ctx, turn.SessionID, store.NewMessage{
				Role:       "tool",
				Content:    string(resultJSON),
				ToolCallID: tc.ID,
			}, turn.LockToken); err != nil {
				return fmt.Errorf("append tool result message: %w", err)
			}
		}

		history, err = l.sessions.GetEffectiveHistory(ctx, turn.SessionID, watermark)
		if err != nil {
			return fmt.Errorf("reload history after tool round: %w", err)
		}
	}

	select {
	case out <- Event{Type: EventTextChunk, TextChunk: fmt.Sprintf(
		"Stopped after %d tool-call rounds without a final answer. Please rephrase or break the request into smaller steps.", maxIter)}:
	case <-ctx.Done():
	}
	return nil
}

// runCompaction invokes the Compaction Engine and stores its result. On a
// store failure (fencing or a stale-watermark race) it falls back to an
// in-memory emergency trim of the working history rather than failing the
// turn; a further failure there just continues with the untrimmed history,
// per spec §4.6.
func (l *Loop) runCompaction(ctx context.Context, turn Turn, resolved scope.Resolved, history []store.Message, systemPrompt string, watermark *int64, compactedContext string) ([]store.Message, *int64, string) {
	currentUserSeq := latestSeq(history)

	result := l.compactor.Compact(ctx, history, systemPrompt, watermark, compactedContext, currentUserSeq, turn.Model, turn.SessionID)
	if result.Status == "noop" {
		return history, watermark, compactedContext
	}

	storeResult := store.CompactionResult{
		Status:            result.Status,
		Summary:           result.CompactedContext,
		Metadata:          result.Metadata,
		NewWatermark:      result.NewWatermark,
		FlushCandidates:   result.FlushCandidates,
		PreservedMessages: result.PreservedMessages,
	}

	if err := l.sessions.StoreCompactionResult(ctx, turn.SessionID, storeResult, turn.LockToken); err != nil {
		slog.Warn("compaction_store_failed_emergency_trim", "session_id", turn.SessionID, "error", err)
		return emergencyTrim(history, l.runtime.MinPreservedTurns), watermark, compactedContext
	}

	l.processFlushCandidates(ctx, result.FlushCandidates, resolved, turn.SessionID)

	newWatermark := result.NewWatermark
	newHistory, err := l.sessions.GetEffectiveHistory(ctx, turn.SessionID, &newWatermark)
	if err != nil {
		slog.Warn("history_reload_failed_after_compaction", "session_id", turn.SessionID, "error", err)
		newHistory = result.PreservedMessages
	}
	return newHistory, &newWatermark, result.CompactedContext
}

func (l *Loop) processFlushCandidates(ctx context.Context, candidates []store.FlushCandidate, resolved scope.Resolved, sessionID string) {
	if len(candidates) == 0 || l.memWriter == nil {
		return
	}
	resolvedCandidates := make([]memory.ResolvedCandidate, 0, len(candidates))
	for _, c := range candidates {
		resolvedCandidates = append(resolvedCandidates, memory.ResolvedCandidate{
			CandidateText:   c.Text,
			ScopeKey:        resolved.ScopeKey,
			SourceSessionID: sessionID,
			Confidence:      c.Confidence,
		})
	}
	if _, err := l.memWriter.ProcessFlushCandidates(ctx, resolvedCandidates, 0); err != nil {
		slog.Warn("memory_flush_write_failed", "session_id", sessionID, "error", err)
	}
}

// executeToolCall evaluates the mode gate and the pre-tool guard, then runs
// the tool. It always returns a JSON-serializable value (either the tool's
// own result map or a structured toolResultError).
func (l *Loop) executeToolCall(ctx context.Context, tc providers.ToolCall, mode tools.Mode, guardState guardrail.CheckResult, scopeKey, sessionID string, out chan<- Event) interface{} {
	args, err := parseToolArguments(tc.Arguments)
	if err != nil {
		return toolResultError{ErrorCode: "INVALID_ARGS", Message: err.Error()}
	}

	tool, found := l.toolRegistry.Get(tc.Name)
	if !found {
		return toolResultError{ErrorCode: "UNKNOWN_TOOL", Message: fmt.Sprintf("unknown tool %q", tc.Name)}
	}

	if !l.toolRegistry.CheckMode(tc.Name, mode) {
		l.emitDenied(ctx, out, tc, string(mode), "MODE_DENIED",
			fmt.Sprintf("tool %q is not available in mode %q", tc.Name, mode), "switch_session_mode")
		return toolResultError{ErrorCode: "MODE_DENIED", Message: fmt.Sprintf("tool %q is not available in the current session mode", tc.Name)}
	}

	if denial := guardrail.CheckPreTool(guardState, tc.Name, tool.RiskLevel()); denial != nil {
		l.emitDenied(ctx, out, tc, string(mode), denial.ErrorCode, denial.Detail, "none")
		return toolResultError{ErrorCode: denial.ErrorCode, Message: denial.Detail}
	}

	result, err := tool.Execute(ctx, args, tools.Context{ScopeKey: scopeKey, SessionID: sessionID})
	if err != nil {
		return toolResultError{ErrorCode: "TOOL_EXECUTION_ERROR", Message: err.Error()}
	}
	return result
}

func (l *Loop) emitDenied(ctx context.Context, out chan<- Event, tc providers.ToolCall, mode, errorCode, message, nextAction string) {
	select {
	case out <- Event{Type: EventToolDenied, ToolDenied: &ToolDeniedInfo{
		CallID:     tc.ID,
		ToolName:   tc.Name,
		Mode:       mode,
		ErrorCode:  errorCode,
		Message:    message,
		NextAction: nextAction,
	}}:
	case <-ctx.Done():
	}
}

func (l *Loop) refreshedContract() guardrail.CoreSafetyContract {
	l.contractMu.Lock()
	defer l.contractMu.Unlock()
	l.contract = guardrail.MaybeRefresh(&l.contract, l.workspaceDir)
	return l.contract
}

// RefreshContract reloads the core safety contract immediately, bypassing
// the lazy per-request hash check. Called from a guardrail.Watcher event so
// an edit to AGENTS.md/USER.md/SOUL.md takes effect before the next turn
// rather than only being caught by the next request's own hash comparison.
func (l *Loop) RefreshContract() {
	l.contractMu.Lock()
	defer l.contractMu.Unlock()
	l.contract = guardrail.LoadContract(l.workspaceDir)
}

func toProviderMessages(history []store.Message) []providers.Message {
	out := make([]providers.Message, 0, len(history))
	for _, m := range history {
		pm := providers.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		if len(m.ToolCalls) > 0 {
			var calls []providers.ToolCall
			if err := json.Unmarshal(m.ToolCalls, &calls); err == nil {
				pm.ToolCalls = calls
			}
		}
		out = append(out, pm)
	}
	return out
}

func toCounterMessages(history []store.Message) []tokencount.Message {
	out := make([]tokencount.Message, 0, len(history))
	for _, m := range history {
		out = append(out, tokencount.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func schemaTexts(defs []providers.ToolDefinition) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		b, err := json.Marshal(d)
		if err != nil {
			continue
		}
		out = append(out, string(b))
	}
	return out
}

func latestSeq(history []store.Message) int64 {
	var max int64
	for _, m := range history {
		if m.Seq > max {
			max = m.Seq
		}
	}
	return max
}

// emergencyTrim keeps only the last minPreservedTurns completed turns plus
// the open turn, for in-memory use when persisting a compaction result
// fails. It never touches the database.
func emergencyTrim(history []store.Message, minPreservedTurns int) []store.Message {
	if minPreservedTurns <= 0 {
		minPreservedTurns = 1
	}
	turns := compaction.SplitTurns(history)
	if len(turns) <= minPreservedTurns+1 {
		return history
	}
	var trimmed []store.Message
	for _, t := range turns[len(turns)-minPreservedTurns-1:] {
		trimmed = append(trimmed, t.Messages...)
	}
	return trimmed
}
