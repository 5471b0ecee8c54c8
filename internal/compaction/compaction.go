// Package compaction implements the Compaction Engine (C10): turn
// splitting, preserved/compressible zone selection, memory-flush
// delegation, rolling-summary generation, and anchor-visibility retry.
// Grounded on original_source/src/agent/compaction.py, adapted to call the
// session store's own types directly rather than a separate session-layer
// DTO.
package compaction

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neomagi/neomagi/internal/config"
	"github.com/neomagi/neomagi/internal/guardrail"
	"github.com/neomagi/neomagi/internal/memory"
	"github.com/neomagi/neomagi/internal/providers"
	"github.com/neomagi/neomagi/internal/store"
	"github.com/neomagi/neomagi/internal/tokencount"
)

const summaryPromptTemplate = `You are a conversation compactor. Produce a structured JSON summary of the conversation below.

Previous summary (if any):
%s

Conversation to compress:
%s

Output a JSON object with exactly these keys:
- "facts": list of confirmed facts
- "decisions": list of decisions made
- "open_todos": list of unfinished items
- "user_prefs": list of user preference declarations
- "timeline": list of key events with timestamps or order

Rules:
- Be concise. Each item should be one sentence.
- Preserve information critical for task continuity.
- Do NOT include casual greetings or acknowledgments.
- Output ONLY the JSON object, no markdown fencing.
- Total output must be within %d tokens.
`

// Turn is a conversation turn: one user message plus all subsequent
// assistant/tool messages up to (exclusive of) the next user message.
type Turn struct {
	StartSeq int64
	EndSeq   int64
	Messages []store.Message
}

// SplitTurns splits messages into turns at user-role boundaries.
// Consecutive user messages yield single-message turns. Tool and
// assistant messages always belong to the currently open turn.
func SplitTurns(messages []store.Message) []Turn {
	if len(messages) == 0 {
		return nil
	}

	var turns []Turn
	var current []store.Message

	flush := func() {
		if len(current) == 0 {
			return
		}
		turns = append(turns, Turn{
			StartSeq: current[0].Seq,
			EndSeq:   current[len(current)-1].Seq,
			Messages: current,
		})
	}

	for _, msg := range messages {
		if msg.Role == "user" && len(current) > 0 {
			flush()
			current = nil
		}
		current = append(current, msg)
	}
	flush()

	return turns
}

// Result is the compaction outcome. Status "noop" must never be passed to
// store.SessionStore.StoreCompactionResult.
type Result struct {
	Status            string
	CompactedContext  string
	Metadata          store.CompactionMetadata
	NewWatermark      int64
	FlushCandidates   []store.FlushCandidate
	PreservedMessages []store.Message
}

// Engine executes the compaction pipeline. Memory flush is generated
// exclusively by this engine; the Agent Loop must not call the Memory
// Flush Generator directly.
type Engine struct {
	provider     providers.Provider
	counter      *tokencount.Counter
	flushGen     *memory.Generator
	workspaceDir string
	runtime      config.RuntimeConfig
}

// NewEngine builds an Engine.
func NewEngine(provider providers.Provider, counter *tokencount.Counter, workspaceDir string, runtime config.RuntimeConfig) *Engine {
	return &Engine{
		provider:     provider,
		counter:      counter,
		workspaceDir: workspaceDir,
		runtime:      runtime,
		flushGen: memory.NewGenerator(memory.GeneratorLimits{
			MaxCandidates: runtime.MaxFlushCandidates,
			MaxTextBytes:  runtime.MaxCandidateTextBytes,
		}),
	}
}

// compact executes the compaction pipeline against messages.
func (e *Engine) compact(
	ctx context.Context,
	messages []store.Message,
	systemPrompt string,
	lastCompactionSeq *int64,
	previousCompactedContext string,
	currentUserSeq int64,
	model string,
	sessionID string,
) Result {
	allTurns := SplitTurns(messages)
	if len(allTurns) == 0 {
		return noopResult(lastCompactionSeq, nil)
	}

	var completed []Turn
	for _, t := range allTurns {
		if t.StartSeq < currentUserSeq {
			completed = append(completed, t)
		}
	}
	if len(completed) == 0 {
		return noopResult(lastCompactionSeq, nil)
	}

	minPreserved := e.runtime.MinPreservedTurns
	if len(completed) <= minPreserved {
		return noopResult(lastCompactionSeq, flattenTurns(completed))
	}

	preserved := completed[len(completed)-minPreserved:]
	compressible := completed[:len(completed)-minPreserved]

	if lastCompactionSeq != nil {
		var filtered []Turn
		for _, t := range compressible {
			if t.EndSeq > *lastCompactionSeq {
				filtered = append(filtered, t)
			}
		}
		compressible = filtered
	}

	if len(compressible) == 0 {
		return noopResult(lastCompactionSeq, flattenTurns(preserved))
	}

	newWatermark := compressible[len(compressible)-1].EndSeq
	if newWatermark > currentUserSeq-1 {
		newWatermark = currentUserSeq - 1
	}

	flushCandidates, flushSkipped := e.generateFlush(ctx, compressible, sessionID)

	conversationText := turnsToText(compressible)
	inputTokens, _ := e.counter.CountText(conversationText)
	maxSummaryTokens := int(float64(inputTokens) * 0.3)

	if maxSummaryTokens < 100 {
		return Result{
			Status:           "degraded",
			CompactedContext: previousCompactedContext,
			Metadata: e.makeMetadata("degraded", len(preserved), len(compressible),
				flushSkipped, true, false, 0, inputTokens),
			NewWatermark:      newWatermark,
			FlushCandidates:   flushCandidates,
			PreservedMessages: flattenTurns(preserved),
		}
	}

	status := "success"
	summaryText, err := e.generateSummaryTimed(ctx, previousCompactedContext, conversationText, maxSummaryTokens, model)
	if err != nil {
		status = "degraded"
	}

	preservedText := turnsToText(preserved)
	anchorPassed := true
	anchorRetried := false
	if summaryText != "" && status == "success" {
		anchorPassed = e.validateAnchors(systemPrompt, summaryText, preservedText)
		if !anchorPassed && e.runtime.AnchorRetryEnabled {
			anchorRetried = true
			retryText, retryErr := e.generateSummaryTimed(ctx, previousCompactedContext, conversationText, maxSummaryTokens, model)
			if retryErr == nil {
				summaryText = retryText
				anchorPassed = e.validateAnchors(systemPrompt, summaryText, preservedText)
			} else {
				anchorPassed = false
			}
			if !anchorPassed {
				status = "degraded"
			}
		}
	}

	summaryTokens := 0
	if summaryText != "" {
		summaryTokens, _ = e.counter.CountText(summaryText)
	}

	return Result{
		Status:           status,
		CompactedContext: summaryText,
		Metadata: e.makeMetadata(status, len(preserved), len(compressible),
			flushSkipped, anchorPassed, anchorRetried, summaryTokens, inputTokens),
		NewWatermark:      newWatermark,
		FlushCandidates:   flushCandidates,
		PreservedMessages: flattenTurns(preserved),
	}
}

func noopResult(lastCompactionSeq *int64, preserved []store.Message) Result {
	watermark := int64(0)
	if lastCompactionSeq != nil {
		watermark = *lastCompactionSeq
	}
	return Result{Status: "noop", NewWatermark: watermark, PreservedMessages: preserved}
}

func flattenTurns(turns []Turn) []store.Message {
	var out []store.Message
	for _, t := range turns {
		out = append(out, t.Messages...)
	}
	return out
}

func turnsToText(turns []Turn) string {
	var lines []string
	for _, t := range turns {
		for _, m := range t.Messages {
			if m.Content != "" {
				lines = append(lines, fmt.Sprintf("[%s]: %s", m.Role, m.Content))
			}
		}
	}
	return strings.Join(lines, "\n")
}

// generateFlush delegates to the Memory Flush Generator, bounded by
// FlushTimeoutSeconds; a timeout or error is non-fatal and marked
// flush_skipped instead of aborting compaction.
func (e *Engine) generateFlush(ctx context.Context, compressible []Turn, sessionID string) ([]store.FlushCandidate, bool) {
	flushTurns := make([]memory.FlushTurn, 0, len(compressible))
	idByContent := make(map[string]uuid.UUID)
	for _, t := range compressible {
		msgs := make([]memory.FlushMessage, 0, len(t.Messages))
		for _, m := range t.Messages {
			msgs = append(msgs, memory.FlushMessage{Role: m.Role, Content: m.Content, Seq: m.Seq})
			idByContent[strconv.FormatInt(m.Seq, 10)] = m.ID
		}
		flushTurns = append(flushTurns, memory.FlushTurn{Messages: msgs})
	}

	timeout := time.Duration(e.runtime.FlushTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	type genOutcome struct {
		candidates []memory.FlushCandidate
	}
	resultCh := make(chan genOutcome, 1)
	go func() {
		resultCh <- genOutcome{candidates: e.flushGen.Generate(flushTurns, sessionID)}
	}()

	select {
	case out := <-resultCh:
		return mapFlushCandidates(out.candidates, idByContent, sessionID), false
	case <-time.After(timeout):
		return nil, true
	case <-ctx.Done():
		return nil, true
	}
}

func mapFlushCandidates(candidates []memory.FlushCandidate, idBySeq map[string]uuid.UUID, sessionID string) []store.FlushCandidate {
	out := make([]store.FlushCandidate, 0, len(candidates))
	for _, c := range candidates {
		var ids []uuid.UUID
		for _, seqStr := range c.SourceMessageIDs {
			if id, ok := idBySeq[seqStr]; ok {
				ids = append(ids, id)
			}
		}
		out = append(out, store.FlushCandidate{
			ID:               uuid.Must(uuid.NewV7()),
			SourceSessionID:  sessionID,
			SourceMessageIDs: ids,
			Text:             c.CandidateText,
			Tags:             c.ConstraintTags,
			Confidence:       c.Confidence,
		})
	}
	return out
}

// generateSummaryTimed bounds one summarization call with CompactTimeoutSeconds.
func (e *Engine) generateSummaryTimed(ctx context.Context, previousContext, conversationText string, maxOutputTokens int, model string) (string, error) {
	timeout := time.Duration(e.runtime.CompactTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.generateSummary(cctx, previousContext, conversationText, maxOutputTokens, model)
}

func (e *Engine) generateSummary(ctx context.Context, previousContext, conversationText string, maxOutputTokens int, model string) (string, error) {
	prev := previousContext
	if prev == "" {
		prev = "(none)"
	}
	prompt := fmt.Sprintf(summaryPromptTemplate, prev, conversationText, maxOutputTokens)

	resp, err := e.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: "You are a precise conversation summarizer."},
			{Role: "user", Content: prompt},
		},
		Model:   model,
		Options: map[string]interface{}{"temperature": e.runtime.SummaryTemperature},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// validateAnchors checks that the anchors of the workspace contract files
// (the headings and bold list items guardrail.LoadContract extracts) are
// present in system_prompt + compacted_context + effectiveHistoryText,
// reusing the guardrail package's contract loader rather than
// re-implementing anchor extraction.
func (e *Engine) validateAnchors(systemPrompt, compactedContext, effectiveHistoryText string) bool {
	if systemPrompt == "" {
		return false
	}
	contract := guardrail.LoadContract(e.workspaceDir)
	if len(contract.Anchors) == 0 {
		return true
	}
	finalContext := systemPrompt + compactedContext + effectiveHistoryText
	for _, a := range contract.Anchors {
		if !strings.Contains(finalContext, a) {
			return false
		}
	}
	return true
}

func (e *Engine) makeMetadata(status string, preservedCount, summarizedCount int, flushSkipped, anchorValidated, anchorRetried bool, outputTokens, inputTokens int) store.CompactionMetadata {
	return store.CompactionMetadata{
		SchemaVersion:   1,
		Status:          status,
		PreservedCount:  preservedCount,
		SummarizedCount: summarizedCount,
		FlushSkipped:    flushSkipped,
		AnchorValidated: anchorValidated,
		AnchorRetried:   anchorRetried,
		TriggeredAt:     time.Now().UTC(),
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
	}
}
