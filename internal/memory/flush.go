// Package memory implements the Memory Flush Generator, Writer, Indexer
// and Searcher (spec §4.10/§4.11): rule-based extraction of memory
// candidates from compressible turns, file-backed daily notes as the
// source of truth, and a Postgres-backed search index synced from those
// files. Grounded on original_source/src/agent/memory_flush.py and
// original_source/src/memory/{writer,indexer,searcher}.py.
package memory

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var explicitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)记住|请记住|以后|我喜欢|我不喜欢|我偏好|我讨厌|永远不要|总是`),
	regexp.MustCompile(`(?i)\b(remember|always|never|prefer|i like|i don't like|i hate|from now on)\b`),
}

var decisionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)我们决定|确认|最终|选定|敲定|同意`),
	regexp.MustCompile(`(?i)\b(we decided|confirmed|finalized|agreed|settled on|chosen)\b`),
}

var skipPattern = regexp.MustCompile(`(?i)^(ok|好的?|嗯|是的?|对|谢谢|thanks|sure|got it|明白)$`)

var safetyBoundaryPattern = regexp.MustCompile(`(?i)永远不要|never|不要|禁止`)

// FlushCandidate is one extracted memory candidate, pre-scope-resolution.
// Mirrors the agent-layer DTO; callers map it to a ResolvedCandidate
// once the session's scope_key is known, matching the original's
// agent-layer/memory-layer boundary split.
type FlushCandidate struct {
	SourceSessionID  string
	SourceMessageIDs []string
	CandidateText    string
	ConstraintTags   []string
	Confidence       float64
}

// FlushTurn is the minimal shape the generator needs from a compaction
// turn: its user messages, keyed by seq for SourceMessageIDs.
type FlushTurn struct {
	Messages []FlushMessage
}

// FlushMessage is one message inside a FlushTurn.
type FlushMessage struct {
	Role    string
	Content string
	Seq     int64
}

// GeneratorLimits bounds a single flush batch.
type GeneratorLimits struct {
	MaxCandidates int
	MaxTextBytes  int
}

// Generator extracts memory candidates from compressible turns via
// rule-based classification — no LLM call, by design (spec §4.10).
// Called exclusively by the Compaction Engine; the Agent Loop must not
// call this directly.
type Generator struct {
	limits GeneratorLimits
}

// NewGenerator builds a Generator bounded by limits.
func NewGenerator(limits GeneratorLimits) *Generator {
	if limits.MaxCandidates <= 0 {
		limits.MaxCandidates = 20
	}
	if limits.MaxTextBytes <= 0 {
		limits.MaxTextBytes = 2048
	}
	return &Generator{limits: limits}
}

// Generate extracts candidates from compressibleTurns for sessionID.
func (g *Generator) Generate(compressibleTurns []FlushTurn, sessionID string) []FlushCandidate {
	var candidates []FlushCandidate

	for _, turn := range compressibleTurns {
		if len(candidates) >= g.limits.MaxCandidates {
			break
		}

		for _, msg := range turn.Messages {
			if len(candidates) >= g.limits.MaxCandidates {
				break
			}
			if msg.Role != "user" || msg.Content == "" {
				continue
			}

			stripped := strings.TrimSpace(msg.Content)
			if skipPattern.MatchString(stripped) {
				continue
			}

			tags, confidence := classify(stripped)
			if confidence < 0.1 {
				continue
			}

			text := truncateUTF8(stripped, g.limits.MaxTextBytes)

			if confidence < 0 {
				confidence = 0
			} else if confidence > 1 {
				confidence = 1
			}

			candidates = append(candidates, FlushCandidate{
				SourceSessionID:  sessionID,
				SourceMessageIDs: []string{formatSeq(msg.Seq)},
				CandidateText:    text,
				ConstraintTags:   tags,
				Confidence:       confidence,
			})
		}
	}

	return candidates
}

// classify returns (tags, confidence) for a stripped user message,
// checking explicit declarations first, then decisions, then falling
// back to a low-confidence general-conversation bucket.
func classify(text string) ([]string, float64) {
	for _, p := range explicitPatterns {
		if p.MatchString(text) {
			tags := []string{"user_preference"}
			if safetyBoundaryPattern.MatchString(text) {
				tags = append(tags, "safety_boundary")
			}
			return tags, 0.9
		}
	}

	for _, p := range decisionPatterns {
		if p.MatchString(text) {
			return []string{"fact"}, 0.6
		}
	}

	if len(text) > 20 {
		return []string{"fact"}, 0.3
	}

	return nil, 0.0
}

// truncateUTF8 truncates s to at most maxBytes bytes without splitting a
// multi-byte rune.
func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	b := []byte(s)[:maxBytes]
	for len(b) > 0 && !isUTF8Boundary(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}

func isUTF8Boundary(b []byte) bool {
	// Back over continuation bytes (10xxxxxx) to the first byte of the last
	// rune; b ends on a boundary only when that rune's encoding is complete.
	start := len(b) - 1
	for start > 0 && b[start]&0xC0 == 0x80 {
		start--
	}
	return utf8.FullRune(b[start:])
}

func formatSeq(seq int64) string {
	return strconv.FormatInt(seq, 10)
}
