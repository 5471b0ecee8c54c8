// Package curator implements the auxiliary Memory Curator: an
// LLM-assisted consolidation pass that folds recent daily notes into the
// workspace's curated MEMORY.md. It has no automatic trigger; a caller
// (the curator cobra subcommand, or an operator's own cron) decides when
// to run it. Grounded on original_source/src/memory/curator.py's
// read-notes / propose / diff / truncate / write workflow, reworked
// around providers.Provider instead of a concrete model client.
package curator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/neomagi/neomagi/internal/providers"
)

const systemPrompt = `You are a memory curator for a personal AI assistant.

Your task: review recent daily notes and the current MEMORY.md, then propose updates.

Rules:
1. Only add HIGH-CONFIDENCE patterns confirmed across multiple entries.
2. Remove outdated or contradicted information.
3. Keep MEMORY.md concise, prefer fewer, higher-quality entries.
4. Use markdown ## headers to organize sections.
5. Return ONLY the updated MEMORY.md content, nothing else.
6. If no changes are needed, return the current content unchanged.`

// DailyNote is one memory/YYYY-MM-DD.md file's content, keyed by its date.
type DailyNote struct {
	Date    string
	Content string
}

// Result summarizes one curation pass.
type Result struct {
	Status         string // updated, no_changes
	NewContent     string
	AdditionsCount int
	RemovalsCount  int
	Truncated      bool
}

// Consolidate proposes an updated MEMORY.md from recent daily notes and
// the current curated content. It performs no file I/O: the caller reads
// notes and currentMemoryMD and decides what to do with the result.
// maxChars truncates an oversized proposal rather than rejecting it,
// matching the original's curated_max_tokens*4 character budget.
func Consolidate(ctx context.Context, provider providers.Provider, notes []DailyNote, currentMemoryMD string, maxChars int) (Result, error) {
	if len(notes) == 0 {
		return Result{Status: "no_changes"}, nil
	}

	daily := renderNotes(notes)
	current := strings.TrimSpace(currentMemoryMD)

	userPrompt := fmt.Sprintf(
		"## Current MEMORY.md\n\n%s\n\n## Recent Daily Notes\n\n%s\n\n"+
			"Based on the daily notes above, produce the updated MEMORY.md content. "+
			"Add confirmed patterns and remove outdated information.",
		nonEmpty(current, "(empty)"), daily,
	)

	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Options: map[string]interface{}{"temperature": 0.2},
	})
	if err != nil {
		return Result{}, fmt.Errorf("curator: propose updates: %w", err)
	}

	newContent := strings.TrimSpace(resp.Content)
	if newContent == current {
		return Result{Status: "no_changes"}, nil
	}

	truncated := false
	if maxChars > 0 && len(newContent) > maxChars {
		newContent = truncateUTF8(newContent, maxChars)
		truncated = true
	}

	return Result{
		Status:         "updated",
		NewContent:     newContent,
		AdditionsCount: countAddedSections(current, newContent),
		RemovalsCount:  countRemovedSections(current, newContent),
		Truncated:      truncated,
	}, nil
}

// ReadRecentDailyNotes loads memory/YYYY-MM-DD.md files under workspaceDir
// for the past days, newest first, skipping missing or empty files.
func ReadRecentDailyNotes(workspaceDir string, days int) ([]DailyNote, error) {
	memoryDir := filepath.Join(workspaceDir, "memory")
	if _, err := os.Stat(memoryDir); os.IsNotExist(err) {
		return nil, nil
	}

	var notes []DailyNote
	today := time.Now()
	for offset := 0; offset < days; offset++ {
		d := today.AddDate(0, 0, -offset)
		dateStr := d.Format("2006-01-02")
		data, err := os.ReadFile(filepath.Join(memoryDir, dateStr+".md"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("curator: read daily note %s: %w", dateStr, err)
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		notes = append(notes, DailyNote{Date: dateStr, Content: content})
	}
	return notes, nil
}

func renderNotes(notes []DailyNote) string {
	sorted := make([]DailyNote, len(notes))
	copy(sorted, notes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	parts := make([]string, 0, len(sorted))
	for _, n := range sorted {
		parts = append(parts, fmt.Sprintf("=== %s ===\n%s", n.Date, n.Content))
	}
	return strings.Join(parts, "\n\n")
}

func countAddedSections(before, after string) int {
	return countSectionDelta(before, after)
}

func countRemovedSections(before, after string) int {
	return countSectionDelta(after, before)
}

// countSectionDelta counts "## " headers present in b but not in a, a
// coarse approximation of additions/removals for logging purposes only.
func countSectionDelta(a, b string) int {
	have := make(map[string]bool)
	for _, line := range strings.Split(a, "\n") {
		if strings.HasPrefix(line, "## ") {
			have[strings.TrimSpace(line)] = true
		}
	}
	count := 0
	for _, line := range strings.Split(b, "\n") {
		if strings.HasPrefix(line, "## ") && !have[strings.TrimSpace(line)] {
			count++
		}
	}
	return count
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
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
	start := len(b) - 1
	for start > 0 && b[start]&0xC0 == 0x80 {
		start--
	}
	return utf8.FullRune(b[start:])
}
