// Package promptbuilder assembles the system prompt from the seven-layer
// sequence described in spec §4.5, grounded on
// original_source/src/agent/prompt_builder.py and adapted into the
// teacher's string-builder idiom.
package promptbuilder

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/neomagi/neomagi/internal/tools"
)

// WorkspaceContextFiles are loaded every turn, in priority order.
var WorkspaceContextFiles = []string{"AGENTS.md", "USER.md", "SOUL.md", "IDENTITY.md"}

// MainSessionOnlyFiles are only loaded when the active scope is "main".
var MainSessionOnlyFiles = []string{"MEMORY.md"}

const identityLayer = "You are Magi, a personal AI assistant. " +
	"You have persistent memory and act in the user's information interests. " +
	"Be helpful, concise, and honest."

// RecallResult is one memory-recall hit to inject as a bulleted block.
type RecallResult struct {
	Title   string
	Content string
}

// Builder assembles system prompts for a fixed workspace directory.
type Builder struct {
	workspaceDir        string
	registry            *tools.Registry
	dailyNotesLoadDays  int
	dailyNotesMaxChars  int
	recallMaxEntryChars int
	recallMaxTotalChars int
}

// Option configures a Builder.
type Option func(*Builder)

// WithDailyNotesLimits overrides the default 2-day / 4000-token (~16000
// char) daily-note load window.
func WithDailyNotesLimits(days, maxChars int) Option {
	return func(b *Builder) { b.dailyNotesLoadDays = days; b.dailyNotesMaxChars = maxChars }
}

// WithRecallLimits overrides the default per-entry and total truncation
// budgets for the memory-recall layer.
func WithRecallLimits(perEntryChars, totalChars int) Option {
	return func(b *Builder) { b.recallMaxEntryChars = perEntryChars; b.recallMaxTotalChars = totalChars }
}

// New builds a Builder rooted at workspaceDir, optionally wired to a tool
// registry for the tooling layer.
func New(workspaceDir string, registry *tools.Registry, opts ...Option) *Builder {
	b := &Builder{
		workspaceDir:        workspaceDir,
		registry:            registry,
		dailyNotesLoadDays:  2,
		dailyNotesMaxChars:  16000,
		recallMaxEntryChars: 500,
		recallMaxTotalChars: 2000,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build concatenates the non-empty layer outputs with blank-line
// separators, in the spec's fixed layer order.
func (b *Builder) Build(mode tools.Mode, scopeKey, compactedContext string, recall []RecallResult) string {
	layers := []string{
		identityLayer,
		b.layerTooling(mode),
		b.layerSafety(mode),
		b.layerSkills(),
		b.layerWorkspace(scopeKey),
		b.layerCompactedContext(compactedContext),
		b.layerMemoryRecall(recall),
		b.layerDateTime(),
	}

	var nonEmpty []string
	for _, l := range layers {
		if l != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

func (b *Builder) layerTooling(mode tools.Mode) string {
	var parts []string

	if b.registry != nil {
		toolList := b.registry.ListTools(mode)
		if len(toolList) > 0 {
			lines := []string{"## Available Tools", ""}
			for _, t := range toolList {
				lines = append(lines, fmt.Sprintf("- **%s**: %s", t.Name(), t.Description()))
			}
			parts = append(parts, strings.Join(lines, "\n"))
		}
	}

	if notes := b.readWorkspaceFile("TOOLS.md"); notes != "" {
		parts = append(parts, notes)
	}

	return strings.Join(parts, "\n\n")
}

func (b *Builder) layerSafety(mode tools.Mode) string {
	if mode != tools.ModeChatSafe {
		return ""
	}
	return "## Safety\n\n" +
		"Current session mode: **chat_safe**.\n" +
		"Only conversational tools (memory search, current time, etc.) are available.\n" +
		"Code-editing and file-system tools are disabled in this mode.\n\n" +
		"If the user requests code operations, explain that these tools are not " +
		"available in the current mode and will be enabled in a future version."
}

func (b *Builder) layerSkills() string {
	return ""
}

func (b *Builder) layerWorkspace(scopeKey string) string {
	var parts []string

	for _, name := range WorkspaceContextFiles {
		if content := b.readWorkspaceFile(name); content != "" {
			parts = append(parts, content)
		}
	}

	if scopeKey == "main" {
		for _, name := range MainSessionOnlyFiles {
			if content := b.readWorkspaceFile(name); content != "" {
				parts = append(parts, content)
			}
		}
	}

	if notes := b.loadDailyNotes(scopeKey); notes != "" {
		parts = append(parts, notes)
	}

	if len(parts) == 0 {
		return ""
	}
	return "## Project Context\n\n" + strings.Join(parts, "\n\n---\n\n")
}

func (b *Builder) layerCompactedContext(compactedContext string) string {
	if compactedContext == "" {
		return ""
	}
	return "## Conversation Summary\n\n" + compactedContext
}

func (b *Builder) layerMemoryRecall(recall []RecallResult) string {
	if len(recall) == 0 {
		return ""
	}

	lines := []string{"## Recalled Memory", ""}
	total := 0
	for _, r := range recall {
		entry := r.Content
		if len(entry) > b.recallMaxEntryChars {
			entry = truncateUTF8(entry, b.recallMaxEntryChars) + "...(truncated)"
		}
		line := fmt.Sprintf("- **%s**: %s", r.Title, entry)
		if total+len(line) > b.recallMaxTotalChars {
			break
		}
		lines = append(lines, line)
		total += len(line)
	}
	if len(lines) == 2 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) layerDateTime() string {
	return "Current date and time (UTC): " + time.Now().UTC().Format("2006-01-02 15:04:05")
}

func (b *Builder) readWorkspaceFile(filename string) string {
	data, err := os.ReadFile(filepath.Join(b.workspaceDir, filename))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

var entrySeparator = regexp.MustCompile(`(?m)^---$`)
var scopeMetadata = regexp.MustCompile(`scope:\s*(\S+)`)

// loadDailyNotes loads today + (dailyNotesLoadDays-1) prior days of
// memory/YYYY-MM-DD.md, filtering entries by scope_key. An entry with no
// scope metadata is treated as scope "main" for legacy compatibility.
func (b *Builder) loadDailyNotes(scopeKey string) string {
	memoryDir := filepath.Join(b.workspaceDir, "memory")
	if info, err := os.Stat(memoryDir); err != nil || !info.IsDir() {
		return ""
	}

	today := time.Now().UTC()
	var parts []string

	for offset := 0; offset < b.dailyNotesLoadDays; offset++ {
		targetDate := today.AddDate(0, 0, -offset)
		dateStr := targetDate.Format("2006-01-02")
		data, err := os.ReadFile(filepath.Join(memoryDir, dateStr+".md"))
		if err != nil {
			continue
		}
		raw := strings.TrimSpace(string(data))
		if raw == "" {
			continue
		}
		filtered := filterEntriesByScope(raw, scopeKey)
		if filtered == "" {
			continue
		}
		if len(filtered) > b.dailyNotesMaxChars {
			filtered = truncateUTF8(filtered, b.dailyNotesMaxChars) + "\n...(truncated)"
		}
		parts = append(parts, fmt.Sprintf("=== %s ===\n%s", dateStr, filtered))
	}

	if len(parts) == 0 {
		return ""
	}
	return "[Recent Daily Notes]\n" + strings.Join(parts, "\n\n")
}

func filterEntriesByScope(content, scopeKey string) string {
	entries := entrySeparator.Split(content, -1)
	var filtered []string
	for _, entry := range entries {
		stripped := strings.TrimSpace(entry)
		if stripped == "" {
			continue
		}
		if m := scopeMetadata.FindStringSubmatch(stripped); m != nil {
			entryScope := strings.TrimSuffix(m[1], ")")
			if entryScope != scopeKey {
				continue
			}
		} else if scopeKey != "main" {
			continue
		}
		filtered = append(filtered, stripped)
	}
	return strings.Join(filtered, "\n\n")
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
