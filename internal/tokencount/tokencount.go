// Package tokencount counts tokens for text, chat messages, and tool
// schemas, either exactly (via tiktoken-go's cl100k_base encoding) or as a
// cheap estimate when an exact tokenizer is unavailable for a provider.
//
// Grounded on the estimate-with-accurate-fallback shape used throughout the
// pack's LLM-facing packages (see intelligencedev-manifold's
// internal/llm.EstimateTokens), generalized to an explicit Mode so the
// Budget Tracker (internal/budget) can report which one produced a count.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Mode reports whether a count came from the real tokenizer or a heuristic.
type Mode string

const (
	ModeExact    Mode = "exact"
	ModeEstimate Mode = "estimate"
)

// perMessageOverhead approximates the role/separator tokens OpenAI-style
// chat formats add per message, matching the common cl100k chat accounting
// convention (name/role wrapper tokens).
const perMessageOverhead = 4

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding("cl100k_base")
	})
	return enc, encErr
}

// Counter counts tokens, preferring the exact tokenizer and falling back to
// an estimate (runes/4 + 1) when the exact encoder fails to load.
type Counter struct{}

// New returns a Counter. There is no configuration: the fallback behavior
// is unconditional, matching the spec's {exact, estimate} tokenizer-mode
// contract rather than a hard failure when tiktoken data is unreachable.
func New() *Counter {
	return &Counter{}
}

// CountText counts the tokens in a single string.
func (c *Counter) CountText(s string) (count int, mode Mode) {
	if s == "" {
		return 0, ModeExact
	}
	if e, err := encoding(); err == nil {
		return len(e.Encode(s, nil, nil)), ModeExact
	}
	return estimate(s), ModeEstimate
}

// Message is the minimal chat-message shape the counter needs: enough to
// approximate per-message formatting overhead without importing the
// providers package (which would create an import cycle with budget).
type Message struct {
	Role    string
	Content string
}

// CountMessages counts the tokens across a conversation, including a fixed
// per-message overhead for role/separator tokens.
func (c *Counter) CountMessages(msgs []Message) (count int, mode Mode) {
	mode = ModeExact
	e, err := encoding()
	if err != nil {
		mode = ModeEstimate
	}
	for _, m := range msgs {
		if e != nil {
			count += len(e.Encode(m.Role, nil, nil))
			count += len(e.Encode(m.Content, nil, nil))
		} else {
			count += estimate(m.Role) + estimate(m.Content)
		}
		count += perMessageOverhead
	}
	return count, mode
}

// CountToolSchemas counts the tokens needed to describe a set of tool
// function-calling schemas, each already serialized to its JSON text form.
// An empty slice counts as zero tokens.
func (c *Counter) CountToolSchemas(schemas []string) (count int, mode Mode) {
	mode = ModeExact
	for _, s := range schemas {
		n, m := c.CountText(s)
		count += n
		if m == ModeEstimate {
			mode = ModeEstimate
		}
	}
	return count, mode
}

func estimate(s string) int {
	if s == "" {
		return 0
	}
	return len([]rune(s))/4 + 1
}
