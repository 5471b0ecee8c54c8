// Package store defines the Session Store contract (C3): sessions and
// ordered messages with atomic seq allocation, lease locks with TTL, and
// fencing against stale workers after lock takeover.
//
// Adapted from the teacher's internal/store.SessionStore interface shape,
// replacing its cache-centric chat-history methods with the seq/lease/
// fencing/compaction-watermark operations spec §4.1 requires.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors surfaced by SessionStore implementations. These map
// directly to spec §7's taxonomy of invariant-violating, always-surfaced
// errors.
var (
	// ErrSessionFenced is raised when a guarded UPDATE (append_message or
	// store_compaction_result) affects zero rows because the caller's
	// lock_token no longer matches the stored one.
	ErrSessionFenced = sentinel("session fenced: lock token no longer current")

	// ErrSessionNotFound names a missing session row. LoadSessionFromDB
	// does not return it: a missing row is reported as (false, nil) even
	// with force=true, and a database error propagates as-is.
	ErrSessionNotFound = sentinel("session not found")

	// ErrCompactionRejected is raised by StoreCompactionResult when the
	// watermark monotonicity invariant would be violated, independent of
	// the fencing check.
	ErrCompactionRejected = sentinel("compaction result rejected: watermark would not advance")
)

type sentinelError string

func sentinel(s string) error          { return sentinelError(s) }
func (e sentinelError) Error() string { return string(e) }

// Message is one row of a session's ordered conversation. Seq is unique
// per session and strictly increasing by creation order.
type Message struct {
	ID         uuid.UUID
	SessionID  string
	Seq        int64
	Role       string // user, assistant, system, tool
	Content    string
	ToolCalls  json.RawMessage // optional structured list
	ToolCallID string          // optional correlation id
	CreatedAt  time.Time
}

// NewMessage is the subset of Message fields a caller supplies to
// AppendMessage; Seq, ID, and CreatedAt are assigned by the store.
type NewMessage struct {
	Role       string
	Content    string
	ToolCalls  json.RawMessage
	ToolCallID string
}

// CompactionMetadata is the structured record the spec requires alongside
// every stored compaction result: schema version, status, counts, anchor
// validation flag, timestamps, and input/output token counts.
type CompactionMetadata struct {
	SchemaVersion   int       `json:"schema_version"`
	Status          string    `json:"status"`
	PreservedCount  int       `json:"preserved_count"`
	SummarizedCount int       `json:"summarized_count"`
	FlushSkipped    bool      `json:"flush_skipped"`
	AnchorValidated bool      `json:"anchor_validated"`
	AnchorRetried   bool      `json:"anchor_retried"`
	TriggeredAt     time.Time `json:"triggered_at"`
	InputTokens     int       `json:"input_tokens"`
	OutputTokens    int       `json:"output_tokens"`
}

// FlushCandidate is a high-confidence user-declared fact extracted by the
// Memory Flush Generator (C8) from compressible turns.
type FlushCandidate struct {
	ID               uuid.UUID
	SourceSessionID  string
	SourceMessageIDs []uuid.UUID
	Text             string
	Tags             []string
	Confidence       float64
	CreatedAt        time.Time
}

// CompactionState is the triple get_compaction_state returns: the rolling
// summary, the watermark (nil if compaction has never run), and metadata.
type CompactionState struct {
	Summary   string
	Watermark *int64
	Metadata  *CompactionMetadata
}

// CompactionResult is what the Compaction Engine (C10) hands back to
// store_compaction_result. Status noop must never be stored.
type CompactionResult struct {
	Status            string // success, degraded, failed, noop
	Summary           string
	Metadata          CompactionMetadata
	NewWatermark      int64
	FlushCandidates   []FlushCandidate
	PreservedMessages []Message
}

// SessionStore owns the relational tables for sessions and messages and
// all lock/seq operations (spec §4.1).
type SessionStore interface {
	// TryClaimSession attempts to acquire the lease lock for session_id.
	// It implements try_claim_session as a single upsert: insert a fresh
	// row with a new token, or update the existing row only when its
	// processing_since is null or older than now-ttl. ok is false if the
	// session is currently held by a live lease.
	TryClaimSession(ctx context.Context, sessionID string, ttl time.Duration) (lockToken string, ok bool, err error)

	// ReleaseSession clears processing_since and lock_token only when the
	// stored token matches lockToken. A mismatch is a silent no-op: this
	// is what prevents worker A from clearing worker B's lock after a
	// TTL-driven takeover.
	ReleaseSession(ctx context.Context, sessionID, lockToken string) error

	// AppendMessage allocates the next seq and inserts the message in one
	// transaction. When lockToken is non-empty, the guard requires the
	// stored lock_token to equal lockToken or be null; a zero-row result
	// returns ErrSessionFenced. The returned seq is the row's pre-increment
	// next_seq value.
	AppendMessage(ctx context.Context, sessionID string, msg NewMessage, lockToken string) (seq int64, err error)

	// LoadSessionFromDB reports whether the session row exists in the
	// database.
	// With force=true a database error propagates instead of returning
	// false; "no such session" always returns (false, nil).
	LoadSessionFromDB(ctx context.Context, sessionID string, force bool) (bool, error)

	// GetEffectiveHistory returns messages with seq strictly greater than
	// watermark (or all messages if watermark is nil).
	GetEffectiveHistory(ctx context.Context, sessionID string, watermark *int64) ([]Message, error)

	// GetCompactionState returns the current (summary, watermark,
	// metadata) triple, or nil if compaction has never run for this
	// session.
	GetCompactionState(ctx context.Context, sessionID string) (*CompactionState, error)

	// StoreCompactionResult conditionally updates a session's compaction
	// state. Requires lock_token == lockToken AND (current watermark is
	// null OR strictly less than result.NewWatermark). A zero-row result
	// is a fencing/monotonicity failure: ErrSessionFenced if the lock
	// token no longer matches, ErrCompactionRejected if the lock matched
	// but the watermark would not have advanced. Must never be called
	// with result.Status == "noop".
	StoreCompactionResult(ctx context.Context, sessionID string, result CompactionResult, lockToken string) error

	// GetMode returns the session's tool-mode tag. Fail-closed: any
	// lookup error, unknown value, or non-chat-safe value downgrades to
	// "chat_safe"; a warning is logged for downgrades.
	GetMode(ctx context.Context, sessionID string) (string, error)
}
