package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neomagi/neomagi/internal/store"
)

// SessionStore implements store.SessionStore backed by Postgres.
//
// Adapted from the teacher's internal/store/pg.PGSessionStore: the teacher
// caches full in-memory session state keyed by session_key and writes it
// back wholesale on Save. This version drops that cache for the hot path
// (every mutation here must be a single guarded statement the database
// serializes, not a read-modify-write the process coordinates) and keeps
// only a lightweight mode cache, matching spec §4.1's "the session row as
// serialization point" design.
type SessionStore struct {
	db *sql.DB

	mu        sync.RWMutex
	modeCache map[string]string
}

// NewSessionStore builds a Postgres-backed SessionStore.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, modeCache: make(map[string]string)}
}

// TryClaimSession implements try_claim_session as a single upsert: insert
// a fresh session row with a new token, or update the existing row only
// when its processing_since is null or older than now-ttl.
func (s *SessionStore) TryClaimSession(ctx context.Context, sessionID string, ttl time.Duration) (string, bool, error) {
	token := uuid.Must(uuid.NewV4()).String()
	now := time.Now().UTC()
	cutoff := now.Add(-ttl)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, session_key, next_seq, lock_token, processing_since, mode, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $4, 'chat_safe', $4, $4)
		ON CONFLICT (session_key) DO UPDATE SET
			lock_token = EXCLUDED.lock_token,
			processing_since = EXCLUDED.processing_since,
			updated_at = EXCLUDED.updated_at
		WHERE sessions.processing_since IS NULL OR sessions.processing_since < $5
	`, uuid.Must(uuid.NewV7()), sessionID, token, now, cutoff)
	if err != nil {
		return "", false, fmt.Errorf("pg: try claim session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("pg: try claim session rows affected: %w", err)
	}
	if n == 0 {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseSession clears processing_since and lock_token only when the
// stored token matches lockToken. A mismatch is a silent no-op.
func (s *SessionStore) ReleaseSession(ctx context.Context, sessionID, lockToken string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET lock_token = NULL, processing_since = NULL, updated_at = now()
		WHERE session_key = $1 AND lock_token = $2
	`, sessionID, lockToken)
	if err != nil {
		return fmt.Errorf("pg: release session: %w", err)
	}
	return nil
}

// AppendMessage allocates the next seq and inserts the message in one
// transaction. When lockToken is non-empty, the session-row update's
// WHERE clause requires the stored lock_token to equal lockToken or be
// null; zero rows affected means fencing.
func (s *SessionStore) AppendMessage(ctx context.Context, sessionID string, msg store.NewMessage, lockToken string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("pg: append message begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	var row *sql.Row
	if lockToken != "" {
		row = tx.QueryRowContext(ctx, `
			UPDATE sessions SET next_seq = next_seq + 1, updated_at = now()
			WHERE session_key = $1 AND (lock_token = $2 OR lock_token IS NULL)
			RETURNING next_seq - 1
		`, sessionID, lockToken)
	} else {
		row = tx.QueryRowContext(ctx, `
			UPDATE sessions SET next_seq = next_seq + 1, updated_at = now()
			WHERE session_key = $1
			RETURNING next_seq - 1
		`, sessionID)
	}
	if err := row.Scan(&seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrSessionFenced
		}
		return 0, fmt.Errorf("pg: append message seq allocation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, seq, role, content, tool_calls, tool_call_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, uuid.Must(uuid.NewV7()), sessionID, seq, msg.Role, msg.Content, nullableJSON(msg.ToolCalls), nullableStr(msg.ToolCallID))
	if err != nil {
		return 0, fmt.Errorf("pg: append message insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("pg: append message commit: %w", err)
	}
	return seq, nil
}

// LoadSessionFromDB checks whether a session row exists. With force=true a
// database error propagates instead of returning false; "no such session"
// still returns false.
func (s *SessionStore) LoadSessionFromDB(ctx context.Context, sessionID string, force bool) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE session_key = $1)`, sessionID).Scan(&exists)
	if err != nil {
		if force {
			return false, fmt.Errorf("pg: load session: %w", err)
		}
		return false, nil
	}
	return exists, nil
}

// GetEffectiveHistory returns messages with seq strictly greater than
// watermark (or all messages if watermark is nil), ordered by seq.
func (s *SessionStore) GetEffectiveHistory(ctx context.Context, sessionID string, watermark *int64) ([]store.Message, error) {
	var rows *sql.Rows
	var err error
	if watermark != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, session_id, seq, role, content, tool_calls, tool_call_id, created_at
			FROM messages WHERE session_id = $1 AND seq > $2 ORDER BY seq ASC
		`, sessionID, *watermark)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, session_id, seq, role, content, tool_calls, tool_call_id, created_at
			FROM messages WHERE session_id = $1 ORDER BY seq ASC
		`, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get effective history: %w", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var m store.Message
		var toolCalls []byte
		var toolCallID sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &m.Role, &m.Content, &toolCalls, &toolCallID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("pg: scan message: %w", err)
		}
		if len(toolCalls) > 0 {
			m.ToolCalls = json.RawMessage(toolCalls)
		}
		m.ToolCallID = toolCallID.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetCompactionState returns the (summary, watermark, metadata) triple, or
// nil if compaction has never run for this session.
func (s *SessionStore) GetCompactionState(ctx context.Context, sessionID string) (*store.CompactionState, error) {
	var summary sql.NullString
	var watermark sql.NullInt64
	var metaJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT compacted_context, last_compaction_seq, compaction_metadata
		FROM sessions WHERE session_key = $1
	`, sessionID).Scan(&summary, &watermark, &metaJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("pg: get compaction state: %w", err)
	}
	if !watermark.Valid && len(metaJSON) == 0 {
		return nil, nil
	}

	state := &store.CompactionState{Summary: summary.String}
	if watermark.Valid {
		w := watermark.Int64
		state.Watermark = &w
	}
	if len(metaJSON) > 0 {
		var meta store.CompactionMetadata
		if err := json.Unmarshal(metaJSON, &meta); err == nil {
			state.Metadata = &meta
		}
	}
	return state, nil
}

// StoreCompactionResult conditionally updates a session's compaction
// state: requires lock_token == lockToken AND (current watermark IS NULL
// OR < result.NewWatermark). Zero rows affected means fencing or
// monotonicity rejection.
func (s *SessionStore) StoreCompactionResult(ctx context.Context, sessionID string, result store.CompactionResult, lockToken string) error {
	if result.Status == "noop" {
		return fmt.Errorf("pg: store compaction result: must not be called with noop status")
	}

	metaJSON, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("pg: marshal compaction metadata: %w", err)
	}

	candidatesJSON, err := json.Marshal(result.FlushCandidates)
	if err != nil {
		return fmt.Errorf("pg: marshal flush candidates: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			compacted_context = $1,
			compaction_metadata = $2,
			last_compaction_seq = $3,
			memory_flush_candidates = $4,
			updated_at = now()
		WHERE session_key = $5
		  AND lock_token = $6
		  AND (last_compaction_seq IS NULL OR last_compaction_seq < $3)
	`, result.Summary, metaJSON, result.NewWatermark, candidatesJSON, sessionID, lockToken)
	if err != nil {
		return fmt.Errorf("pg: store compaction result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pg: store compaction result rows affected: %w", err)
	}
	if n == 0 {
		// Disambiguate fencing from a genuine monotonicity rejection: a
		// lock mismatch is fencing; a matching lock with a stale
		// watermark is a rejection. Either way the caller must surface a
		// hard error, so one extra read is an acceptable cost in this
		// rare path.
		var storedToken sql.NullString
		if qerr := s.db.QueryRowContext(ctx, `SELECT lock_token FROM sessions WHERE session_key = $1`, sessionID).Scan(&storedToken); qerr == nil {
			if storedToken.String != lockToken {
				return store.ErrSessionFenced
			}
		}
		return store.ErrCompactionRejected
	}
	return nil
}

// GetMode returns the session's tool-mode tag. Fail-closed: any lookup
// error, unknown value, or non-chat-safe value downgrades to chat_safe.
func (s *SessionStore) GetMode(ctx context.Context, sessionID string) (string, error) {
	const fallback = "chat_safe"

	var mode sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT mode FROM sessions WHERE session_key = $1`, sessionID).Scan(&mode)
	if err != nil {
		slog.Warn("session_mode_lookup_failed", "session_id", sessionID, "error", err, "fallback", fallback)
		return fallback, nil
	}
	if !mode.Valid || mode.String != "chat_safe" {
		slog.Warn("session_mode_downgraded", "session_id", sessionID, "stored_mode", mode.String, "fallback", fallback)
		return fallback, nil
	}
	return mode.String, nil
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(b json.RawMessage) interface{} {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
