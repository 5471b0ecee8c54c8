package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/neomagi/neomagi/internal/store"
)

// MemoryStore implements store.MemoryStore against memory_entries, whose
// search_vector column combines setweight(title, 'A') and
// setweight(content, 'B') (see migrations). Every query carries a
// mandatory scope_key predicate; there is no code path here that can
// search across scopes.
type MemoryStore struct {
	db *sql.DB
}

// NewMemoryStore builds a Postgres-backed MemoryStore.
func NewMemoryStore(db *sql.DB) *MemoryStore {
	return &MemoryStore{db: db}
}

// Reindex deletes any existing rows for sourcePath and inserts entries,
// keeping reindex of an unchanged source from growing the table. One file
// (a daily note split on "---", or MEMORY.md split by header) can produce
// several entries sharing the same sourcePath.
func (m *MemoryStore) Reindex(ctx context.Context, sourcePath string, entries []store.MemoryEntry) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pg: reindex begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_entries WHERE source_path = $1`, sourcePath); err != nil {
		return fmt.Errorf("pg: reindex delete: %w", err)
	}

	for _, entry := range entries {
		tagsJSON, err := json.Marshal(entry.Tags)
		if err != nil {
			return fmt.Errorf("pg: reindex marshal tags: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO memory_entries (id, scope_key, source_type, source_path, source_date, title, content, tags, confidence, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		`, uuid.Must(uuid.NewV7()), entry.ScopeKey, string(entry.SourceType), nullableStr(entry.SourcePath),
			nullableStr(entry.SourceDate), entry.Title, entry.Content, tagsJSON, entry.Confidence)
		if err != nil {
			return fmt.Errorf("pg: reindex insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pg: reindex commit: %w", err)
	}
	return nil
}

// IndexEntryDirect inserts a single row with no prior delete, used by the
// memory writer's best-effort index-after-append path.
func (m *MemoryStore) IndexEntryDirect(ctx context.Context, entry store.MemoryEntry) error {
	tagsJSON, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("pg: index entry marshal tags: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO memory_entries (id, scope_key, source_type, source_path, source_date, title, content, tags, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	`, uuid.Must(uuid.NewV7()), entry.ScopeKey, string(entry.SourceType), nullableStr(entry.SourcePath),
		nullableStr(entry.SourceDate), entry.Title, entry.Content, tagsJSON, entry.Confidence)
	if err != nil {
		return fmt.Errorf("pg: index entry insert: %w", err)
	}
	return nil
}

// Search runs a websearch_to_tsquery match against search_vector, always
// filtered to scope_key = scopeKey, ranked by ts_rank and capped at limit.
func (m *MemoryStore) Search(ctx context.Context, scopeKey, query string, limit int) ([]store.MemoryEntry, error) {
	if strings.TrimSpace(scopeKey) == "" {
		return nil, fmt.Errorf("pg: search: scope_key is required")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT scope_key, source_type, source_path, source_date, title, content, tags, confidence
		FROM memory_entries
		WHERE scope_key = $1 AND search_vector @@ websearch_to_tsquery('english', $2)
		ORDER BY ts_rank(search_vector, websearch_to_tsquery('english', $2)) DESC
		LIMIT $3
	`, scopeKey, query, limit)
	if err != nil {
		return nil, fmt.Errorf("pg: search: %w", err)
	}
	defer rows.Close()

	var out []store.MemoryEntry
	for rows.Next() {
		var e store.MemoryEntry
		var sourceType string
		var sourcePath, sourceDate sql.NullString
		var tagsJSON []byte
		var confidence sql.NullFloat64
		if err := rows.Scan(&e.ScopeKey, &sourceType, &sourcePath, &sourceDate, &e.Title, &e.Content, &tagsJSON, &confidence); err != nil {
			return nil, fmt.Errorf("pg: search scan: %w", err)
		}
		e.SourceType = store.MemorySourceType(sourceType)
		e.SourcePath = sourcePath.String
		e.SourceDate = sourceDate.String
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &e.Tags); err != nil {
				return nil, fmt.Errorf("pg: search unmarshal tags: %w", err)
			}
		}
		if confidence.Valid {
			c := confidence.Float64
			e.Confidence = &c
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
