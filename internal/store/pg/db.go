// Package pg implements the store interfaces (SessionStore, BudgetStore,
// MemoryStore) against Postgres via database/sql, registering jackc/pgx/v5
// as the driver exactly as the teacher's cmd/migrate.go does.
//
// Each lock, seq, compaction-watermark and budget-ceiling check is a single
// guarded statement against one row of sessions, budget_state or
// budget_reservations, so concurrent workers serialize through the
// database rather than in-process locks (spec §5's "shared-resource
// policy"). Where a change spans several statements (the message insert
// after seq allocation, the reservation insert, the settle delta, a memory
// reindex) they run in one transaction.
package pg

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a connection pool against dsn, registering the pgx driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return db, nil
}
