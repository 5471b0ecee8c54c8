package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/neomagi/neomagi/internal/store"
)

// BudgetStore implements store.BudgetStore against a singleton budget_state
// row and a budget_reservations table. Grounded on the same "guarded
// UPDATE ... RETURNING" idiom as SessionStore: the stop ceiling check and
// the cumulative increment happen in the same statement the database
// serializes, so concurrent reservations cannot both slip past the
// ceiling.
type BudgetStore struct {
	db *sql.DB
}

// NewBudgetStore builds a Postgres-backed BudgetStore.
func NewBudgetStore(db *sql.DB) *BudgetStore {
	return &BudgetStore{db: db}
}

// TryReserve attempts to move cumulative_eur forward by cost, but only
// commits the move when the result would stay strictly below stopCeiling.
func (b *BudgetStore) TryReserve(ctx context.Context, provider, model, sessionID, evalRunID string, cost, warnThreshold, stopCeiling decimal.Decimal) (store.ReserveResult, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return store.ReserveResult{}, fmt.Errorf("pg: try reserve begin tx: %w", err)
	}
	defer tx.Rollback()

	var cumulative decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		UPDATE budget_state SET cumulative_eur = cumulative_eur + $1, updated_at = now()
		WHERE singleton = TRUE AND cumulative_eur + $1 < $2
		RETURNING cumulative_eur
	`, cost, stopCeiling).Scan(&cumulative)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var current decimal.Decimal
			if qerr := tx.QueryRowContext(ctx, `SELECT cumulative_eur FROM budget_state WHERE singleton = TRUE`).Scan(&current); qerr == nil {
				return store.ReserveResult{
					Denied:     true,
					Message:    "budget stop ceiling reached",
					Cumulative: current,
				}, nil
			}
			return store.ReserveResult{Denied: true, Message: "budget stop ceiling reached"}, nil
		}
		return store.ReserveResult{}, fmt.Errorf("pg: try reserve: %w", err)
	}

	reservationID := uuid.Must(uuid.NewV7())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO budget_reservations (id, provider, model, session_id, eval_run_id, reserved_eur, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'reserved', now())
	`, reservationID, provider, model, nullableStr(sessionID), nullableStr(evalRunID), cost)
	if err != nil {
		return store.ReserveResult{}, fmt.Errorf("pg: try reserve insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return store.ReserveResult{}, fmt.Errorf("pg: try reserve commit: %w", err)
	}

	return store.ReserveResult{
		ReservationID: reservationID,
		Cumulative:    cumulative,
		CrossedWarn:   cumulative.GreaterThanOrEqual(warnThreshold),
	}, nil
}

// Settle is the idempotent two-step CAS-then-delta: the status flip from
// reserved to settled is the compare-and-swap; the cumulative_eur delta is
// applied only by whichever caller wins that flip, so retried or
// duplicated settle calls for the same reservation are no-ops.
func (b *BudgetStore) Settle(ctx context.Context, reservationID uuid.UUID, actualCost decimal.Decimal) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pg: settle begin tx: %w", err)
	}
	defer tx.Rollback()

	var reservedEUR decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		UPDATE budget_reservations SET status = 'settled', actual_eur = $1, settled_at = now()
		WHERE id = $2 AND status = 'reserved'
		RETURNING reserved_eur
	`, actualCost, reservationID).Scan(&reservedEUR)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Either unknown reservation or already settled. The latter
			// is the common retry path and must stay a silent no-op.
			return nil
		}
		return fmt.Errorf("pg: settle flip: %w", err)
	}

	delta := actualCost.Sub(reservedEUR)
	if delta.IsZero() {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("pg: settle commit: %w", err)
		}
		return nil
	}

	_, err = tx.ExecContext(ctx, `UPDATE budget_state SET cumulative_eur = cumulative_eur + $1, updated_at = now() WHERE singleton = TRUE`, delta)
	if err != nil {
		return fmt.Errorf("pg: settle delta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pg: settle commit: %w", err)
	}
	return nil
}

// Cumulative returns the current global cumulative_eur.
func (b *BudgetStore) Cumulative(ctx context.Context) (decimal.Decimal, error) {
	var cumulative decimal.Decimal
	err := b.db.QueryRowContext(ctx, `SELECT cumulative_eur FROM budget_state WHERE singleton = TRUE`).Scan(&cumulative)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pg: cumulative: %w", err)
	}
	return cumulative, nil
}
