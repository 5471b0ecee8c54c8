package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReservationStatus is the lifecycle state of a budget reservation.
type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "reserved"
	ReservationSettled  ReservationStatus = "settled"
)

// Reservation is one row of budget_reservations. Immutable after settle.
type Reservation struct {
	ReservationID uuid.UUID
	Provider      string
	Model         string
	SessionID     string
	EvalRunID     string
	ReservedEUR   decimal.Decimal
	ActualEUR     *decimal.Decimal
	Status        ReservationStatus
	CreatedAt     time.Time
	SettledAt     *time.Time
}

// ReserveResult is what TryReserve returns.
type ReserveResult struct {
	Denied        bool
	Message       string // populated only when Denied
	ReservationID uuid.UUID
	Cumulative    decimal.Decimal
	CrossedWarn   bool
}

// BudgetStore owns the budget_state singleton row and budget_reservations
// table that back the Budget Gate (C11).
type BudgetStore interface {
	// TryReserve atomically adds cost to the global cumulative via a
	// single guarded UPDATE ... RETURNING, committing only if the result
	// stays strictly below stopCeiling. On success it inserts a
	// reserved-status reservation row. warnThreshold only affects
	// ReserveResult.CrossedWarn; it never blocks the reservation.
	TryReserve(ctx context.Context, provider, model, sessionID, evalRunID string, cost, warnThreshold, stopCeiling decimal.Decimal) (ReserveResult, error)

	// Settle performs the two-step idempotent CAS-then-delta: first flips
	// the reservation reserved->settled (a no-op if already settled),
	// then applies the (actual-reserved) delta to cumulative only on the
	// first successful flip.
	Settle(ctx context.Context, reservationID uuid.UUID, actualCost decimal.Decimal) error

	// Cumulative returns the current global cumulative_eur.
	Cumulative(ctx context.Context) (decimal.Decimal, error)
}
