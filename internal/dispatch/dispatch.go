// Package dispatch implements the Dispatch Orchestrator (C12): the
// provider-routing -> session-claim -> budget-reserve -> agent-loop ->
// settle -> release request lifecycle described in spec §4.8. Grounded on
// original_source/src/gateway/dispatch.py's dispatch_chat.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/neomagi/neomagi/internal/agent"
	"github.com/neomagi/neomagi/internal/config"
	"github.com/neomagi/neomagi/internal/providers"
	"github.com/neomagi/neomagi/internal/scope"
	"github.com/neomagi/neomagi/internal/store"
)

// Error codes surfaced at the dispatch boundary, forwarded verbatim into
// the RPC error frame (spec §6).
const (
	ErrCodeProviderNotAvailable = "PROVIDER_NOT_AVAILABLE"
	ErrCodeSessionBusy          = "SESSION_BUSY"
	ErrCodeBudgetExceeded       = "BUDGET_EXCEEDED"
)

// Error is a dispatch-level failure carrying the RPC error code the
// gateway maps onto an error envelope.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

const evalSessionPrefix = "m6_eval_"

// extractEvalRunID derives a grouped eval-run id from the conventional
// session-id prefix "m6_eval_{provider}_{task}_{timestamp}". Online
// sessions (any other prefix) report an empty eval-run id.
func extractEvalRunID(sessionID string) string {
	if !strings.HasPrefix(sessionID, evalSessionPrefix) {
		return ""
	}
	parts := strings.Split(sessionID, "_")
	if len(parts) >= 5 {
		provider := parts[2]
		timestamp := parts[len(parts)-1]
		return fmt.Sprintf("m6_eval_%s_%s", provider, timestamp)
	}
	return sessionID
}

// Request is one inbound chat.send call.
type Request struct {
	SessionID string
	Content   string
	Provider  string // empty resolves to the registry's default
	Identity  scope.Identity
	DMScope   scope.DMScopePolicy
}

// Dispatcher wires the provider registry, session store, and budget gate
// into one request lifecycle around the Agent Loop.
type Dispatcher struct {
	registry  *providers.Registry
	sessions  store.SessionStore
	budget    store.BudgetStore
	loop      *agent.Loop
	runtime   config.RuntimeConfig
}

// New builds a Dispatcher.
func New(registry *providers.Registry, sessions store.SessionStore, budget store.BudgetStore, loop *agent.Loop, runtime config.RuntimeConfig) *Dispatcher {
	return &Dispatcher{registry: registry, sessions: sessions, budget: budget, loop: loop, runtime: runtime}
}

// Dispatch executes one request lifecycle. The returned events channel
// streams everything the Agent Loop yields and is always closed on
// completion. The returned errc channel receives exactly one value (nil on
// a normal or degraded-but-completed turn, non-nil on a persistence or
// transport failure that closed the turn early) and is then closed; a
// caller should drain events first since errc only fires once HandleMessage
// returns. A non-nil error returned directly from Dispatch means the Agent
// Loop never ran at all (provider routing, session claim, or budget reserve
// failed).
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (<-chan agent.Event, <-chan error, error) {
	entry, err := d.registry.Get(req.Provider)
	if err != nil {
		return nil, nil, &Error{
			Code:    ErrCodeProviderNotAvailable,
			Message: fmt.Sprintf("provider %q is not available. configured: %v", req.Provider, d.registry.AvailableProviders()),
		}
	}

	slog.Info("agent_run_provider_bound", "provider", entry.Name, "model", entry.Model)

	ttl := time.Duration(d.runtime.LockTTLSeconds) * time.Second
	lockToken, ok, err := d.sessions.TryClaimSession(ctx, req.SessionID, ttl)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, &Error{Code: ErrCodeSessionBusy, Message: "session is being processed by another request. please try again."}
	}

	if _, err := d.sessions.LoadSessionFromDB(ctx, req.SessionID, true); err != nil {
		d.releaseSession(req.SessionID, lockToken)
		return nil, nil, err
	}

	evalRunID := extractEvalRunID(req.SessionID)
	reserveCost := decimal.NewFromFloat(d.runtime.DefaultReservationEUR)
	warn := decimal.NewFromFloat(d.runtime.BudgetWarnEUR)
	stop := decimal.NewFromFloat(d.runtime.BudgetStopEUR)

	reservation, err := d.budget.TryReserve(ctx, entry.Name, entry.Model, req.SessionID, evalRunID, reserveCost, warn, stop)
	if err != nil {
		d.releaseSession(req.SessionID, lockToken)
		return nil, nil, err
	}
	if reservation.Denied {
		d.releaseSession(req.SessionID, lockToken)
		return nil, nil, &Error{Code: ErrCodeBudgetExceeded, Message: reservation.Message}
	}

	events := make(chan agent.Event)
	errc := make(chan error, 1)
	go func() {
		defer close(events)
		defer d.releaseSession(req.SessionID, lockToken)
		defer d.settleBudget(reservation.ReservationID, reserveCost)

		errc <- d.loop.HandleMessage(ctx, agent.Turn{
			SessionID: req.SessionID,
			Content:   req.Content,
			LockToken: lockToken,
			Provider:  entry.Provider,
			Model:     entry.Model,
			Identity:  req.Identity,
			DMScope:   req.DMScope,
		}, events)
		close(errc)
	}()

	return events, errc, nil
}

func (d *Dispatcher) settleBudget(reservationID uuid.UUID, cost decimal.Decimal) {
	if err := d.budget.Settle(context.Background(), reservationID, cost); err != nil {
		slog.Error("budget_settle_failed", "reservation_id", reservationID, "error", err)
	}
}

func (d *Dispatcher) releaseSession(sessionID, lockToken string) {
	if err := d.sessions.ReleaseSession(context.Background(), sessionID, lockToken); err != nil {
		slog.Error("session_release_failed", "session_id", sessionID, "error", err, "note", "lock will be recovered by ttl expiry")
	}
}
