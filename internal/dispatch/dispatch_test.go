package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/neomagi/neomagi/internal/agent"
	"github.com/neomagi/neomagi/internal/budget"
	"github.com/neomagi/neomagi/internal/compaction"
	"github.com/neomagi/neomagi/internal/config"
	"github.com/neomagi/neomagi/internal/memory"
	"github.com/neomagi/neomagi/internal/promptbuilder"
	"github.com/neomagi/neomagi/internal/providers"
	"github.com/neomagi/neomagi/internal/scope"
	"github.com/neomagi/neomagi/internal/store"
	"github.com/neomagi/neomagi/internal/tokencount"
	"github.com/neomagi/neomagi/internal/tools"
)

type fakeProvider struct {
	response string
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: f.response}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	onChunk(providers.StreamChunk{Content: f.response})
	return &providers.ChatResponse{Content: f.response}, nil
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return "fake" }

type fakeSessionStore struct {
	claimOK  bool
	released bool
	seq      int64
	messages []store.Message
}

func (s *fakeSessionStore) TryClaimSession(ctx context.Context, sessionID string, ttl time.Duration) (string, bool, error) {
	if !s.claimOK {
		return "", false, nil
	}
	return "tok-1", true, nil
}
func (s *fakeSessionStore) ReleaseSession(ctx context.Context, sessionID, lockToken string) error {
	s.released = true
	return nil
}
func (s *fakeSessionStore) AppendMessage(ctx context.Context, sessionID string, msg store.NewMessage, lockToken string) (int64, error) {
	s.seq++
	s.messages = append(s.messages, store.Message{Seq: s.seq, Role: msg.Role, Content: msg.Content, ToolCalls: msg.ToolCalls, ToolCallID: msg.ToolCallID})
	return s.seq, nil
}
func (s *fakeSessionStore) LoadSessionFromDB(ctx context.Context, sessionID string, force bool) (bool, error) {
	return true, nil
}
func (s *fakeSessionStore) GetEffectiveHistory(ctx context.Context, sessionID string, watermark *int64) ([]store.Message, error) {
	return s.messages, nil
}
func (s *fakeSessionStore) GetCompactionState(ctx context.Context, sessionID string) (*store.CompactionState, error) {
	return nil, nil
}
func (s *fakeSessionStore) StoreCompactionResult(ctx context.Context, sessionID string, result store.CompactionResult, lockToken string) error {
	return nil
}
func (s *fakeSessionStore) GetMode(ctx context.Context, sessionID string) (string, error) {
	return string(tools.ModeChatSafe), nil
}

type fakeBudgetStore struct {
	denied      bool
	settleErr   error
	settled     bool
	reservation uuid.UUID
}

func (b *fakeBudgetStore) TryReserve(ctx context.Context, provider, model, sessionID, evalRunID string, cost, warnThreshold, stopCeiling decimal.Decimal) (store.ReserveResult, error) {
	if b.denied {
		return store.ReserveResult{Denied: true, Message: "budget exhausted"}, nil
	}
	b.reservation = uuid.Must(uuid.NewV7())
	return store.ReserveResult{ReservationID: b.reservation}, nil
}
func (b *fakeBudgetStore) Settle(ctx context.Context, reservationID uuid.UUID, actualCost decimal.Decimal) error {
	b.settled = true
	return b.settleErr
}
func (b *fakeBudgetStore) Cumulative(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeMemoryStore struct{}

func (fakeMemoryStore) Reindex(ctx context.Context, sourcePath string, entries []store.MemoryEntry) error {
	return nil
}
func (fakeMemoryStore) IndexEntryDirect(ctx context.Context, entry store.MemoryEntry) error {
	return nil
}
func (fakeMemoryStore) Search(ctx context.Context, scopeKey, query string, limit int) ([]store.MemoryEntry, error) {
	return nil, nil
}

func testRuntime() config.RuntimeConfig {
	return config.RuntimeConfig{
		LockTTLSeconds:         120,
		DefaultReservationEUR:  0.05,
		BudgetWarnEUR:          20,
		BudgetStopEUR:          25,
		MaxToolIterations:      5,
		ContextLimit:           8000,
		ReservedOutputTokens:   500,
		SafetyMarginTokens:     200,
		WarnRatio:              0.7,
		CompactRatio:           0.9,
		MinPreservedTurns:      3,
		MaxCompactionsPerRequest: 1,
	}
}

func buildLoop(sessions store.SessionStore, provider providers.Provider) *agent.Loop {
	runtime := testRuntime()
	reg := tools.NewRegistry()
	pb := promptbuilder.New("", reg)
	tracker := budget.New(runtime, tokencount.New())
	engine := compaction.NewEngine(provider, tokencount.New(), "", runtime)
	writer := memory.NewWriter("", 0, nil)
	searcher := memory.NewSearcher(fakeMemoryStore{})
	return agent.NewLoop(sessions, reg, pb, tracker, engine, writer, searcher, tokencount.New(), "", runtime)
}

func testIdentity() scope.Identity {
	return scope.Identity{SessionID: "s1"}
}

func TestDispatch_ProviderNotAvailableReturnsError(t *testing.T) {
	registry := providers.NewRegistry("")
	sessions := &fakeSessionStore{claimOK: true}
	budgetStore := &fakeBudgetStore{}
	d := New(registry, sessions, budgetStore, buildLoop(sessions, &fakeProvider{}), testRuntime())

	_, _, err := d.Dispatch(context.Background(), Request{SessionID: "s1", Content: "hi", Provider: "missing", Identity: testIdentity()})
	var dispatchErr *Error
	if !errors.As(err, &dispatchErr) || dispatchErr.Code != ErrCodeProviderNotAvailable {
		t.Fatalf("expected PROVIDER_NOT_AVAILABLE, got %v", err)
	}
}

func TestDispatch_SessionBusyReturnsError(t *testing.T) {
	registry := providers.NewRegistry("fake")
	registry.Register("fake", &fakeProvider{response: "hi"}, "fake-model")
	sessions := &fakeSessionStore{claimOK: false}
	budgetStore := &fakeBudgetStore{}
	d := New(registry, sessions, budgetStore, buildLoop(sessions, &fakeProvider{}), testRuntime())

	_, _, err := d.Dispatch(context.Background(), Request{SessionID: "s1", Content: "hi", Identity: testIdentity()})
	var dispatchErr *Error
	if !errors.As(err, &dispatchErr) || dispatchErr.Code != ErrCodeSessionBusy {
		t.Fatalf("expected SESSION_BUSY, got %v", err)
	}
}

func TestDispatch_BudgetDeniedReleasesSession(t *testing.T) {
	registry := providers.NewRegistry("fake")
	registry.Register("fake", &fakeProvider{response: "hi"}, "fake-model")
	sessions := &fakeSessionStore{claimOK: true}
	budgetStore := &fakeBudgetStore{denied: true}
	d := New(registry, sessions, budgetStore, buildLoop(sessions, &fakeProvider{}), testRuntime())

	_, _, err := d.Dispatch(context.Background(), Request{SessionID: "s1", Content: "hi", Identity: testIdentity()})
	var dispatchErr *Error
	if !errors.As(err, &dispatchErr) || dispatchErr.Code != ErrCodeBudgetExceeded {
		t.Fatalf("expected BUDGET_EXCEEDED, got %v", err)
	}
	if !sessions.released {
		t.Fatal("expected the claimed session to be released after budget denial")
	}
}

func TestDispatch_HappyPathForwardsEventsAndSettles(t *testing.T) {
	provider := &fakeProvider{response: "hello there"}
	registry := providers.NewRegistry("fake")
	registry.Register("fake", provider, "fake-model")
	sessions := &fakeSessionStore{claimOK: true}
	budgetStore := &fakeBudgetStore{}
	d := New(registry, sessions, budgetStore, buildLoop(sessions, provider), testRuntime())

	events, errc, err := d.Dispatch(context.Background(), Request{SessionID: "s1", Content: "hi", Identity: testIdentity(), DMScope: scope.PolicyMain})
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	var gotText bool
	for ev := range events {
		if ev.Type == agent.EventTextChunk && ev.TextChunk == "hello there" {
			gotText = true
		}
	}
	if !gotText {
		t.Fatal("expected a text chunk event with the provider's response")
	}

	select {
	case turnErr := <-errc:
		if turnErr != nil {
			t.Fatalf("unexpected turn error: %v", turnErr)
		}
	case <-time.After(time.Second):
		t.Fatal("expected errc to fire after events closed")
	}

	if !budgetStore.settled {
		t.Fatal("expected budget to be settled")
	}
}
