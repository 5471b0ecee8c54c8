package gateway

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neomagi/neomagi/internal/config"
	"github.com/neomagi/neomagi/internal/dispatch"
	"github.com/neomagi/neomagi/internal/store"
	"github.com/neomagi/neomagi/pkg/protocol"
)

func newTestServer(token string) *Server {
	cfg := &config.Config{Gateway: config.GatewayConfig{Token: token}}
	return NewServer(cfg, nil, nil)
}

func TestAuthorized_NoTokenConfiguredAllowsAll(t *testing.T) {
	s := newTestServer("")
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !s.authorized(r) {
		t.Fatal("expected requests to be allowed when no token is configured")
	}
}

func TestAuthorized_BearerHeader(t *testing.T) {
	s := newTestServer("secret")
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer secret")
	if !s.authorized(r) {
		t.Fatal("expected bearer token to authorize")
	}
}

func TestAuthorized_QueryParam(t *testing.T) {
	s := newTestServer("secret")
	r := httptest.NewRequest(http.MethodGet, "/ws?token=secret", nil)
	if !s.authorized(r) {
		t.Fatal("expected query param token to authorize")
	}
}

func TestAuthorized_RejectsWrongOrMissingToken(t *testing.T) {
	s := newTestServer("secret")
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if s.authorized(r) {
		t.Fatal("expected request with no credentials to be rejected")
	}

	r2 := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r2.Header.Set("Authorization", "Bearer wrong")
	if s.authorized(r2) {
		t.Fatal("expected wrong bearer token to be rejected")
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer("")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("expected body 'ok', got %q", rec.Body.String())
	}
}

func TestDispatchErrorCode_WrapsTypedError(t *testing.T) {
	err := &dispatch.Error{Code: protocol.ErrCodeBudgetExceeded, Message: "over budget"}
	if got := dispatchErrorCode(err); got != protocol.ErrCodeBudgetExceeded {
		t.Fatalf("expected %s, got %s", protocol.ErrCodeBudgetExceeded, got)
	}
}

func TestDispatchErrorCode_FallsBackToInternalError(t *testing.T) {
	if got := dispatchErrorCode(errors.New("boom")); got != protocol.ErrCodeInternalError {
		t.Fatalf("expected internal error fallback, got %s", got)
	}
}

func TestSessionErrorCode_MapsFencedSentinel(t *testing.T) {
	if got := sessionErrorCode(store.ErrSessionFenced); got != protocol.ErrCodeSessionFenced {
		t.Fatalf("expected session fenced code, got %s", got)
	}
}

func TestSessionErrorCode_FallsBackToInternalError(t *testing.T) {
	if got := sessionErrorCode(errors.New("boom")); got != protocol.ErrCodeInternalError {
		t.Fatalf("expected internal error fallback, got %s", got)
	}
}

func TestBuildMux_RegistersRoutes(t *testing.T) {
	s := newTestServer("")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /healthz to be routed, got %d", rec.Code)
	}
}
