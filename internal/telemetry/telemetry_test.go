package telemetry

import (
	"context"
	"testing"

	"github.com/neomagi/neomagi/internal/config"
)

func TestInit_DisabledReturnsNoopProvider(t *testing.T) {
	provider, err := Init(context.Background(), config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider == nil {
		t.Fatal("expected a non-nil provider even when disabled")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected no-op shutdown to succeed, got %v", err)
	}
}

func TestProvider_ShutdownOnZeroValueIsSafe(t *testing.T) {
	var p *Provider
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil-receiver Shutdown to be a safe no-op, got %v", err)
	}

	p2 := &Provider{}
	if err := p2.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected zero-value Shutdown to be a safe no-op, got %v", err)
	}
}
