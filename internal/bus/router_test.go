package bus

import (
	"context"
	"testing"
	"time"
)

func TestRouter_InboundRoundtrip(t *testing.T) {
	r := NewRouter(4)
	r.PublishInbound(InboundMessage{SessionID: "s1", Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := r.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a message, got ctx done")
	}
	if msg.SessionID != "s1" || msg.Content != "hi" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestRouter_OutboundRoundtrip(t *testing.T) {
	r := NewRouter(4)
	r.PublishOutbound(OutboundMessage{ChatID: "c1", Content: "reply"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := r.ConsumeOutbound(ctx)
	if !ok {
		t.Fatal("expected a message, got ctx done")
	}
	if msg.ChatID != "c1" || msg.Content != "reply" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestRouter_ConsumeInbound_ContextCancelled(t *testing.T) {
	r := NewRouter(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := r.ConsumeInbound(ctx)
	if ok {
		t.Fatal("expected ok=false on cancelled context")
	}
}

func TestRouter_PublishInbound_DropsWhenFull(t *testing.T) {
	r := NewRouter(1)
	r.PublishInbound(InboundMessage{SessionID: "first"})
	r.PublishInbound(InboundMessage{SessionID: "second"}) // dropped, queue full

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := r.ConsumeInbound(ctx)
	if !ok || msg.SessionID != "first" {
		t.Fatalf("expected first message to survive, got %+v ok=%v", msg, ok)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if _, ok := r.ConsumeInbound(ctx2); ok {
		t.Fatal("expected queue to be empty after drop")
	}
}

func TestRouter_DefaultQueueDepth(t *testing.T) {
	r := NewRouter(0)
	if cap(r.inbound) != 64 || cap(r.outbound) != 64 {
		t.Fatalf("expected default depth 64, got inbound=%d outbound=%d", cap(r.inbound), cap(r.outbound))
	}
}
