// Package bus decouples channel adapters (Telegram, the RPC gateway) from
// the Dispatch Orchestrator with a small inbound/outbound message queue.
// Grounded on the teacher's internal/bus/types.go, trimmed to the single
// chat-turn concern this runtime has (no multi-channel broadcast, no
// managed-mode cache invalidation).
package bus

import "context"

// InboundMessage is one chat turn arriving from a channel adapter.
type InboundMessage struct {
	Channel   string
	SessionID string
	ChatID    string
	Content   string
	Provider  string
}

// OutboundMessage is one reply to deliver back through a channel adapter.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Media   []MediaAttachment
}

// MediaAttachment is a media file accompanying an OutboundMessage.
type MediaAttachment struct {
	URL         string
	ContentType string
	Caption     string
}

// MessageRouter queues inbound turns for the dispatcher and outbound
// replies for the originating channel adapter, decoupling producers
// (channel adapters) from the consumer (the dispatch loop) with no direct
// call dependency between them.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	ConsumeOutbound(ctx context.Context) (OutboundMessage, bool)
}
