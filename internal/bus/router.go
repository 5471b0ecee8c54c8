package bus

import "context"

// Router is a buffered-channel MessageRouter. One inbound and one
// outbound queue; PublishInbound/PublishOutbound drop the message rather
// than block when the queue is full, since a blocked channel adapter
// would otherwise stall the transport it's reading from.
type Router struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// NewRouter builds a Router with the given queue depth.
func NewRouter(queueDepth int) *Router {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Router{
		inbound:  make(chan InboundMessage, queueDepth),
		outbound: make(chan OutboundMessage, queueDepth),
	}
}

// PublishInbound enqueues msg, dropping it if the queue is full.
func (r *Router) PublishInbound(msg InboundMessage) {
	select {
	case r.inbound <- msg:
	default:
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (r *Router) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-r.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues msg, dropping it if the queue is full.
func (r *Router) PublishOutbound(msg OutboundMessage) {
	select {
	case r.outbound <- msg:
	default:
	}
}

// ConsumeOutbound blocks until a message is available or ctx is done.
func (r *Router) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-r.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}
