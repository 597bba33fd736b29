package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const defaultBuffer = 256

// nowFunc is swapped in tests.
var nowFunc = time.Now

// MessageBus is a channel-backed MessageRouter. Publishing never blocks:
// when a queue is full the message is dropped and the caller's retry
// policy (webhook redelivery, user resend) is expected to cover it.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

var _ MessageRouter = (*MessageBus)(nil)

// New creates a MessageBus with default queue depths.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, defaultBuffer),
		outbound: make(chan OutboundMessage, defaultBuffer),
	}
}

// PublishInbound enqueues a message for the gate pipeline, stamping an ID
// and arrival time if the adapter didn't.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	msg = stamp(msg)
	select {
	case b.inbound <- msg:
	default:
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
// The second return is false when ctx was cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a message for delivery back to its channel.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
	}
}

// SubscribeOutbound blocks until an outbound message is available or ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

func stamp(msg InboundMessage) InboundMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = nowFunc()
	}
	return msg
}
