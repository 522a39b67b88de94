// Package bus carries inbound chat messages from platform channels to the dispatcher.
package bus

import (
	"context"
	"log/slog"
)

const defaultInboundBuffer = 256

// MessageBus is a buffered in-process queue of inbound messages.
// Messages are dropped (and logged) when the buffer is full so a slow
// dispatcher never blocks a gateway event handler.
type MessageBus struct {
	inbound chan InboundMessage
}

// New creates a MessageBus with the default buffer size.
func New() *MessageBus {
	return NewWithBuffer(defaultInboundBuffer)
}

// NewWithBuffer creates a MessageBus with the given inbound buffer size.
func NewWithBuffer(size int) *MessageBus {
	if size <= 0 {
		size = defaultInboundBuffer
	}
	return &MessageBus{inbound: make(chan InboundMessage, size)}
}

// PublishInbound enqueues a message without blocking.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("inbound buffer full, dropping message",
			"channel", msg.Channel,
			"channel_id", msg.ChannelID,
			"message_id", msg.ID,
		)
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}
