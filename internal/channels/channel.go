// Package channels provides the chat platform abstraction. A Channel receives
// platform messages and publishes them to the message bus, and delivers bot
// responses under a per-message persona.
package channels

import (
	"context"
	"sync/atomic"

	"github.com/nextlevelbuilder/chorus/internal/bus"
)

// SendResult reports what happened to a delivery that did not fail.
type SendResult struct {
	// Discarded is set when the sender filtered the message out on purpose
	// (e.g. the debug channel whitelist). It is not an error.
	Discarded bool
}

// Sender delivers a rendered response.
type Sender interface {
	Send(ctx context.Context, msg bus.OutboundMessage) (SendResult, error)
}

// SenderFunc adapts a function into a Sender.
type SenderFunc func(ctx context.Context, msg bus.OutboundMessage) (SendResult, error)

func (f SenderFunc) Send(ctx context.Context, msg bus.OutboundMessage) (SendResult, error) {
	return f(ctx, msg)
}

// Channel defines the interface that all platform implementations must satisfy.
type Channel interface {
	Sender

	// Name returns the platform identifier (e.g. "discord").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool
}

// BaseChannel provides shared functionality for channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	bus       bus.MessageRouter
	running   atomic.Bool
	allowList map[string]bool
}

// NewBaseChannel creates a BaseChannel. A non-empty listen list restricts
// inbound messages to those channel ids.
func NewBaseChannel(name string, router bus.MessageRouter, listen []string) *BaseChannel {
	var allow map[string]bool
	if len(listen) > 0 {
		allow = make(map[string]bool, len(listen))
		for _, id := range listen {
			allow[id] = true
		}
	}
	return &BaseChannel{name: name, bus: router, allowList: allow}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// IsAllowed reports whether messages from channelID are accepted.
// An empty listen list accepts every channel.
func (c *BaseChannel) IsAllowed(channelID string) bool {
	return c.allowList == nil || c.allowList[channelID]
}

// HandleMessage stamps the platform name on msg and publishes it to the bus.
// It returns false when the channel is not on the listen list.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) bool {
	if !c.IsAllowed(msg.ChannelID) {
		return false
	}
	msg.Channel = c.name
	c.bus.PublishInbound(msg)
	return true
}

// DebugFilter restricts deliveries to a whitelist of channels while debug
// mode is on. The zero value permits everything.
type DebugFilter struct {
	Enabled  bool
	channels map[string]bool
}

// NewDebugFilter builds a filter over the whitelisted channel ids.
func NewDebugFilter(enabled bool, channelIDs []string) DebugFilter {
	f := DebugFilter{Enabled: enabled, channels: make(map[string]bool, len(channelIDs))}
	for _, id := range channelIDs {
		f.channels[id] = true
	}
	return f
}

// Permits reports whether a delivery to channelID may go out.
func (f DebugFilter) Permits(channelID string) bool {
	return !f.Enabled || f.channels[channelID]
}
