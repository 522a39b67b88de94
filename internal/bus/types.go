package bus

import (
	"context"
	"time"
)

// InboundMessage represents a message received from a chat platform (Discord, etc.).
// It is read-only once published: dispatch passes it by pointer and never writes to it.
type InboundMessage struct {
	ID               string    `json:"id"`
	Channel          string    `json:"channel"` // platform name, e.g. "discord"
	SenderID         string    `json:"sender_id"`
	SenderUsername   string    `json:"sender_username,omitempty"`
	SenderGlobalName string    `json:"sender_global_name,omitempty"`
	SenderNick       string    `json:"sender_nick,omitempty"`
	SenderAutomated  bool      `json:"sender_automated,omitempty"` // bot account
	WebhookID        string    `json:"webhook_id,omitempty"`       // set when posted through a webhook
	ChannelID        string    `json:"channel_id"`
	GuildID          string    `json:"guild_id,omitempty"` // empty for direct messages
	Content          string    `json:"content"`
	Mentions         []string  `json:"mentions,omitempty"`
	ReplyTo          string    `json:"reply_to,omitempty"`
	EmbedCount       int       `json:"embed_count,omitempty"`
	AttachmentCount  int       `json:"attachment_count,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// IsAutomated reports whether the sender is a bot account or a webhook.
func (m *InboundMessage) IsAutomated() bool {
	return m.SenderAutomated || m.WebhookID != ""
}

// IsDirect reports whether the message was sent outside a guild.
func (m *InboundMessage) IsDirect() bool { return m.GuildID == "" }

// Mentioned reports whether id appears in the mention set.
func (m *InboundMessage) Mentioned(id string) bool {
	for _, u := range m.Mentions {
		if u == id {
			return true
		}
	}
	return false
}

// OutboundMessage represents a rendered response to be delivered under a persona.
type OutboundMessage struct {
	Channel     string `json:"channel"` // platform name
	ChannelID   string `json:"channel_id"`
	Content     string `json:"content"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// MessageRouter abstracts inbound message routing between channels and the dispatcher.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
}
