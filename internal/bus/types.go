package bus

import (
	"context"
	"time"
)

// InboundMessage represents a message received from a channel adapter
// (Telegram, Discord, webhook relay, etc.) before it reaches the agent.
type InboundMessage struct {
	ID         string            `json:"id"`                    // assigned at ingress if the adapter didn't set one
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	Media      []string          `json:"media,omitempty"`
	SessionKey string            `json:"session_key,omitempty"` // canonical conversation key when the adapter knows it
	PeerKind   string            `json:"peer_kind,omitempty"`   // "direct" or "group"
	UserID     string            `json:"user_id,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy so gates can rewrite a message without
// mutating the caller's view of it.
func (m InboundMessage) Clone() InboundMessage {
	out := m
	if m.Media != nil {
		out.Media = append([]string(nil), m.Media...)
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// OutboundMessage represents a message to be sent back to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MessageHandler handles an inbound message from a specific channel.
type MessageHandler func(InboundMessage) error

// MessageRouter abstracts inbound/outbound message routing between channel
// adapters and the gate pipeline.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
