// Package channels defines the adapter contract between external messaging
// platforms and the router, plus the adapter registry and an in-process
// loopback adapter used by tests and the CLI chat flow.
//
// Concrete platform SDKs plug in behind the Adapter interface; the router
// only ever sees normalized messages and replies.
package channels

import (
	"context"
	"time"
)

// Message is one normalized inbound message from any channel.
type Message struct {
	// ChannelType names the platform ("telegram", "slack", "cli", ...).
	ChannelType string
	// ChannelID identifies the bot/account instance within the platform.
	ChannelID string
	// ChatID identifies the conversation within the channel.
	ChatID string
	// MessageID is the platform's id for this message, used for reply
	// threading. Optional.
	MessageID string
	UserID    string
	UserName  string
	Text      string
	// IsGroup marks group chats as opposed to direct messages.
	IsGroup bool
	// Timestamp is when the platform says the message was sent.
	Timestamp time.Time
}

// Reply is one normalized outbound response.
type Reply struct {
	Text string
	// ReplyToMessageID threads the reply under the triggering message when
	// the platform supports it. Optional.
	ReplyToMessageID string
}

// Handler consumes normalized inbound messages.
type Handler func(ctx context.Context, msg Message)

// Adapter is the contract every channel implementation satisfies.
type Adapter interface {
	// Type names the platform this adapter speaks.
	Type() string
	// ID identifies this adapter instance (bot account, workspace, ...).
	ID() string
	// Connect starts the adapter. It must be non-blocking after setup.
	Connect(ctx context.Context) error
	// Disconnect stops the adapter and releases its resources.
	Disconnect(ctx context.Context) error
	// IsConnected reports whether the adapter is live.
	IsConnected() bool
	// Send delivers a reply to a chat.
	Send(ctx context.Context, chatID string, reply Reply) error
	// OnMessage registers the inbound handler. At most one handler is
	// active; later registrations replace earlier ones.
	OnMessage(h Handler)
	// MaxMessageLength is the platform's outbound text limit in display
	// cells. Replies longer than this are split by the router. Zero means
	// unlimited.
	MaxMessageLength() int
}
