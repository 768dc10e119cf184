package channels

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Loopback is an in-process adapter: inbound messages are injected by the
// caller and outbound replies land on a channel. It backs the CLI chat
// command and the router tests.
type Loopback struct {
	channelType string
	id          string
	maxLen      int

	mu        sync.Mutex
	handler   Handler
	connected bool

	outbox chan SentReply
}

// SentReply records one delivered reply with its destination chat.
type SentReply struct {
	ChatID string
	Reply  Reply
}

// NewLoopback creates a loopback adapter posing as the given channel type
// and instance id. maxLen of zero means unlimited reply length.
func NewLoopback(channelType, id string, maxLen int) *Loopback {
	return &Loopback{
		channelType: channelType,
		id:          id,
		maxLen:      maxLen,
		outbox:      make(chan SentReply, 32),
	}
}

func (l *Loopback) Type() string { return l.channelType }
func (l *Loopback) ID() string   { return l.id }

func (l *Loopback) Connect(ctx context.Context) error {
	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
	return nil
}

func (l *Loopback) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
	return nil
}

func (l *Loopback) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Loopback) Send(ctx context.Context, chatID string, reply Reply) error {
	if !l.IsConnected() {
		return errors.New("loopback: not connected")
	}
	select {
	case l.outbox <- SentReply{ChatID: chatID, Reply: reply}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loopback) OnMessage(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

func (l *Loopback) MaxMessageLength() int { return l.maxLen }

// Outbox exposes delivered replies.
func (l *Loopback) Outbox() <-chan SentReply { return l.outbox }

// Inject feeds one inbound message through the registered handler, filling
// in the adapter identity and a timestamp when absent.
func (l *Loopback) Inject(ctx context.Context, msg Message) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h == nil {
		return
	}
	msg.ChannelType = l.channelType
	msg.ChannelID = l.id
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	h(ctx, msg)
}
