// Package router is the chat entrypoint: it turns normalized channel
// messages into worker turns and delivers the responses back through the
// originating adapter. Admission (pairing), rate limiting, directives,
// interrupts, and usage accounting all happen here.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/agentgate/internal/bus"
	"github.com/nextlevelbuilder/agentgate/internal/channels"
	"github.com/nextlevelbuilder/agentgate/internal/errdefs"
	"github.com/nextlevelbuilder/agentgate/internal/ratelimit"
	"github.com/nextlevelbuilder/agentgate/internal/sessions"
	"github.com/nextlevelbuilder/agentgate/internal/store"
	"github.com/nextlevelbuilder/agentgate/internal/usage"
	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

// Approval commands recognized while an interrupt is outstanding.
const (
	cmdApprove = "/approve"
	cmdDeny    = "/deny"
)

// Agent is the slice of the worker connection the router depends on.
type Agent interface {
	Turn(ctx context.Context, sessionID, text string, metadata map[string]string) (*protocol.TurnData, error)
	Resume(ctx context.Context, sessionID string, decisions map[string]string) (*protocol.TurnData, error)
}

// Config wires the router's collaborators. Limiter, Messages, Usage, and
// Events are optional; the rest are required.
type Config struct {
	Sessions   *sessions.Manager
	Directives *sessions.DirectiveManager
	Agent      Agent
	Channels   *channels.Registry
	Limiter    *ratelimit.Limiter
	Usage      *usage.Tracker
	Messages   store.MessageLog
	// Events is the session lifecycle bus; destroyed sessions get their
	// queues reclaimed.
	Events *bus.Bus
}

// Router serializes turns per session: the next message for a session is not
// processed until the previous turn's reply (or terminal error) has been
// delivered. Distinct sessions proceed concurrently.
type Router struct {
	cfg    Config
	tracer trace.Tracer

	mu         sync.Mutex
	queues     map[string]chan job
	interrupts map[string]string // sessionID -> outstanding interrupt id

	now func() time.Time
}

type job struct {
	ctx context.Context
	msg channels.Message
}

// New creates a router and registers it as the message handler on every
// adapter currently in the registry.
func New(cfg Config) *Router {
	r := &Router{
		cfg:        cfg,
		tracer:     otel.Tracer("agentgate/router"),
		queues:     make(map[string]chan job),
		interrupts: make(map[string]string),
		now:        time.Now,
	}
	for _, a := range cfg.Channels.All() {
		a.OnMessage(r.HandleMessage)
	}
	if cfg.Events != nil {
		cfg.Events.Subscribe(sessions.EventSessionDestroyed, func(e bus.Event) {
			if p, ok := e.Payload.(map[string]string); ok {
				r.dropQueue(p["sessionId"])
			}
		})
	}
	return r
}

// HandleMessage enqueues one inbound message on its session's queue. Safe to
// call from adapter callbacks; per-session ordering follows call order.
func (r *Router) HandleMessage(ctx context.Context, msg channels.Message) {
	sessionID, err := sessions.BuildSessionID(msg.ChannelType, msg.ChannelID, msg.ChatID)
	if err != nil {
		r.reply(ctx, msg, errdefs.AsError(err).Message)
		return
	}

	r.mu.Lock()
	q, ok := r.queues[sessionID]
	if !ok {
		q = make(chan job, 64)
		r.queues[sessionID] = q
		go r.drain(sessionID, q)
	}
	// Enqueue under the lock: dropQueue closes queues under the same lock,
	// so a send can never hit a closed channel.
	full := false
	select {
	case q <- job{ctx: ctx, msg: msg}:
	default:
		full = true
	}
	r.mu.Unlock()

	if full {
		slog.Warn("session queue full, dropping message", "session", sessionID)
		r.reply(ctx, msg, "You're sending messages faster than I can handle. Give me a moment.")
	}
}

func (r *Router) drain(sessionID string, q chan job) {
	for j := range q {
		r.process(j.ctx, sessionID, j.msg)
	}
}

// dropQueue closes a destroyed session's queue so its drain goroutine exits
// once already-enqueued messages are processed, and clears any outstanding
// interrupt. A later message for the same session starts a fresh queue.
func (r *Router) dropQueue(sessionID string) {
	r.mu.Lock()
	if q, ok := r.queues[sessionID]; ok {
		delete(r.queues, sessionID)
		close(q)
	}
	delete(r.interrupts, sessionID)
	r.mu.Unlock()
}

func (r *Router) queueCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues)
}

func (r *Router) process(ctx context.Context, sessionID string, msg channels.Message) {
	ctx, span := r.tracer.Start(ctx, "router.process",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("channel.type", msg.ChannelType),
		))
	defer span.End()

	if r.cfg.Limiter != nil {
		res := r.cfg.Limiter.Check(msg.ChannelType + ":" + msg.UserID)
		if !res.Allowed {
			wait := res.ResetAt.Sub(r.now()).Round(time.Second)
			span.SetStatus(codes.Error, "rate limited")
			r.reply(ctx, msg, fmt.Sprintf("Rate limit exceeded. Try again in %s.", wait))
			return
		}
	}

	sess, err := r.cfg.Sessions.GetOrCreate(msg.ChannelType, msg.ChannelID, msg.ChatID, msg.UserID, msg.UserName)
	if err != nil {
		r.fail(ctx, span, msg, err)
		return
	}

	if !r.cfg.Sessions.IsPaired(sess.ID) {
		r.handlePairing(ctx, sess, msg)
		return
	}

	r.cfg.Sessions.Touch(sess.ID)
	r.logMessage(sess.ID, "user", msg.Text)

	turn, err := r.callWorker(ctx, sess.ID, msg)
	if err != nil {
		r.cfg.recordUsage(sess.ID, nil, false, errdefs.AsError(err).Code)
		r.fail(ctx, span, msg, err)
		return
	}

	if turn.Usage != nil {
		r.cfg.recordUsage(sess.ID, turn.Usage, true, "")
	}

	text := turn.Text
	if turn.Interrupt != nil {
		r.mu.Lock()
		r.interrupts[sess.ID] = turn.Interrupt.ID
		r.mu.Unlock()
		text = fmt.Sprintf("%s\n\nReply %s to continue or %s to stop.", turn.Interrupt.Question, cmdApprove, cmdDeny)
	}

	r.logMessage(sess.ID, "assistant", text)
	r.reply(ctx, msg, text)
}

// callWorker dispatches either a resume (when an approval command answers an
// outstanding interrupt) or a regular turn with the directive prefix.
func (r *Router) callWorker(ctx context.Context, sessionID string, msg channels.Message) (*protocol.TurnData, error) {
	trimmed := strings.TrimSpace(msg.Text)

	r.mu.Lock()
	interruptID, interrupted := r.interrupts[sessionID]
	r.mu.Unlock()

	if interrupted && (strings.HasPrefix(trimmed, cmdApprove) || strings.HasPrefix(trimmed, cmdDeny)) {
		decision := "approve"
		if strings.HasPrefix(trimmed, cmdDeny) {
			decision = "deny"
		}
		r.mu.Lock()
		delete(r.interrupts, sessionID)
		r.mu.Unlock()
		return r.cfg.Agent.Resume(ctx, sessionID, map[string]string{interruptID: decision})
	}

	prefix := r.cfg.Directives.PromptPrefix(sessionID)
	metadata := map[string]string{
		"userId":      msg.UserID,
		"userName":    msg.UserName,
		"channelType": msg.ChannelType,
		"chatId":      msg.ChatID,
	}
	return r.cfg.Agent.Turn(ctx, sessionID, prefix+msg.Text, metadata)
}

// handlePairing runs the pairing-code handshake for an unpaired session:
// first contact gets a code, a matching reply approves, anything else gets a
// reminder. The worker is never contacted.
func (r *Router) handlePairing(ctx context.Context, sess *store.Session, msg channels.Message) {
	hasCode := sess.PairingCode != "" && r.now().Before(sess.PairingCodeExpiresAt)

	if !hasCode {
		code, err := r.cfg.Sessions.GeneratePairingCode(sess.ID)
		if err != nil {
			r.reply(ctx, msg, errdefs.AsError(err).Message)
			return
		}
		r.reply(ctx, msg, fmt.Sprintf(
			"This session needs pairing before I can help.\nYour pairing code: %s\nReply with the code to confirm, or ask the gateway operator to approve you. The code expires in %s.",
			code, sessions.DefaultPairingCodeTTL))
		return
	}

	ok, err := r.cfg.Sessions.Approve(sess.ID, strings.TrimSpace(msg.Text))
	if err != nil {
		r.reply(ctx, msg, errdefs.AsError(err).Message)
		return
	}
	if ok {
		r.reply(ctx, msg, "Pairing complete. What can I do for you?")
		return
	}
	r.reply(ctx, msg, "This session isn't paired yet. Reply with your pairing code to continue.")
}

// fail maps an error onto a user-facing message: worker transport problems
// read as transient, admission problems as terminal with the catalog
// message, everything else as the internal catch-all.
func (r *Router) fail(ctx context.Context, span trace.Span, msg channels.Message, err error) {
	ge := errdefs.AsError(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, ge.Code)

	var text string
	switch {
	case ge.Code == errdefs.CodeWorkerUnavailable || ge.Code == errdefs.CodeWorkerTimeout:
		text = "The agent is temporarily unreachable. Please try again in a moment."
	case strings.HasPrefix(ge.Code, "GW-AUTH-") || strings.HasPrefix(ge.Code, "GW-SESS-"):
		text = ge.Message
	default:
		ge = errdefs.Wrap(errdefs.CodeInternal, err)
		text = "Something went wrong on my end. The problem has been logged."
	}

	slog.Error("turn failed", "channel", msg.ChannelType, "chat", msg.ChatID, "code", ge.Code, "error", err)
	r.reply(ctx, msg, text)
}

// reply delivers text through the originating adapter, splitting it when the
// platform has a length limit.
func (r *Router) reply(ctx context.Context, msg channels.Message, text string) {
	if text == "" {
		return
	}

	maxLen := 0
	if a, err := r.cfg.Channels.Get(msg.ChannelType, msg.ChannelID); err == nil {
		maxLen = a.MaxMessageLength()
	}

	for i, part := range SplitText(text, maxLen) {
		reply := channels.Reply{Text: part}
		if i == 0 {
			reply.ReplyToMessageID = msg.MessageID
		}
		if err := r.cfg.Channels.Send(ctx, msg.ChannelType, msg.ChannelID, msg.ChatID, reply); err != nil {
			slog.Error("reply delivery failed", "channel", msg.ChannelType, "chat", msg.ChatID, "error", err)
			return
		}
	}
}

func (r *Router) logMessage(sessionID, role, content string) {
	if r.cfg.Messages == nil {
		return
	}
	err := r.cfg.Messages.Append(store.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
	if err != nil {
		slog.Warn("message log append failed", "session", sessionID, "error", err)
	}
}

// recordUsage tracks one worker call. Failed turns carry no UsageInfo; they
// are recorded with zero tokens and the error code.
func (c *Config) recordUsage(sessionID string, u *protocol.UsageInfo, success bool, errorCode string) {
	if c.Usage == nil {
		return
	}
	call := usage.Call{SessionID: sessionID, Success: success, ErrorCode: errorCode}
	if u != nil {
		call.Provider = u.Provider
		call.Model = u.Model
		call.InputTokens = u.InputTokens
		call.OutputTokens = u.OutputTokens
		call.LatencyMS = u.LatencyMS
	}
	c.Usage.Track(call)
}
