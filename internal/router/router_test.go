package router

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/channels"
	"github.com/nextlevelbuilder/agentgate/internal/errdefs"
	"github.com/nextlevelbuilder/agentgate/internal/ratelimit"
	"github.com/nextlevelbuilder/agentgate/internal/sessions"
	"github.com/nextlevelbuilder/agentgate/internal/store"
	"github.com/nextlevelbuilder/agentgate/internal/usage"
	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

type turnCall struct {
	SessionID string
	Text      string
	Metadata  map[string]string
}

type resumeCall struct {
	SessionID string
	Decisions map[string]string
}

type fakeAgent struct {
	mu      sync.Mutex
	turns   []turnCall
	resumes []resumeCall
	// respond is called per turn; nil means echo.
	respond func(sessionID, text string) (*protocol.TurnData, error)
}

func (f *fakeAgent) Turn(ctx context.Context, sessionID, text string, metadata map[string]string) (*protocol.TurnData, error) {
	f.mu.Lock()
	f.turns = append(f.turns, turnCall{sessionID, text, metadata})
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(sessionID, text)
	}
	return &protocol.TurnData{Text: "echo: " + text}, nil
}

func (f *fakeAgent) Resume(ctx context.Context, sessionID string, decisions map[string]string) (*protocol.TurnData, error) {
	f.mu.Lock()
	f.resumes = append(f.resumes, resumeCall{sessionID, decisions})
	f.mu.Unlock()
	return &protocol.TurnData{Text: "resumed"}, nil
}

func (f *fakeAgent) turnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns)
}

type fixture struct {
	router    *Router
	agent     *fakeAgent
	lb        *channels.Loopback
	manager   *sessions.Manager
	lifecycle *sessions.Lifecycle
	tracker   *usage.Tracker
}

func newFixture(t *testing.T, policy sessions.DMPolicy, allowPatterns []string, limiter *ratelimit.Limiter) *fixture {
	t.Helper()

	allowlist, err := sessions.LoadAllowlist(filepath.Join(t.TempDir(), "allowlist.json"))
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range allowPatterns {
		if err := allowlist.Add(p); err != nil {
			t.Fatal(err)
		}
	}

	sessionStore := store.NewMemorySessionStore()
	messages := store.NewMemoryMessageLog()
	manager := sessions.NewManager(sessions.ManagerConfig{DMPolicy: policy}, sessionStore, allowlist)
	lifecycle := sessions.NewLifecycle(sessions.LifecycleConfig{}, sessionStore, messages, nil)
	agent := &fakeAgent{}
	tracker := usage.NewTracker(100)

	reg := channels.NewRegistry()
	lb := channels.NewLoopback("telegram", "bot-1", 0)
	reg.Register(lb)
	reg.ConnectAll(context.Background())

	r := New(Config{
		Sessions:   manager,
		Directives: sessions.NewDirectiveManager(),
		Agent:      agent,
		Channels:   reg,
		Limiter:    limiter,
		Usage:      tracker,
		Messages:   messages,
		Events:     lifecycle.Events(),
	})
	return &fixture{router: r, agent: agent, lb: lb, manager: manager, lifecycle: lifecycle, tracker: tracker}
}

func (f *fixture) send(t *testing.T, chatID, userID, text string) string {
	t.Helper()
	f.lb.Inject(context.Background(), channels.Message{
		ChatID: chatID, UserID: userID, UserName: "ana", Text: text, MessageID: "m-" + text,
	})
	select {
	case sent := <-f.lb.Outbox():
		return sent.Reply.Text
	case <-time.After(3 * time.Second):
		t.Fatal("no reply delivered")
		return ""
	}
}

var pairingCodeRe = regexp.MustCompile(`\b[0-9A-F]{6}\b`)

func TestPairingHandshake(t *testing.T) {
	f := newFixture(t, sessions.DMPolicyPairing, nil, nil)

	// First contact: a code, no worker call.
	reply := f.send(t, "chat-1", "u1", "hello")
	code := pairingCodeRe.FindString(reply)
	if code == "" {
		t.Fatalf("no pairing code in reply %q", reply)
	}
	if f.agent.turnCount() != 0 {
		t.Fatal("worker contacted before pairing")
	}

	// Wrong code: reminder, still no worker call.
	reply = f.send(t, "chat-1", "u1", "FFFFFF")
	if !strings.Contains(reply, "isn't paired") {
		t.Errorf("reply = %q", reply)
	}

	// Matching code approves; approval is case-insensitive.
	reply = f.send(t, "chat-1", "u1", strings.ToLower(code))
	if !strings.Contains(reply, "Pairing complete") {
		t.Fatalf("reply = %q", reply)
	}

	// Now turns flow.
	reply = f.send(t, "chat-1", "u1", "what time is it")
	if !strings.Contains(reply, "echo: what time is it") {
		t.Errorf("reply = %q", reply)
	}
	if f.agent.turnCount() != 1 {
		t.Errorf("turns = %d, want 1", f.agent.turnCount())
	}
}

func TestAllowlistedSenderSkipsPairing(t *testing.T) {
	f := newFixture(t, sessions.DMPolicyPairing, []string{"telegram:bot-1:*"}, nil)

	reply := f.send(t, "chat-7", "u9", "hi")
	if !strings.Contains(reply, "echo: hi") {
		t.Fatalf("preapproved sender did not reach the worker: %q", reply)
	}
}

func TestInterruptApproveFlow(t *testing.T) {
	f := newFixture(t, sessions.DMPolicyOpen, nil, nil)
	f.agent.respond = func(sessionID, text string) (*protocol.TurnData, error) {
		return &protocol.TurnData{
			Text:      "hold on",
			Interrupt: &protocol.Interrupt{ID: "int-42", Question: "Delete 3 files?"},
		}, nil
	}

	reply := f.send(t, "chat-1", "u1", "clean up my downloads")
	if !strings.Contains(reply, "Delete 3 files?") || !strings.Contains(reply, "/approve") {
		t.Fatalf("interrupt not surfaced: %q", reply)
	}

	reply = f.send(t, "chat-1", "u1", "/approve")
	if reply != "resumed" {
		t.Errorf("reply = %q", reply)
	}
	if len(f.agent.resumes) != 1 {
		t.Fatalf("resumes = %d", len(f.agent.resumes))
	}
	got := f.agent.resumes[0]
	if got.Decisions["int-42"] != "approve" {
		t.Errorf("decisions = %v", got.Decisions)
	}

	// The interrupt is cleared: a later /approve is a plain turn.
	f.agent.respond = nil
	reply = f.send(t, "chat-1", "u1", "/approve")
	if !strings.Contains(reply, "echo:") {
		t.Errorf("stale interrupt not cleared: %q", reply)
	}
}

func TestDirectivePrefixPrepended(t *testing.T) {
	f := newFixture(t, sessions.DMPolicyOpen, nil, nil)
	f.router.cfg.Directives.Add("telegram:bot-1:chat-1", "persona", "Be terse.", 1)

	f.send(t, "chat-1", "u1", "hello")
	if got := f.agent.turns[0].Text; got != "Be terse.\n\nhello" {
		t.Errorf("turn text = %q", got)
	}
}

func TestChatRateLimit(t *testing.T) {
	f := newFixture(t, sessions.DMPolicyOpen, nil, ratelimit.New(1, time.Minute))

	f.send(t, "chat-1", "u1", "one")
	reply := f.send(t, "chat-1", "u1", "two")
	if !strings.Contains(reply, "Rate limit exceeded") {
		t.Fatalf("reply = %q", reply)
	}
	if f.agent.turnCount() != 1 {
		t.Errorf("turns = %d, want 1", f.agent.turnCount())
	}

	// A different user has its own window.
	reply = f.send(t, "chat-2", "u2", "three")
	if !strings.Contains(reply, "echo:") {
		t.Errorf("other user limited: %q", reply)
	}
}

func TestFailureMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"worker unavailable is transient", errdefs.Wrap(errdefs.CodeWorkerUnavailable, errors.New("Connection lost")), "temporarily unreachable"},
		{"worker timeout is transient", errdefs.New(errdefs.CodeWorkerTimeout, nil), "temporarily unreachable"},
		{"session error is terminal", errdefs.New(errdefs.CodeSessionExpired, nil), "Session expired"},
		{"anything else is internal", errors.New("kaboom"), "Something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, sessions.DMPolicyOpen, nil, nil)
			f.agent.respond = func(string, string) (*protocol.TurnData, error) { return nil, tt.err }

			reply := f.send(t, "chat-1", "u1", "hi")
			if !strings.Contains(reply, tt.want) {
				t.Errorf("reply = %q, want substring %q", reply, tt.want)
			}
		})
	}
}

func TestUsageRecorded(t *testing.T) {
	f := newFixture(t, sessions.DMPolicyOpen, nil, nil)
	f.agent.respond = func(sessionID, text string) (*protocol.TurnData, error) {
		return &protocol.TurnData{
			Text:  "done",
			Usage: &protocol.UsageInfo{Provider: "openai", Model: "gpt-4o", InputTokens: 1000, OutputTokens: 500, LatencyMS: 80},
		}, nil
	}

	f.send(t, "chat-1", "u1", "hi")
	stats := f.tracker.Stats(time.Time{}, time.Now().Add(time.Hour))
	if stats.TotalCalls != 1 || stats.TotalTokens != 1500 {
		t.Errorf("stats = %+v", stats)
	}
	if diff := stats.TotalCost - 0.0075; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("cost = %v, want 0.0075", stats.TotalCost)
	}
}

func TestFailedTurnRecordedInUsage(t *testing.T) {
	f := newFixture(t, sessions.DMPolicyOpen, nil, nil)
	f.agent.respond = func(string, string) (*protocol.TurnData, error) {
		return nil, errdefs.New(errdefs.CodeWorkerTimeout, nil)
	}

	f.send(t, "chat-1", "u1", "hi")

	stats := f.tracker.Stats(time.Time{}, time.Time{})
	if stats.TotalCalls != 1 || stats.FailedCalls != 1 {
		t.Errorf("stats = %+v, want one failed call", stats)
	}
	if stats.TotalCost != 0 || stats.TotalTokens != 0 {
		t.Errorf("failed turn accrued cost/tokens: %+v", stats)
	}
}

func TestQueueReclaimedOnSessionDestroy(t *testing.T) {
	f := newFixture(t, sessions.DMPolicyOpen, nil, nil)

	for i := 0; i < 5; i++ {
		f.send(t, fmt.Sprintf("chat-%d", i), "u1", "hi")
	}
	if got := f.router.queueCount(); got != 5 {
		t.Fatalf("queues = %d, want 5", got)
	}

	for _, sess := range f.manager.List() {
		if err := f.lifecycle.Destroy(sess.ID); err != nil {
			t.Fatalf("Destroy(%s): %v", sess.ID, err)
		}
	}
	if got := f.router.queueCount(); got != 0 {
		t.Errorf("queues after destroy = %d, want 0", got)
	}

	// A later message starts a fresh queue and flows normally.
	reply := f.send(t, "chat-0", "u1", "again")
	if !strings.Contains(reply, "echo: again") {
		t.Errorf("reply = %q", reply)
	}
	if got := f.router.queueCount(); got != 1 {
		t.Errorf("queues after revival = %d, want 1", got)
	}
}

func TestPerSessionOrdering(t *testing.T) {
	f := newFixture(t, sessions.DMPolicyOpen, nil, nil)

	var mu sync.Mutex
	var order []string
	f.agent.respond = func(sessionID, text string) (*protocol.TurnData, error) {
		mu.Lock()
		order = append(order, text)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return &protocol.TurnData{Text: "ok"}, nil
	}

	for i := 0; i < 5; i++ {
		f.lb.Inject(context.Background(), channels.Message{
			ChatID: "chat-1", UserID: "u1", Text: string(rune('a' + i)),
		})
	}
	for i := 0; i < 5; i++ {
		select {
		case <-f.lb.Outbox():
		case <-time.After(3 * time.Second):
			t.Fatal("missing reply")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "c", "d", "e"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestLongReplySplit(t *testing.T) {
	allowlist, _ := sessions.LoadAllowlist(filepath.Join(t.TempDir(), "allowlist.json"))
	manager := sessions.NewManager(sessions.ManagerConfig{DMPolicy: sessions.DMPolicyOpen}, store.NewMemorySessionStore(), allowlist)
	agent := &fakeAgent{respond: func(string, string) (*protocol.TurnData, error) {
		return &protocol.TurnData{Text: strings.Repeat("word ", 30)}, nil
	}}

	reg := channels.NewRegistry()
	lb := channels.NewLoopback("telegram", "bot-1", 40)
	reg.Register(lb)
	reg.ConnectAll(context.Background())

	New(Config{
		Sessions:   manager,
		Directives: sessions.NewDirectiveManager(),
		Agent:      agent,
		Channels:   reg,
	})

	lb.Inject(context.Background(), channels.Message{ChatID: "c", UserID: "u", Text: "go", MessageID: "m1"})

	var parts []channels.SentReply
	select {
	case p := <-lb.Outbox():
		parts = append(parts, p)
	case <-time.After(3 * time.Second):
		t.Fatal("no reply delivered")
	}
	for {
		select {
		case p := <-lb.Outbox():
			parts = append(parts, p)
			continue
		case <-time.After(300 * time.Millisecond):
		}
		break
	}

	if len(parts) < 2 {
		t.Fatalf("reply was not split: %d parts", len(parts))
	}
	for _, p := range parts {
		if len(p.Reply.Text) > 40 {
			t.Errorf("part exceeds limit: %q", p.Reply.Text)
		}
	}
	if parts[0].Reply.ReplyToMessageID != "m1" {
		t.Error("first part should thread to the triggering message")
	}
	if parts[1].Reply.ReplyToMessageID != "" {
		t.Error("continuation parts must not re-thread")
	}
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		max   int
		parts int
	}{
		{"fits", "short", 100, 1},
		{"unlimited", strings.Repeat("x", 500), 0, 1},
		{"hard split", strings.Repeat("x", 100), 40, 3},
		{"space split", strings.Repeat("ab ", 40), 25, 5},
		{"newline preferred", "line one\nline two\nline three", 20, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := SplitText(tt.text, tt.max)
			if len(parts) != tt.parts {
				t.Errorf("parts = %d (%q), want %d", len(parts), parts, tt.parts)
			}
			if tt.max > 0 {
				for _, p := range parts {
					if w := displayWidth(p); w > tt.max {
						t.Errorf("part %q width %d exceeds %d", p, w, tt.max)
					}
				}
			}
		})
	}
}

func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		if r == '\n' {
			continue
		}
		w++
	}
	return w
}
