package sessions

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/bus"
	"github.com/nextlevelbuilder/agentgate/internal/store"
)

func seedSession(t *testing.T, sessions store.SessionStore, id string, lastActivity time.Time) *store.Session {
	t.Helper()
	ct, cid, chat, err := ParseSessionID(id)
	if err != nil {
		t.Fatalf("ParseSessionID(%q): %v", id, err)
	}
	sess := &store.Session{
		ID: id, ChannelType: ct, ChannelID: cid, ChatID: chat,
		UserID: "user-1", CreatedAt: lastActivity, LastActivityAt: lastActivity,
	}
	if err := sessions.Put(sess); err != nil {
		t.Fatal(err)
	}
	return sess
}

// Destroy cascades: history rows vanish before the session record does.
func TestDestroyCascade(t *testing.T) {
	sessions := store.NewMemorySessionStore()
	messages := store.NewMemoryMessageLog()
	lc := NewLifecycle(LifecycleConfig{}, sessions, messages, nil)

	now := time.Now()
	seedSession(t, sessions, "telegram:bot-1:chat-123", now)
	for i := 0; i < 3; i++ {
		messages.Append(store.Message{ID: string(rune('a' + i)), SessionID: "telegram:bot-1:chat-123", Role: "user", Content: "hi", CreatedAt: now})
	}

	var destroyed []string
	lc.Events().Subscribe(EventSessionDestroyed, func(e bus.Event) {
		destroyed = append(destroyed, e.Payload.(map[string]string)["sessionId"])
	})

	if err := lc.Destroy("telegram:bot-1:chat-123"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if _, ok := sessions.Get("telegram:bot-1:chat-123"); ok {
		t.Error("session still present after destroy")
	}
	if n, _ := messages.CountForSession("telegram:bot-1:chat-123"); n != 0 {
		t.Errorf("message count after destroy = %d, want 0", n)
	}
	if len(destroyed) != 1 || destroyed[0] != "telegram:bot-1:chat-123" {
		t.Errorf("sessionDestroyed events = %v", destroyed)
	}
}

func TestCleanupExpired(t *testing.T) {
	sessions := store.NewMemorySessionStore()
	messages := store.NewMemoryMessageLog()
	lc := NewLifecycle(LifecycleConfig{SessionTimeout: 24 * time.Hour}, sessions, messages, nil)

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	lc.now = func() time.Time { return now }

	seedSession(t, sessions, "telegram:bot-1:stale", now.Add(-25*time.Hour))
	seedSession(t, sessions, "telegram:bot-1:fresh", now.Add(-1*time.Hour))
	seedSession(t, sessions, "telegram:bot-1:edge", now.Add(-24*time.Hour)) // exactly at timeout: kept

	var cleaned int
	lc.Events().Subscribe(EventSessionsCleanedUp, func(e bus.Event) {
		cleaned = e.Payload.(map[string]int)["count"]
	})

	if got := lc.CleanupExpired(); got != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", got)
	}
	if cleaned != 1 {
		t.Errorf("sessionsCleanedUp count = %d, want 1", cleaned)
	}
	if _, ok := sessions.Get("telegram:bot-1:stale"); ok {
		t.Error("stale session survived")
	}
	if _, ok := sessions.Get("telegram:bot-1:fresh"); !ok {
		t.Error("fresh session reclaimed")
	}
	if _, ok := sessions.Get("telegram:bot-1:edge"); !ok {
		t.Error("boundary session reclaimed; timeout must be strictly exceeded")
	}
}

// Resume succeeds only when all three ownership fields match.
func TestResumeOwnership(t *testing.T) {
	owner := Ownership{ChannelType: "telegram", ChannelID: "bot-1", UserID: "user-1"}

	tests := []struct {
		name  string
		owner Ownership
		want  bool
	}{
		{"all match", owner, true},
		{"wrong channel type", Ownership{"discord", "bot-1", "user-1"}, false},
		{"wrong channel id", Ownership{"telegram", "bot-2", "user-1"}, false},
		{"wrong user", Ownership{"telegram", "bot-1", "user-2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := store.NewMemorySessionStore()
			lc := NewLifecycle(LifecycleConfig{}, sessions, store.NewMemoryMessageLog(), nil)

			created := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
			lc.now = func() time.Time { return created.Add(time.Hour) }
			seedSession(t, sessions, "telegram:bot-1:chat-123", created)

			got := lc.Resume("telegram:bot-1:chat-123", tt.owner)
			if (got != nil) != tt.want {
				t.Fatalf("Resume = %v, want match=%v", got, tt.want)
			}
			if tt.want && !got.LastActivityAt.After(created) {
				t.Error("resume did not touch lastActivityAt")
			}
		})
	}

	lc := NewLifecycle(LifecycleConfig{}, store.NewMemorySessionStore(), store.NewMemoryMessageLog(), nil)
	if lc.Resume("telegram:bot-1:ghost", owner) != nil {
		t.Error("resume of unknown session returned a session")
	}
}
