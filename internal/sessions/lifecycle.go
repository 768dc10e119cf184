package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/bus"
	"github.com/nextlevelbuilder/agentgate/internal/store"
)

// Lifecycle event names.
const (
	EventSessionsCleanedUp = "sessionsCleanedUp"
	EventSessionDestroyed  = "sessionDestroyed"
	EventSessionResumed    = "sessionResumed"
)

// LifecycleConfig configures timed expiry reclamation.
type LifecycleConfig struct {
	SessionTimeout  time.Duration // default 24h
	CleanupInterval time.Duration // default 1h
}

// Ownership is the tuple a caller must reproduce to resume a session. It is
// the defense against session-ID guessing across channels.
type Ownership struct {
	ChannelType string
	ChannelID   string
	UserID      string
}

// Lifecycle sweeps expired sessions and owns destruction ordering: message
// rows are deleted before the session record so an observer never sees
// orphan messages.
type Lifecycle struct {
	cfg      LifecycleConfig
	sessions store.SessionStore
	messages store.MessageLog
	events   *bus.Bus

	mu  sync.Mutex // serializes destroys against the sweep
	now func() time.Time
}

// NewLifecycle creates a lifecycle manager. A nil events bus disables
// emission.
func NewLifecycle(cfg LifecycleConfig, sessions store.SessionStore, messages store.MessageLog, events *bus.Bus) *Lifecycle {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 24 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if events == nil {
		events = bus.New()
	}
	return &Lifecycle{cfg: cfg, sessions: sessions, messages: messages, events: events, now: time.Now}
}

// Events exposes the lifecycle event bus.
func (l *Lifecycle) Events() *bus.Bus { return l.events }

// Start runs the periodic expiry sweep until ctx is cancelled.
func (l *Lifecycle) Start(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.CleanupExpired()
			}
		}
	}()
}

// CleanupExpired destroys every session idle longer than the timeout and
// returns how many were reclaimed.
func (l *Lifecycle) CleanupExpired() int {
	cutoff := l.now().Add(-l.cfg.SessionTimeout)
	count := 0
	for _, sess := range l.sessions.List() {
		if sess.LastActivityAt.Before(cutoff) {
			if err := l.Destroy(sess.ID); err != nil {
				slog.Warn("session cleanup failed", "session", sess.ID, "error", err)
				continue
			}
			count++
		}
	}
	if count > 0 {
		slog.Info("expired sessions cleaned up", "count", count)
		l.events.Emit(bus.Event{Name: EventSessionsCleanedUp, Payload: map[string]int{"count": count}})
	}
	return count
}

// Destroy removes a session and its history. Message deletion precedes
// session removal.
func (l *Lifecycle) Destroy(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.messages.DeleteForSession(sessionID); err != nil {
		return err
	}
	if err := l.sessions.Delete(sessionID); err != nil {
		return err
	}
	l.events.Emit(bus.Event{Name: EventSessionDestroyed, Payload: map[string]string{"sessionId": sessionID}})
	return nil
}

// Resume returns the session only when every field of the ownership tuple
// matches; any single mismatch yields nil. A match touches activity.
func (l *Lifecycle) Resume(sessionID string, owner Ownership) *store.Session {
	sess, ok := l.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	if sess.ChannelType != owner.ChannelType ||
		sess.ChannelID != owner.ChannelID ||
		sess.UserID != owner.UserID {
		return nil
	}

	if now := l.now(); now.After(sess.LastActivityAt) {
		sess.LastActivityAt = now
		if err := l.sessions.Put(sess); err != nil {
			slog.Warn("resume touch failed", "session", sessionID, "error", err)
		}
	}
	l.events.Emit(bus.Event{Name: EventSessionResumed, Payload: map[string]string{"sessionId": sessionID}})
	return sess
}
