// Package store defines the persistence contracts the gateway core depends
// on. The core owns session identity and lifecycle; where the data lives
// (memory, sqlite, postgres) is an injection decision made at startup.
package store

import "time"

// Session is the authoritative admission record for one (channel,
// conversation) pair. Timestamps are millisecond precision.
type Session struct {
	ID          string `json:"id"` // "{channelType}:{channelId}:{chatId}"
	ChannelType string `json:"channelType"`
	ChannelID   string `json:"channelId"`
	ChatID      string `json:"chatId"`
	UserID      string `json:"userId"`
	UserName    string `json:"userName,omitempty"`

	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`

	Paired               bool      `json:"paired"`
	PairingCode          string    `json:"pairingCode,omitempty"`
	PairingCodeExpiresAt time.Time `json:"pairingCodeExpiresAt,omitempty"`
}

// Clone returns a copy so callers can mutate without aliasing store state.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// Message is one logged message body for a session. The core never reads
// bodies back except for admin preview; the log exists so destroy can
// cascade.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"` // "user" | "assistant" | "system"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionStore persists sessions keyed by session ID.
type SessionStore interface {
	Get(id string) (*Session, bool)
	Put(s *Session) error
	Delete(id string) error
	List() []*Session
	Count() int
}

// MessageLog persists message rows per session. DeleteForSession must remove
// every row before returning so the lifecycle destroy cascade never leaves
// orphans visible.
type MessageLog interface {
	Append(m Message) error
	ListForSession(sessionID string, limit int) ([]Message, error)
	CountForSession(sessionID string) (int, error)
	DeleteForSession(sessionID string) error
}
