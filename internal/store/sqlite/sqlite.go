// Package sqlite backs the session store and message log with a local
// SQLite database (modernc driver, no cgo). This is the default persistent
// store for single-host deployments.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/agentgate/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	channel_type TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	user_name TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	last_activity_at INTEGER NOT NULL,
	paired INTEGER NOT NULL DEFAULT 0,
	pairing_code TEXT NOT NULL DEFAULT '',
	pairing_code_expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
`

// Open opens (creating if needed) the gateway database at path and returns
// stores backed by it. ":memory:" works for tests.
func Open(path string) (*SessionStore, *MessageLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SessionStore{db: db}, &MessageLog{db: db}, nil
}

// SessionStore implements store.SessionStore on SQLite.
type SessionStore struct {
	db *sql.DB
}

// Close closes the underlying database. Call once, on the session store
// only (the message log shares the handle).
func (s *SessionStore) Close() error { return s.db.Close() }

func (s *SessionStore) Get(id string) (*store.Session, bool) {
	row := s.db.QueryRow(
		`SELECT id, channel_type, channel_id, chat_id, user_id, user_name,
		        created_at, last_activity_at, paired, pairing_code, pairing_code_expires_at
		 FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, false
	}
	return sess, true
}

func (s *SessionStore) Put(sess *store.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, channel_type, channel_id, chat_id, user_id, user_name,
		                       created_at, last_activity_at, paired, pairing_code, pairing_code_expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id = excluded.user_id,
		   user_name = excluded.user_name,
		   last_activity_at = excluded.last_activity_at,
		   paired = excluded.paired,
		   pairing_code = excluded.pairing_code,
		   pairing_code_expires_at = excluded.pairing_code_expires_at`,
		sess.ID, sess.ChannelType, sess.ChannelID, sess.ChatID, sess.UserID, sess.UserName,
		sess.CreatedAt.UnixMilli(), sess.LastActivityAt.UnixMilli(),
		boolToInt(sess.Paired), sess.PairingCode, unixMilliOrZero(sess.PairingCodeExpiresAt))
	if err != nil {
		return fmt.Errorf("put session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SessionStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *SessionStore) List() []*store.Session {
	rows, err := s.db.Query(
		`SELECT id, channel_type, channel_id, chat_id, user_id, user_name,
		        created_at, last_activity_at, paired, pairing_code, pairing_code_expires_at
		 FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []*store.Session
	for rows.Next() {
		if sess, err := scanSession(rows); err == nil {
			out = append(out, sess)
		}
	}
	return out
}

func (s *SessionStore) Count() int {
	var n int
	s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n
}

// MessageLog implements store.MessageLog on SQLite.
type MessageLog struct {
	db *sql.DB
}

func (l *MessageLog) Append(m store.Message) error {
	_, err := l.db.Exec(
		`INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (l *MessageLog) ListForSession(sessionID string, limit int) ([]store.Message, error) {
	q := `SELECT id, session_id, role, content, created_at FROM messages
	      WHERE session_id = ? ORDER BY created_at`
	args := []any{sessionID}
	if limit > 0 {
		q = `SELECT id, session_id, role, content, created_at FROM (
		       SELECT id, session_id, role, content, created_at FROM messages
		       WHERE session_id = ? ORDER BY created_at DESC LIMIT ?
		     ) ORDER BY created_at`
		args = append(args, limit)
	}
	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var m store.Message
		var created int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (l *MessageLog) CountForSession(sessionID string) (int, error) {
	var n int
	err := l.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func (l *MessageLog) DeleteForSession(sessionID string) error {
	if _, err := l.db.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages for %s: %w", sessionID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*store.Session, error) {
	var sess store.Session
	var created, lastActivity, codeExpires int64
	var paired int
	err := row.Scan(&sess.ID, &sess.ChannelType, &sess.ChannelID, &sess.ChatID,
		&sess.UserID, &sess.UserName, &created, &lastActivity, &paired,
		&sess.PairingCode, &codeExpires)
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = time.UnixMilli(created)
	sess.LastActivityAt = time.UnixMilli(lastActivity)
	sess.Paired = paired != 0
	if codeExpires != 0 {
		sess.PairingCodeExpiresAt = time.UnixMilli(codeExpires)
	}
	return &sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
