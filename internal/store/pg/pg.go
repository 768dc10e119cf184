// Package pg backs the session store and message log with Postgres for
// multi-instance deployments. Schema is managed by golang-migrate; see
// migrations/ and the `agentgate migrate` command.
package pg

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/agentgate/internal/store"
)

// OpenDB opens a pgx-backed database/sql handle.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores creates both stores on one handle.
func NewStores(db *sql.DB) (*SessionStore, *MessageLog) {
	return &SessionStore{db: db}, &MessageLog{db: db}
}

// SessionStore implements store.SessionStore on Postgres.
type SessionStore struct {
	db *sql.DB
}

func (s *SessionStore) Get(id string) (*store.Session, bool) {
	row := s.db.QueryRow(
		`SELECT id, channel_type, channel_id, chat_id, user_id, user_name,
		        created_at, last_activity_at, paired, pairing_code, pairing_code_expires_at
		 FROM gw_sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, false
	}
	return sess, true
}

func (s *SessionStore) Put(sess *store.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO gw_sessions (id, channel_type, channel_id, chat_id, user_id, user_name,
		                          created_at, last_activity_at, paired, pairing_code, pairing_code_expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   user_id = EXCLUDED.user_id,
		   user_name = EXCLUDED.user_name,
		   last_activity_at = EXCLUDED.last_activity_at,
		   paired = EXCLUDED.paired,
		   pairing_code = EXCLUDED.pairing_code,
		   pairing_code_expires_at = EXCLUDED.pairing_code_expires_at`,
		sess.ID, sess.ChannelType, sess.ChannelID, sess.ChatID, sess.UserID, sess.UserName,
		sess.CreatedAt, sess.LastActivityAt, sess.Paired,
		sess.PairingCode, nullableTime(sess.PairingCodeExpiresAt))
	if err != nil {
		return fmt.Errorf("put session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SessionStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM gw_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *SessionStore) List() []*store.Session {
	rows, err := s.db.Query(
		`SELECT id, channel_type, channel_id, chat_id, user_id, user_name,
		        created_at, last_activity_at, paired, pairing_code, pairing_code_expires_at
		 FROM gw_sessions ORDER BY created_at`)
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
	s.db.QueryRow(`SELECT COUNT(*) FROM gw_sessions`).Scan(&n)
	return n
}

// MessageLog implements store.MessageLog on Postgres.
type MessageLog struct {
	db *sql.DB
}

func (l *MessageLog) Append(m store.Message) error {
	_, err := l.db.Exec(
		`INSERT INTO gw_messages (id, session_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (l *MessageLog) ListForSession(sessionID string, limit int) ([]store.Message, error) {
	q := `SELECT id, session_id, role, content, created_at FROM gw_messages
	      WHERE session_id = $1 ORDER BY created_at`
	args := []any{sessionID}
	if limit > 0 {
		q = `SELECT id, session_id, role, content, created_at FROM (
		       SELECT id, session_id, role, content, created_at FROM gw_messages
		       WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2
		     ) sub ORDER BY created_at`
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
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (l *MessageLog) CountForSession(sessionID string) (int, error) {
	var n int
	err := l.db.QueryRow(`SELECT COUNT(*) FROM gw_messages WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

func (l *MessageLog) DeleteForSession(sessionID string) error {
	if _, err := l.db.Exec(`DELETE FROM gw_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete messages for %s: %w", sessionID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*store.Session, error) {
	var sess store.Session
	var codeExpires sql.NullTime
	err := row.Scan(&sess.ID, &sess.ChannelType, &sess.ChannelID, &sess.ChatID,
		&sess.UserID, &sess.UserName, &sess.CreatedAt, &sess.LastActivityAt,
		&sess.Paired, &sess.PairingCode, &codeExpires)
	if err != nil {
		return nil, err
	}
	if codeExpires.Valid {
		sess.PairingCodeExpiresAt = codeExpires.Time
	}
	return &sess, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
