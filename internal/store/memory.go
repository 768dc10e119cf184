package store

import "sync"

// MemorySessionStore is the in-memory SessionStore used by tests and
// single-node deployments without persistence configured.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (s *MemorySessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

func (s *MemorySessionStore) Put(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *MemorySessionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemorySessionStore) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	return out
}

func (s *MemorySessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// MemoryMessageLog is the in-memory MessageLog counterpart.
type MemoryMessageLog struct {
	mu       sync.RWMutex
	messages map[string][]Message // sessionID → rows in append order
}

// NewMemoryMessageLog creates an empty in-memory message log.
func NewMemoryMessageLog() *MemoryMessageLog {
	return &MemoryMessageLog{messages: make(map[string][]Message)}
}

func (l *MemoryMessageLog) Append(m Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages[m.SessionID] = append(l.messages[m.SessionID], m)
	return nil
}

func (l *MemoryMessageLog) ListForSession(sessionID string, limit int) ([]Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rows := l.messages[sessionID]
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	out := make([]Message, len(rows))
	copy(out, rows)
	return out, nil
}

func (l *MemoryMessageLog) CountForSession(sessionID string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages[sessionID]), nil
}

func (l *MemoryMessageLog) DeleteForSession(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.messages, sessionID)
	return nil
}
