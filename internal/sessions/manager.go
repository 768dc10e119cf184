package sessions

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/errdefs"
	"github.com/nextlevelbuilder/agentgate/internal/store"
)

// DMPolicy controls how unknown senders are admitted.
type DMPolicy string

const (
	// DMPolicyOpen admits every sender; sessions are paired at creation.
	DMPolicyOpen DMPolicy = "open"
	// DMPolicyPairing requires a pairing-code handshake or an allowlist hit.
	DMPolicyPairing DMPolicy = "pairing"
)

// DefaultPairingCodeTTL bounds how long a session pairing code stays valid.
const DefaultPairingCodeTTL = 10 * time.Minute

// ManagerConfig configures the admission store.
type ManagerConfig struct {
	DMPolicy       DMPolicy
	PairingCodeTTL time.Duration
	// OnAllowlistChange fires after an approval extends the allowlist.
	OnAllowlistChange func()
}

// Manager is the central admission store: it derives session identity from
// channel events, runs the pairing-code handshake, and consults the
// allowlist. Backed by an injected store.SessionStore.
type Manager struct {
	cfg       ManagerConfig
	sessions  store.SessionStore
	allowlist *Allowlist

	mu  sync.Mutex // serializes create/approve read-modify-write cycles
	now func() time.Time
}

// NewManager creates a session manager over the given store and allowlist.
func NewManager(cfg ManagerConfig, sessions store.SessionStore, allowlist *Allowlist) *Manager {
	if cfg.PairingCodeTTL <= 0 {
		cfg.PairingCodeTTL = DefaultPairingCodeTTL
	}
	if cfg.DMPolicy == "" {
		cfg.DMPolicy = DMPolicyPairing
	}
	if allowlist == nil {
		allowlist = NewAllowlist()
	}
	return &Manager{cfg: cfg, sessions: sessions, allowlist: allowlist, now: time.Now}
}

// Allowlist exposes the manager's pattern set.
func (m *Manager) Allowlist() *Allowlist { return m.allowlist }

// GetOrCreate resolves the session for a channel event, creating it on first
// contact. Existing sessions get their activity touched and, when userName
// is non-empty, the display name refreshed.
func (m *Manager) GetOrCreate(channelType, channelID, chatID, userID, userName string) (*store.Session, error) {
	id, err := BuildSessionID(channelType, channelID, chatID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if sess, ok := m.sessions.Get(id); ok {
		if now.After(sess.LastActivityAt) {
			sess.LastActivityAt = now
		}
		if userName != "" {
			sess.UserName = userName
		}
		if err := m.sessions.Put(sess); err != nil {
			return nil, errdefs.Wrap(errdefs.CodeInternal, err)
		}
		return sess, nil
	}

	sess := &store.Session{
		ID:             id,
		ChannelType:    channelType,
		ChannelID:      channelID,
		ChatID:         chatID,
		UserID:         userID,
		UserName:       userName,
		CreatedAt:      now,
		LastActivityAt: now,
		Paired:         m.isPreApproved(id, userID),
	}
	if err := m.sessions.Put(sess); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeInternal, err)
	}
	slog.Info("session created", "session", id, "paired", sess.Paired)
	return sess, nil
}

// Touch bumps a session's activity timestamp.
func (m *Manager) Touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions.Get(sessionID)
	if !ok {
		return
	}
	if now := m.now(); now.After(sess.LastActivityAt) {
		sess.LastActivityAt = now
		m.sessions.Put(sess)
	}
}

// GeneratePairingCode mints a fresh 6-hex-character code for the session and
// stamps its expiry. Fails with GW-SESS-001 for unknown sessions.
func (m *Manager) GeneratePairingCode(sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions.Get(sessionID)
	if !ok {
		return "", errdefs.New(errdefs.CodeSessionNotFound, sessionID)
	}

	code := randomHexCode()
	sess.PairingCode = code
	sess.PairingCodeExpiresAt = m.now().Add(m.cfg.PairingCodeTTL)
	if err := m.sessions.Put(sess); err != nil {
		return "", errdefs.Wrap(errdefs.CodeInternal, err)
	}
	slog.Info("pairing code issued", "session", sessionID)
	return code, nil
}

// Approve grants admission if code matches the session's outstanding pairing
// code within its TTL. On success the code fields are cleared (codes are
// one-shot), the session ID joins the allowlist, and the change hook fires.
func (m *Manager) Approve(sessionID, code string) (bool, error) {
	m.mu.Lock()

	sess, ok := m.sessions.Get(sessionID)
	if !ok || sess.PairingCode == "" {
		m.mu.Unlock()
		return false, nil
	}
	if sess.PairingCode != strings.ToUpper(code) {
		m.mu.Unlock()
		return false, nil
	}
	if m.now().After(sess.PairingCodeExpiresAt) {
		m.mu.Unlock()
		return false, nil
	}

	if err := m.markPairedLocked(sess); err != nil {
		m.mu.Unlock()
		return false, err
	}
	m.mu.Unlock()

	m.afterApproval(sessionID)
	return true, nil
}

// ManualApprove grants admission by operator action, with the same
// post-state as a successful code match but no code check.
func (m *Manager) ManualApprove(sessionID string) (bool, error) {
	m.mu.Lock()
	sess, ok := m.sessions.Get(sessionID)
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	if err := m.markPairedLocked(sess); err != nil {
		m.mu.Unlock()
		return false, err
	}
	m.mu.Unlock()

	m.afterApproval(sessionID)
	return true, nil
}

func (m *Manager) markPairedLocked(sess *store.Session) error {
	sess.Paired = true
	sess.PairingCode = ""
	sess.PairingCodeExpiresAt = time.Time{}
	if err := m.sessions.Put(sess); err != nil {
		return errdefs.Wrap(errdefs.CodeInternal, err)
	}
	return nil
}

func (m *Manager) afterApproval(sessionID string) {
	if err := m.allowlist.Add(sessionID); err != nil {
		slog.Warn("allowlist persist failed", "session", sessionID, "error", err)
	}
	slog.Info("session approved", "session", sessionID)
	if m.cfg.OnAllowlistChange != nil {
		m.cfg.OnAllowlistChange()
	}
}

// IsPaired reports admission for a session: always true under the open
// policy, else the session's paired flag.
func (m *Manager) IsPaired(sessionID string) bool {
	if m.cfg.DMPolicy == DMPolicyOpen {
		return true
	}
	sess, ok := m.sessions.Get(sessionID)
	return ok && sess.Paired
}

// IsPreApproved reports whether a session would be admitted at creation:
// open policy, exact session ID, exact user ID, or any matching pattern.
func (m *Manager) IsPreApproved(sessionID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isPreApproved(sessionID, userID)
}

func (m *Manager) isPreApproved(sessionID, userID string) bool {
	if m.cfg.DMPolicy == DMPolicyOpen {
		return true
	}
	return m.allowlist.Matches(sessionID) || m.allowlist.Matches(userID)
}

// Get returns a session by ID.
func (m *Manager) Get(sessionID string) (*store.Session, bool) {
	return m.sessions.Get(sessionID)
}

// List returns every known session.
func (m *Manager) List() []*store.Session {
	return m.sessions.List()
}

// randomHexCode returns 6 uppercase hex characters from crypto/rand.
func randomHexCode() string {
	var buf [3]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the process is in no state to run.
		panic("crypto/rand: " + err.Error())
	}
	return strings.ToUpper(hex.EncodeToString(buf[:]))
}
