package sessions

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Directive is one standing instruction attached to a session. Lower
// priority sorts first; only active directives contribute to the prompt
// prefix.
type Directive struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Priority  int       `json:"priority"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// DirectiveManager keeps per-session directive lists in insertion order.
type DirectiveManager struct {
	mu        sync.RWMutex
	bySession map[string][]Directive
	now       func() time.Time
}

// NewDirectiveManager creates an empty directive manager.
func NewDirectiveManager() *DirectiveManager {
	return &DirectiveManager{bySession: make(map[string][]Directive), now: time.Now}
}

// Add appends a directive for the session and returns it with ID and
// timestamp assigned.
func (d *DirectiveManager) Add(sessionID, dirType, content string, priority int) Directive {
	dir := Directive{
		ID:        uuid.NewString(),
		Type:      dirType,
		Content:   content,
		Priority:  priority,
		Active:    true,
		CreatedAt: d.now(),
	}
	d.mu.Lock()
	d.bySession[sessionID] = append(d.bySession[sessionID], dir)
	d.mu.Unlock()
	return dir
}

// List returns the session's directives in insertion order.
func (d *DirectiveManager) List(sessionID string) []Directive {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dirs := d.bySession[sessionID]
	out := make([]Directive, len(dirs))
	copy(out, dirs)
	return out
}

// SetActive toggles a directive; reports whether it was found.
func (d *DirectiveManager) SetActive(sessionID, directiveID string, active bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.bySession[sessionID] {
		if d.bySession[sessionID][i].ID == directiveID {
			d.bySession[sessionID][i].Active = active
			return true
		}
	}
	return false
}

// Remove deletes a directive; reports whether it was found.
func (d *DirectiveManager) Remove(sessionID, directiveID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	dirs := d.bySession[sessionID]
	for i := range dirs {
		if dirs[i].ID == directiveID {
			d.bySession[sessionID] = append(dirs[:i], dirs[i+1:]...)
			return true
		}
	}
	return false
}

// DropSession discards all directives for a destroyed session.
func (d *DirectiveManager) DropSession(sessionID string) {
	d.mu.Lock()
	delete(d.bySession, sessionID)
	d.mu.Unlock()
}

// PromptPrefix concatenates active directive contents ascending by priority
// (stable for equal priorities) followed by a blank line. Empty when the
// session has no active directives.
func (d *DirectiveManager) PromptPrefix(sessionID string) string {
	d.mu.RLock()
	dirs := make([]Directive, 0, len(d.bySession[sessionID]))
	for _, dir := range d.bySession[sessionID] {
		if dir.Active {
			dirs = append(dirs, dir)
		}
	}
	d.mu.RUnlock()

	if len(dirs) == 0 {
		return ""
	}
	sort.SliceStable(dirs, func(i, j int) bool { return dirs[i].Priority < dirs[j].Priority })

	var b strings.Builder
	for _, dir := range dirs {
		b.WriteString(dir.Content)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}
