package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Allowlist is a persistent set of patterns granting admission without
// pairing. Pattern language: `*` matches any run of non-colon characters,
// `?` matches any single character; patterns are anchored at both ends.
// User-provided patterns are never interpreted as raw regex.
type Allowlist struct {
	mu       sync.RWMutex
	patterns []allowPattern
	path     string // empty = in-memory only
}

type allowPattern struct {
	raw string
	re  *regexp.Regexp
}

type allowlistFile struct {
	Allowlist   []string `json:"allowlist"`
	LastUpdated string   `json:"lastUpdated"`
}

// CompilePattern translates a wildcard pattern to its anchored regex.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(`[^:]*`)
		case '?':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// NewAllowlist creates an in-memory allowlist (no file backing).
func NewAllowlist() *Allowlist {
	return &Allowlist{}
}

// LoadAllowlist reads the allowlist file at path (supporting a leading `~`).
// A missing file, invalid JSON, or a missing/ill-typed "allowlist" key all
// yield an empty list; legacy or damaged files are never upgraded in place.
func LoadAllowlist(path string) (*Allowlist, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	al := &Allowlist{path: expanded}
	al.reload()
	return al, nil
}

func (a *Allowlist) reload() {
	if a.path == "" {
		return
	}
	data, err := os.ReadFile(a.path)
	if err != nil {
		a.setPatterns(nil)
		return
	}
	var f allowlistFile
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("allowlist file invalid, treating as empty", "path", a.path, "error", err)
		a.setPatterns(nil)
		return
	}
	a.setPatterns(f.Allowlist)
}

func (a *Allowlist) setPatterns(raw []string) {
	compiled := make([]allowPattern, 0, len(raw))
	for _, p := range raw {
		re, err := CompilePattern(p)
		if err != nil {
			slog.Warn("allowlist pattern rejected", "pattern", p, "error", err)
			continue
		}
		compiled = append(compiled, allowPattern{raw: p, re: re})
	}
	a.mu.Lock()
	a.patterns = compiled
	a.mu.Unlock()
}

// Matches reports whether s matches any stored pattern (exact entries are
// plain patterns without wildcards).
func (a *Allowlist) Matches(s string) bool {
	if s == "" {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, p := range a.patterns {
		if p.raw == s || p.re.MatchString(s) {
			return true
		}
	}
	return false
}

// Patterns returns the stored raw patterns.
func (a *Allowlist) Patterns() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.patterns))
	for i, p := range a.patterns {
		out[i] = p.raw
	}
	return out
}

// Add inserts a pattern (deduplicated) and persists the file if one is
// configured.
func (a *Allowlist) Add(pattern string) error {
	re, err := CompilePattern(pattern)
	if err != nil {
		return fmt.Errorf("compile allowlist pattern %q: %w", pattern, err)
	}

	a.mu.Lock()
	exists := false
	for _, p := range a.patterns {
		if p.raw == pattern {
			exists = true
			break
		}
	}
	if !exists {
		a.patterns = append(a.patterns, allowPattern{raw: pattern, re: re})
	}
	a.mu.Unlock()

	if exists {
		return nil
	}
	return a.save()
}

// Remove deletes a pattern and persists.
func (a *Allowlist) Remove(pattern string) error {
	a.mu.Lock()
	kept := a.patterns[:0]
	for _, p := range a.patterns {
		if p.raw != pattern {
			kept = append(kept, p)
		}
	}
	a.patterns = kept
	a.mu.Unlock()
	return a.save()
}

// save writes the file atomically (temp + rename).
func (a *Allowlist) save() error {
	if a.path == "" {
		return nil
	}
	f := allowlistFile{
		Allowlist:   a.Patterns(),
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal allowlist: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create allowlist dir: %w", err)
	}
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write allowlist: %w", err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return fmt.Errorf("rename allowlist: %w", err)
	}
	return nil
}

// Watch reloads the pattern set whenever the backing file changes on disk.
// The parent directory is watched so editors that replace the file via
// rename still trigger a reload. No-op for in-memory allowlists.
func (a *Allowlist) Watch(ctx context.Context) error {
	if a.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("allowlist watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(a.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(a.path), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name == a.path && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					slog.Debug("allowlist file changed, reloading", "path", a.path)
					a.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("allowlist watcher error", "error", err)
			}
		}
	}()
	return nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand ~: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
