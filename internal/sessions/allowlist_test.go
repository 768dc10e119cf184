package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"telegram:bot-1:*", "telegram:bot-1:chat-9", true},
		{"telegram:bot-1:*", "telegram:bot-1:", true},
		{"telegram:bot-1:*", "telegram:bot-1:a:b", false}, // * stops at colon
		{"telegram:*:chat-1", "telegram:any:chat-1", true},
		{"chat-??", "chat-12", true},
		{"chat-??", "chat-1", false},
		{"a.b", "a.b", true},
		{"a.b", "axb", false}, // dot is literal, not regex
		{"exact", "exact", true},
		{"exact", "exactly", false}, // anchored both ends
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.input, func(t *testing.T) {
			re, err := CompilePattern(tt.pattern)
			if err != nil {
				t.Fatalf("CompilePattern(%q): %v", tt.pattern, err)
			}
			if got := re.MatchString(tt.input); got != tt.want {
				t.Errorf("match(%q, %q) = %v, want %v", tt.pattern, tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadAllowlistFileHandling(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string // empty = no file
		want    []string
	}{
		{"missing file", "", nil},
		{"valid", `{"allowlist":["a:b:c","x:*:*"],"lastUpdated":"2026-01-01T00:00:00Z"}`, []string{"a:b:c", "x:*:*"}},
		{"invalid json", `{not json`, nil},
		{"allowlist key missing", `{"lastUpdated":"2026-01-01T00:00:00Z"}`, nil},
		{"allowlist not an array", `{"allowlist":"a:b:c"}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if tt.content != "" {
				if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
					t.Fatal(err)
				}
			}
			al, err := LoadAllowlist(path)
			if err != nil {
				t.Fatalf("LoadAllowlist: %v", err)
			}
			got := al.Patterns()
			if len(got) != len(tt.want) {
				t.Fatalf("Patterns() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Patterns()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAllowlistAddPersistsAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.json")
	al, err := LoadAllowlist(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := al.Add("telegram:bot-1:chat-123"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := al.Add("telegram:bot-1:chat-123"); err != nil { // dedupe
		t.Fatalf("Add (dup): %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var f struct {
		Allowlist   []string `json:"allowlist"`
		LastUpdated string   `json:"lastUpdated"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(f.Allowlist) != 1 || f.Allowlist[0] != "telegram:bot-1:chat-123" {
		t.Errorf("persisted allowlist = %v", f.Allowlist)
	}
	if f.LastUpdated == "" {
		t.Error("lastUpdated not set")
	}

	// A fresh load sees the same set.
	al2, _ := LoadAllowlist(path)
	if !al2.Matches("telegram:bot-1:chat-123") {
		t.Error("reloaded allowlist does not match persisted entry")
	}

	if err := al.Remove("telegram:bot-1:chat-123"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	al3, _ := LoadAllowlist(path)
	if al3.Matches("telegram:bot-1:chat-123") {
		t.Error("entry still matches after Remove")
	}
}
