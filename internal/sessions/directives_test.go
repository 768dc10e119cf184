package sessions

import (
	"strings"
	"testing"
)

func TestPromptPrefixOrdering(t *testing.T) {
	dm := NewDirectiveManager()
	const sid = "telegram:bot-1:chat-123"

	dm.Add(sid, "persona", "second", 10)
	dm.Add(sid, "rule", "first", 1)
	dm.Add(sid, "rule", "third-a", 20)
	dm.Add(sid, "rule", "third-b", 20) // equal priority keeps insertion order
	inactive := dm.Add(sid, "rule", "hidden", 0)
	dm.SetActive(sid, inactive.ID, false)

	prefix := dm.PromptPrefix(sid)
	want := "first\nsecond\nthird-a\nthird-b\n\n"
	if prefix != want {
		t.Errorf("PromptPrefix = %q, want %q", prefix, want)
	}
	if strings.Contains(prefix, "hidden") {
		t.Error("inactive directive leaked into prefix")
	}
}

func TestPromptPrefixEmpty(t *testing.T) {
	dm := NewDirectiveManager()
	if got := dm.PromptPrefix("telegram:bot-1:none"); got != "" {
		t.Errorf("PromptPrefix of empty session = %q, want \"\"", got)
	}
}

func TestDirectiveRemoveAndDrop(t *testing.T) {
	dm := NewDirectiveManager()
	const sid = "cli:local:default"

	d := dm.Add(sid, "rule", "x", 0)
	if !dm.Remove(sid, d.ID) {
		t.Error("Remove returned false for existing directive")
	}
	if dm.Remove(sid, d.ID) {
		t.Error("Remove returned true for missing directive")
	}

	dm.Add(sid, "rule", "y", 0)
	dm.DropSession(sid)
	if got := dm.List(sid); len(got) != 0 {
		t.Errorf("List after DropSession = %v", got)
	}
}
