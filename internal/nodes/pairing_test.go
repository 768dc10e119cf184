package nodes

import (
	"testing"
	"time"
)

func TestPairingCodeOneShot(t *testing.T) {
	p := NewPairingManager()
	code := p.Generate()

	if len(code) != 6 {
		t.Fatalf("code %q is not 6 digits", code)
	}
	if !p.Validate(code) {
		t.Fatal("first Validate should succeed")
	}
	if p.Validate(code) {
		t.Error("second Validate should fail, codes are one-shot")
	}
	if p.Validate("000000") {
		t.Error("unknown code validated")
	}
}

func TestPairingCodeExpiry(t *testing.T) {
	p := NewPairingManager()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now := base
	p.now = func() time.Time { return now }

	code := p.Generate()
	now = base.Add(NodePairingTTL + time.Second)
	if p.Validate(code) {
		t.Error("expired code validated")
	}

	// The next Generate sweeps the dead code.
	p.Generate()
	if got := p.activeCodeCount(); got != 1 {
		t.Errorf("active codes = %d, want 1", got)
	}
}

func TestSharedSecretReconnect(t *testing.T) {
	p := NewPairingManager()

	if p.ValidateSharedSecret("") {
		t.Error("empty secret validated")
	}

	p.Approve("companion-1-a", "mac", "s3cret")
	for i := 0; i < 3; i++ {
		if !p.ValidateSharedSecret("s3cret") {
			t.Fatalf("ValidateSharedSecret attempt %d failed, secrets are reusable", i)
		}
	}
	if p.ValidateSharedSecret("wrong") {
		t.Error("wrong secret validated")
	}
	if !p.IsApproved("companion-1-a") {
		t.Error("node not approved after Approve")
	}

	p.Remove("companion-1-a")
	if p.ValidateSharedSecret("s3cret") {
		t.Error("secret still valid after Remove")
	}
}
