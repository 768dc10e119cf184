package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// TestCodeStability pins the external contract: code strings, HTTP mappings
// and retryable flags must not drift between versions.
func TestCodeStability(t *testing.T) {
	tests := []struct {
		code      string
		status    int
		retryable bool
	}{
		{"GW-AUTH-001", http.StatusUnauthorized, false},
		{"GW-AUTH-002", http.StatusUnauthorized, false},
		{"GW-AUTH-003", http.StatusForbidden, false},
		{"GW-SESS-001", http.StatusNotFound, false},
		{"GW-CHAN-004", http.StatusBadGateway, true},
		{"GW-NODE-002", http.StatusBadGateway, false},
		{"GW-NODE-004", http.StatusGatewayTimeout, true},
		{"GW-API-001", http.StatusServiceUnavailable, true},
		{"GW-API-002", http.StatusGatewayTimeout, true},
		{"GW-API-003", http.StatusBadRequest, false},
		{"GW-API-004", http.StatusTooManyRequests, true},
		{"GW-INT-001", http.StatusInternalServerError, false},
		{"AG-SKILL-001", http.StatusNotFound, false},
		{"AG-TOOL-002", http.StatusBadGateway, false},
		{"AG-API-001", http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			def := GetDefinition(tt.code)
			if def.Code != tt.code {
				t.Errorf("Code = %q, want %q", def.Code, tt.code)
			}
			if def.HTTPStatus != tt.status {
				t.Errorf("HTTPStatus = %d, want %d", def.HTTPStatus, tt.status)
			}
			if def.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", def.Retryable, tt.retryable)
			}
			if def.Message == "" {
				t.Error("Message is empty")
			}
			if IsRetryable(tt.code) != tt.retryable {
				t.Errorf("IsRetryable(%q) = %v, want %v", tt.code, !tt.retryable, tt.retryable)
			}
		})
	}
}

func TestUnknownCodeSynthetic(t *testing.T) {
	def := GetDefinition("GW-NOPE-999")
	if def.Code != "GW-NOPE-999" {
		t.Errorf("Code = %q, want the queried code", def.Code)
	}
	if def.Message != "Unknown error" {
		t.Errorf("Message = %q, want %q", def.Message, "Unknown error")
	}
	if def.HTTPStatus != http.StatusInternalServerError || def.Retryable {
		t.Errorf("synthetic definition = %+v, want 500/non-retryable", def)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("socket closed")
	err := Wrap(CodeWorkerUnavailable, cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("errors.As failed")
	}
	if e.Code != CodeWorkerUnavailable {
		t.Errorf("Code = %q, want %q", e.Code, CodeWorkerUnavailable)
	}
}

func TestAsErrorWrapsUnknown(t *testing.T) {
	plain := errors.New("boom")
	e := AsError(plain)
	if e.Code != CodeInternal {
		t.Errorf("AsError(plain).Code = %q, want %q", e.Code, CodeInternal)
	}
	if !errors.Is(e, plain) {
		t.Error("cause lost when wrapping as internal")
	}

	structured := New(CodeAuthNotPaired, nil)
	wrapped := fmt.Errorf("handling message: %w", structured)
	if got := AsError(wrapped); got.Code != CodeAuthNotPaired {
		t.Errorf("AsError masked code: got %q, want %q", got.Code, CodeAuthNotPaired)
	}
}
