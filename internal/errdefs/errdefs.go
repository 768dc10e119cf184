// Package errdefs is the process-wide catalog of gateway error kinds.
//
// Every error that crosses a component boundary carries a stable code of the
// form "[SERVICE]-[CATEGORY]-[NNN]" plus its HTTP mapping and a retryable
// flag. The catalog is immutable after init; codes are part of the external
// contract and must never change meaning between versions.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Definition describes one error kind.
type Definition struct {
	Code       string
	Message    string
	HTTPStatus int
	Retryable  bool
}

// Error is a structured gateway error. Details is opaque context for
// operators; it is never interpreted.
type Error struct {
	Definition
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Gateway error codes.
const (
	// AUTH: admission failures, terminal for the affected message.
	CodeAuthPairingInvalid = "GW-AUTH-001"
	CodeAuthPairingExpired = "GW-AUTH-002"
	CodeAuthNotPaired      = "GW-AUTH-003"
	CodeAuthNotAllowed     = "GW-AUTH-004"

	// SESS: session identity.
	CodeSessionNotFound  = "GW-SESS-001"
	CodeSessionExpired   = "GW-SESS-002"
	CodeSessionBadID     = "GW-SESS-003"
	CodeSessionOwnership = "GW-SESS-004"

	// CHAN: channel adapters.
	CodeChannelNotFound     = "GW-CHAN-001"
	CodeChannelNotConnected = "GW-CHAN-002"
	CodeChannelUnsupported  = "GW-CHAN-003"
	CodeChannelSendFailed   = "GW-CHAN-004"

	// NODE: companion nodes.
	CodeNodeNotFound          = "GW-NODE-001"
	CodeNodeDisconnected      = "GW-NODE-002"
	CodeNodeMissingCapability = "GW-NODE-003"
	CodeNodeActionTimeout     = "GW-NODE-004"

	// SCHED: surfaced from the scheduler collaborator, not reinterpreted.
	CodeSchedulerUnavailable = "GW-SCHED-001"

	// API: worker transport.
	CodeWorkerUnavailable = "GW-API-001"
	CodeWorkerTimeout     = "GW-API-002"
	CodeBadRequest        = "GW-API-003"
	CodeRateLimited       = "GW-API-004"

	// INT: catch-all.
	CodeInternal = "GW-INT-001"
)

// Agent-side codes, surfaced upward from the worker without reinterpretation.
const (
	CodeSkillNotFound = "AG-SKILL-001"
	CodeSkillParse    = "AG-SKILL-002"
	CodeMemoryFailure = "AG-MEM-001"
	CodeToolNotFound  = "AG-TOOL-001"
	CodeToolFailed    = "AG-TOOL-002"
	CodeProviderError = "AG-API-001"
	CodeAgentInternal = "AG-INT-001"
)

var definitions = map[string]Definition{
	CodeAuthPairingInvalid: {CodeAuthPairingInvalid, "Invalid pairing code", http.StatusUnauthorized, false},
	CodeAuthPairingExpired: {CodeAuthPairingExpired, "Pairing code expired", http.StatusUnauthorized, false},
	CodeAuthNotPaired:      {CodeAuthNotPaired, "Session is not paired", http.StatusForbidden, false},
	CodeAuthNotAllowed:     {CodeAuthNotAllowed, "Sender is not in the allowlist", http.StatusForbidden, false},

	CodeSessionNotFound:  {CodeSessionNotFound, "Session not found", http.StatusNotFound, false},
	CodeSessionExpired:   {CodeSessionExpired, "Session expired", http.StatusGone, false},
	CodeSessionBadID:     {CodeSessionBadID, "Malformed session id", http.StatusBadRequest, false},
	CodeSessionOwnership: {CodeSessionOwnership, "Session ownership mismatch", http.StatusForbidden, false},

	CodeChannelNotFound:     {CodeChannelNotFound, "Channel not found", http.StatusNotFound, false},
	CodeChannelNotConnected: {CodeChannelNotConnected, "Channel adapter is not connected", http.StatusServiceUnavailable, false},
	CodeChannelUnsupported:  {CodeChannelUnsupported, "Operation not supported by channel", http.StatusBadRequest, false},
	CodeChannelSendFailed:   {CodeChannelSendFailed, "Channel send failed", http.StatusBadGateway, true},

	CodeNodeNotFound:          {CodeNodeNotFound, "Node not found", http.StatusNotFound, false},
	CodeNodeDisconnected:      {CodeNodeDisconnected, "Node disconnected", http.StatusBadGateway, false},
	CodeNodeMissingCapability: {CodeNodeMissingCapability, "No node offers the required capability", http.StatusNotFound, false},
	CodeNodeActionTimeout:     {CodeNodeActionTimeout, "Node action timed out", http.StatusGatewayTimeout, true},

	CodeSchedulerUnavailable: {CodeSchedulerUnavailable, "Scheduler unavailable", http.StatusServiceUnavailable, true},

	CodeWorkerUnavailable: {CodeWorkerUnavailable, "Agent worker unavailable", http.StatusServiceUnavailable, true},
	CodeWorkerTimeout:     {CodeWorkerTimeout, "Agent worker request timed out", http.StatusGatewayTimeout, true},
	CodeBadRequest:        {CodeBadRequest, "Bad request", http.StatusBadRequest, false},
	CodeRateLimited:       {CodeRateLimited, "Too many requests", http.StatusTooManyRequests, true},

	CodeInternal: {CodeInternal, "Internal error", http.StatusInternalServerError, false},

	CodeSkillNotFound: {CodeSkillNotFound, "Skill not found", http.StatusNotFound, false},
	CodeSkillParse:    {CodeSkillParse, "Skill definition is invalid", http.StatusUnprocessableEntity, false},
	CodeMemoryFailure: {CodeMemoryFailure, "Memory backend failure", http.StatusServiceUnavailable, true},
	CodeToolNotFound:  {CodeToolNotFound, "Tool not found", http.StatusNotFound, false},
	CodeToolFailed:    {CodeToolFailed, "Tool execution failed", http.StatusBadGateway, false},
	CodeProviderError: {CodeProviderError, "LLM provider error", http.StatusBadGateway, true},
	CodeAgentInternal: {CodeAgentInternal, "Agent internal error", http.StatusInternalServerError, false},
}

// GetDefinition returns the catalog entry for code. Unknown codes yield a
// synthetic terminal definition so callers never need a nil check.
func GetDefinition(code string) Definition {
	if def, ok := definitions[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unknown error", HTTPStatus: http.StatusInternalServerError, Retryable: false}
}

// New creates a structured error for code with optional opaque details.
func New(code string, details any) *Error {
	return &Error{Definition: GetDefinition(code), Details: details}
}

// Wrap creates a structured error for code with an underlying cause.
func Wrap(code string, cause error) *Error {
	return &Error{Definition: GetDefinition(code), cause: cause}
}

// IsRetryable reports the retryable flag for code.
func IsRetryable(code string) bool { return GetDefinition(code).Retryable }

// AsError extracts a structured error from an error chain. Anything that is
// not already structured is wrapped as GW-INT-001 so handlers never mask a
// known code and unknown failures become the internal catch-all.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(CodeInternal, err)
}
