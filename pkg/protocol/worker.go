package protocol

import "encoding/json"

// Worker request types.
const (
	WorkerTurn   = "turn"
	WorkerResume = "resume"
	WorkerPing   = "ping"
)

// Worker response types.
const (
	WorkerResponse = "response"
	WorkerError    = "error"
	WorkerPong     = "pong"
	WorkerStream   = "stream"
)

// WorkerRequest is one line-delimited JSON frame sent to the agent worker
// over /ws. ID correlates the eventual response.
type WorkerRequest struct {
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	SessionID string            `json:"session_id,omitempty"`
	Text      string            `json:"text,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Decisions map[string]string `json:"decisions,omitempty"`
}

// WorkerFrame is one line-delimited JSON frame received from the worker.
// Stream frames carry the request ID of the turn they belong to but do not
// terminate it.
type WorkerFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"error_type,omitempty"`
}

// UsageInfo is the worker's authoritative billing record for one turn.
type UsageInfo struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	LatencyMS    int64  `json:"latency_ms,omitempty"`
}

// Interrupt signals that the agent needs human approval before proceeding.
// The router surfaces Question through the channel and resumes the turn with
// the user's decision keyed by ID.
type Interrupt struct {
	ID       string `json:"id"`
	Question string `json:"question"`
}

// TurnData is the payload of a "response" frame for a turn or resume call.
type TurnData struct {
	Text      string     `json:"text"`
	Interrupt *Interrupt `json:"interrupt,omitempty"`
	Usage     *UsageInfo `json:"usage,omitempty"`
}
