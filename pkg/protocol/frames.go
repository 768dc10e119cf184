// Package protocol defines the wire grammar spoken by the gateway: the
// companion-node frame schema carried over the node WebSocket, and the
// line-delimited request/response frames exchanged with the agent worker.
//
// Both sides are JSON. Node frames always carry {type, timestamp, nodeId?,
// payload?}; worker frames correlate by request id. The schema is closed:
// unknown frame types are ignored by the connection managers and unknown
// capability strings are rejected at validation.
package protocol

import "encoding/json"

// ProtocolVersion is bumped on any breaking change to the frame grammar.
const ProtocolVersion = 1

// Node frame types.
const (
	FrameRegister         = "register"
	FrameRegisterAck      = "register:ack"
	FrameHeartbeat        = "heartbeat"
	FrameHeartbeatAck     = "heartbeat:ack"
	FrameActionRequest    = "action:request"
	FrameActionResponse   = "action:response"
	FrameCapabilityUpdate = "capability:update"
	FrameDisconnect       = "disconnect"
	FrameError            = "error"
)

// NodeFrame is the envelope for every message on the companion WebSocket.
// Timestamp is unix milliseconds.
type NodeFrame struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	NodeID    string          `json:"nodeId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// PlatformInfo describes the host a node runs on.
type PlatformInfo struct {
	OS      string `json:"os"`
	Version string `json:"version,omitempty"`
	Arch    string `json:"arch,omitempty"`
}

// RegisterPayload is sent by a companion to authenticate and announce itself.
// AuthToken carries either a one-shot pairing code or a shared secret.
type RegisterPayload struct {
	Name         string       `json:"name"`
	Capabilities []Capability `json:"capabilities"`
	Platform     PlatformInfo `json:"platform"`
	AuthToken    string       `json:"authToken,omitempty"`
}

// RegisterAckPayload is the gateway's answer to a register frame. On a
// successful first pairing, SharedSecret carries the credential the
// companion must present on reconnect.
type RegisterAckPayload struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
	SharedSecret string `json:"sharedSecret,omitempty"`
}

// ActionRequestPayload asks a companion to perform an action. TimeoutMS is
// advisory for the companion; the gateway enforces its own deadline.
type ActionRequestPayload struct {
	RequestID string         `json:"requestId"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	TimeoutMS int64          `json:"timeout,omitempty"`
}

// ActionResponsePayload carries the outcome of an action:request, correlated
// by RequestID.
type ActionResponsePayload struct {
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// CapabilityUpdatePayload replaces a node's advertised capability set.
type CapabilityUpdatePayload struct {
	Capabilities []Capability `json:"capabilities"`
}

// DisconnectPayload optionally explains a graceful disconnect.
type DisconnectPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ErrorPayload is a diagnostic frame; it never closes the socket.
type ErrorPayload struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// NewFrame builds a node frame with the payload marshaled in. Marshal errors
// are impossible for the payload types above and are swallowed.
func NewFrame(frameType string, nodeID string, payload any, nowMS int64) NodeFrame {
	f := NodeFrame{Type: frameType, Timestamp: nowMS, NodeID: nodeID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			f.Payload = raw
		}
	}
	return f
}
