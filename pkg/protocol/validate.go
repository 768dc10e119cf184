package protocol

import (
	"encoding/json"
	"fmt"
)

// InvalidMessageCode is the error code attached to every frame validation
// failure. The connection manager reports it to the peer in an error frame
// without closing the socket.
const InvalidMessageCode = "INVALID_MESSAGE"

// ValidationError describes why a frame failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", InvalidMessageCode, e.Field, e.Reason)
}

func frameErr(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// DecodeFrame parses and validates a raw node frame. It fails fast on the
// first missing or wrong-typed field; validation happens before any side
// effect in the connection manager. A nil error means the frame satisfies
// the per-type required-field table.
func DecodeFrame(data []byte) (*NodeFrame, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, frameErr("frame", "not a JSON object")
	}

	frameType, err := requireString(raw, "type")
	if err != nil {
		return nil, err
	}
	if _, err := requireNumber(raw, "timestamp"); err != nil {
		return nil, err
	}

	var f NodeFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, frameErr("frame", "malformed fields")
	}

	switch frameType {
	case FrameRegister:
		return &f, validateRegister(f.Payload)
	case FrameRegisterAck:
		if f.NodeID == "" {
			return nil, frameErr("nodeId", "required")
		}
		return &f, validateRegisterAck(f.Payload)
	case FrameHeartbeat, FrameHeartbeatAck:
		if f.NodeID == "" {
			return nil, frameErr("nodeId", "required")
		}
		return &f, nil
	case FrameActionRequest:
		if f.NodeID == "" {
			return nil, frameErr("nodeId", "required")
		}
		return &f, validateActionRequest(f.Payload)
	case FrameActionResponse:
		if f.NodeID == "" {
			return nil, frameErr("nodeId", "required")
		}
		return &f, validateActionResponse(f.Payload)
	case FrameCapabilityUpdate:
		if f.NodeID == "" {
			return nil, frameErr("nodeId", "required")
		}
		return &f, validateCapabilityUpdate(f.Payload)
	case FrameDisconnect:
		if f.NodeID == "" {
			return nil, frameErr("nodeId", "required")
		}
		return &f, nil
	case FrameError:
		return &f, validateErrorPayload(f.Payload)
	default:
		// Unknown types pass validation; the manager logs and ignores them.
		return &f, nil
	}
}

func validateRegister(payload json.RawMessage) error {
	obj, err := requireObject(payload, "payload")
	if err != nil {
		return err
	}
	if _, err := requireString(obj, "payload.name"); err != nil {
		return err
	}
	capsRaw, ok := obj["capabilities"]
	if !ok {
		return frameErr("payload.capabilities", "required")
	}
	var caps []Capability
	if err := json.Unmarshal(capsRaw, &caps); err != nil {
		return frameErr("payload.capabilities", "must be an array of strings")
	}
	for _, c := range caps {
		if !ValidCapability(c) {
			return frameErr("payload.capabilities", fmt.Sprintf("unknown capability %q", c))
		}
	}
	platRaw, ok := obj["platform"]
	if !ok {
		return frameErr("payload.platform", "required")
	}
	var plat map[string]json.RawMessage
	if err := json.Unmarshal(platRaw, &plat); err != nil {
		return frameErr("payload.platform", "must be an object")
	}
	return nil
}

func validateRegisterAck(payload json.RawMessage) error {
	obj, err := requireObject(payload, "payload")
	if err != nil {
		return err
	}
	if _, err := requireBool(obj, "payload.success"); err != nil {
		return err
	}
	return nil
}

func validateActionRequest(payload json.RawMessage) error {
	obj, err := requireObject(payload, "payload")
	if err != nil {
		return err
	}
	if _, err := requireString(obj, "payload.requestId"); err != nil {
		return err
	}
	if _, err := requireString(obj, "payload.action"); err != nil {
		return err
	}
	if _, ok := obj["params"]; !ok {
		return frameErr("payload.params", "required")
	}
	return nil
}

func validateActionResponse(payload json.RawMessage) error {
	obj, err := requireObject(payload, "payload")
	if err != nil {
		return err
	}
	if _, err := requireString(obj, "payload.requestId"); err != nil {
		return err
	}
	if _, err := requireBool(obj, "payload.success"); err != nil {
		return err
	}
	return nil
}

func validateCapabilityUpdate(payload json.RawMessage) error {
	obj, err := requireObject(payload, "payload")
	if err != nil {
		return err
	}
	capsRaw, ok := obj["capabilities"]
	if !ok {
		return frameErr("payload.capabilities", "required")
	}
	var caps []Capability
	if err := json.Unmarshal(capsRaw, &caps); err != nil {
		return frameErr("payload.capabilities", "must be an array of strings")
	}
	for _, c := range caps {
		if !ValidCapability(c) {
			return frameErr("payload.capabilities", fmt.Sprintf("unknown capability %q", c))
		}
	}
	return nil
}

func validateErrorPayload(payload json.RawMessage) error {
	obj, err := requireObject(payload, "payload")
	if err != nil {
		return err
	}
	if _, err := requireString(obj, "payload.code"); err != nil {
		return err
	}
	if _, err := requireString(obj, "payload.message"); err != nil {
		return err
	}
	return nil
}

// --- low-level field checks -------------------------------------------------

// requireObject unwraps a payload into its keys, distinguishing "absent"
// from "present but not an object".
func requireObject(payload json.RawMessage, field string) (map[string]json.RawMessage, error) {
	if len(payload) == 0 {
		return nil, frameErr(field, "required")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, frameErr(field, "must be an object")
	}
	return obj, nil
}

func requireString(obj map[string]json.RawMessage, field string) (string, error) {
	raw, ok := obj[keyOf(field)]
	if !ok {
		return "", frameErr(field, "required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", frameErr(field, "must be a string")
	}
	if s == "" {
		return "", frameErr(field, "must be non-empty")
	}
	return s, nil
}

func requireBool(obj map[string]json.RawMessage, field string) (bool, error) {
	raw, ok := obj[keyOf(field)]
	if !ok {
		return false, frameErr(field, "required")
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, frameErr(field, "must be a boolean")
	}
	return b, nil
}

func requireNumber(obj map[string]json.RawMessage, field string) (float64, error) {
	raw, ok := obj[keyOf(field)]
	if !ok {
		return 0, frameErr(field, "required")
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, frameErr(field, "must be a number")
	}
	return n, nil
}

// keyOf strips the "payload." prefix used in error messages.
func keyOf(field string) string {
	for i := len(field) - 1; i >= 0; i-- {
		if field[i] == '.' {
			return field[i+1:]
		}
	}
	return field
}
