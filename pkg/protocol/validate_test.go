package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeFrame_RequiredFields(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantField string // empty = expect success
	}{
		{
			name:      "missing type",
			raw:       `{"timestamp":1700000000000}`,
			wantField: "type",
		},
		{
			name:      "missing timestamp",
			raw:       `{"type":"heartbeat","nodeId":"n1"}`,
			wantField: "timestamp",
		},
		{
			name:      "timestamp wrong type",
			raw:       `{"type":"heartbeat","timestamp":"now","nodeId":"n1"}`,
			wantField: "timestamp",
		},
		{
			name:      "not json",
			raw:       `garbage`,
			wantField: "frame",
		},
		{
			name: "heartbeat ok",
			raw:  `{"type":"heartbeat","timestamp":1700000000000,"nodeId":"n1"}`,
		},
		{
			name:      "heartbeat missing nodeId",
			raw:       `{"type":"heartbeat","timestamp":1700000000000}`,
			wantField: "nodeId",
		},
		{
			name: "register ok",
			raw: `{"type":"register","timestamp":1,"payload":{"name":"mac",` +
				`"capabilities":["audio_output"],"platform":{"os":"darwin"}}}`,
		},
		{
			name:      "register missing name",
			raw:       `{"type":"register","timestamp":1,"payload":{"capabilities":[],"platform":{}}}`,
			wantField: "payload.name",
		},
		{
			name:      "register missing capabilities",
			raw:       `{"type":"register","timestamp":1,"payload":{"name":"mac","platform":{}}}`,
			wantField: "payload.capabilities",
		},
		{
			name: "register unknown capability",
			raw: `{"type":"register","timestamp":1,"payload":{"name":"mac",` +
				`"capabilities":["teleport"],"platform":{"os":"linux"}}}`,
			wantField: "payload.capabilities",
		},
		{
			name:      "register capabilities wrong type",
			raw:       `{"type":"register","timestamp":1,"payload":{"name":"mac","capabilities":"all","platform":{}}}`,
			wantField: "payload.capabilities",
		},
		{
			name:      "register missing platform",
			raw:       `{"type":"register","timestamp":1,"payload":{"name":"mac","capabilities":[]}}`,
			wantField: "payload.platform",
		},
		{
			name: "action request ok",
			raw: `{"type":"action:request","timestamp":1,"nodeId":"n1",` +
				`"payload":{"requestId":"r1","action":"play","params":{}}}`,
		},
		{
			name:      "action request missing requestId",
			raw:       `{"type":"action:request","timestamp":1,"nodeId":"n1","payload":{"action":"play","params":{}}}`,
			wantField: "payload.requestId",
		},
		{
			name:      "action request missing params",
			raw:       `{"type":"action:request","timestamp":1,"nodeId":"n1","payload":{"requestId":"r1","action":"play"}}`,
			wantField: "payload.params",
		},
		{
			name: "action response ok",
			raw: `{"type":"action:response","timestamp":1,"nodeId":"n1",` +
				`"payload":{"requestId":"r1","success":true,"result":"ok"}}`,
		},
		{
			name:      "action response success wrong type",
			raw:       `{"type":"action:response","timestamp":1,"nodeId":"n1","payload":{"requestId":"r1","success":"yes"}}`,
			wantField: "payload.success",
		},
		{
			name: "capability update ok",
			raw:  `{"type":"capability:update","timestamp":1,"nodeId":"n1","payload":{"capabilities":["camera"]}}`,
		},
		{
			name:      "error frame missing code",
			raw:       `{"type":"error","timestamp":1,"payload":{"message":"boom"}}`,
			wantField: "payload.code",
		},
		{
			name: "disconnect ok without payload",
			raw:  `{"type":"disconnect","timestamp":1,"nodeId":"n1"}`,
		},
		{
			name: "unknown type passes validation",
			raw:  `{"type":"telemetry","timestamp":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeFrame([]byte(tt.raw))
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("DecodeFrame() unexpected error: %v", err)
				}
				if frame == nil {
					t.Fatal("DecodeFrame() returned nil frame without error")
				}
				return
			}
			if err == nil {
				t.Fatalf("DecodeFrame() expected failure on %s, got frame %+v", tt.wantField, frame)
			}
			var fe *ValidationError
			if !errors.As(err, &fe) {
				t.Fatalf("DecodeFrame() error is %T, want *ValidationError", err)
			}
			if fe.Field != tt.wantField {
				t.Errorf("ValidationError.Field = %q, want %q", fe.Field, tt.wantField)
			}
			if !strings.Contains(fe.Error(), InvalidMessageCode) {
				t.Errorf("error string %q missing %s", fe.Error(), InvalidMessageCode)
			}
		})
	}
}

func TestValidCapability(t *testing.T) {
	for _, c := range []Capability{CapCamera, CapScreenCapture, CapAudioOutput} {
		if !ValidCapability(c) {
			t.Errorf("ValidCapability(%q) = false, want true", c)
		}
	}
	if ValidCapability("time_travel") {
		t.Error(`ValidCapability("time_travel") = true, want false`)
	}
}
