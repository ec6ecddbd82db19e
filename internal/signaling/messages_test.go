package signaling

import (
	"strings"
	"testing"
)

func TestParseClientMessage_Valid(t *testing.T) {
	cases := []struct {
		name string
		data string
		want messageType
	}{
		{"join", `{"type":"join","room":"abc123","host":true}`, messageTypeJoin},
		{"join no host", `{"type":"join","room":"abc123"}`, messageTypeJoin},
		{"signal", `{"type":"signal","target":"h1","payload":{"sdp":{"type":"offer","sdp":"v=0"}}}`, messageTypeSignal},
		{"signal ice", `{"type":"signal","target":"h1","payload":{"ice":{"candidate":"candidate:1"}}}`, messageTypeSignal},
		{"chat", `{"type":"chat","text":"hi","displayName":"Ada"}`, messageTypeChat},
		{"end", `{"type":"end","room":"abc123"}`, messageTypeEnd},
		{"close", `{"type":"close"}`, messageTypeClose},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := parseClientMessage([]byte(tc.data))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if msg.Type != tc.want {
				t.Fatalf("type=%q, want %q", msg.Type, tc.want)
			}
		})
	}
}

func TestParseClientMessage_Invalid(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `hello`},
		{"unknown type", `{"type":"offer"}`},
		{"unknown field", `{"type":"join","room":"r","extra":1}`},
		{"trailing data", `{"type":"close"}{"type":"close"}`},
		{"join missing room", `{"type":"join","host":true}`},
		{"join with payload", `{"type":"join","room":"r","payload":{}}`},
		{"signal missing target", `{"type":"signal","payload":{}}`},
		{"signal missing payload", `{"type":"signal","target":"h1"}`},
		{"chat missing text", `{"type":"chat","displayName":"Ada"}`},
		{"end missing room", `{"type":"end"}`},
		{"client sets from", `{"type":"chat","text":"hi","from":"spoofed"}`},
		{"client sets members", `{"type":"join","room":"r","members":["a"]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseClientMessage([]byte(tc.data)); err == nil {
				t.Fatalf("expected parse error for %s", tc.data)
			}
		})
	}
}

func TestParseClientMessage_PayloadStaysOpaque(t *testing.T) {
	// Anything goes inside payload; the relay must not interpret it.
	raw := `{"type":"signal","target":"h1","payload":{"totally":"opaque","nested":[1,2,{"x":null}]}}`
	msg, err := parseClientMessage([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(string(msg.Payload), "opaque") {
		t.Fatalf("payload not preserved: %s", msg.Payload)
	}
}
