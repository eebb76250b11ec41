package relay

import (
	"bytes"
	"testing"

	"github.com/coder/websocket"
)

func TestIsHeartbeat(t *testing.T) {
	cases := []struct {
		name string
		kind websocket.MessageType
		data []byte
		want bool
	}{
		{"plain heartbeat", websocket.MessageText, []byte(`{"type":"heartbeat"}`), true},
		{"heartbeat with extra fields", websocket.MessageText, []byte(`{"type":"heartbeat","seq":42}`), true},
		{"other control type", websocket.MessageText, []byte(`{"type":"hello"}`), false},
		{"binary frame never matches", websocket.MessageBinary, []byte(`{"type":"heartbeat"}`), false},
		{"ciphertext that is not json", websocket.MessageText, []byte("not json at all"), false},
		{"empty frame", websocket.MessageText, nil, false},
		{"oversized control frame", websocket.MessageText, bytes.Repeat([]byte("a"), maxControlBytes+1), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isHeartbeat(tc.kind, tc.data); got != tc.want {
				t.Fatalf("isHeartbeat(%v, %q) = %v, want %v", tc.kind, tc.data, got, tc.want)
			}
		})
	}
}

func TestShortRef(t *testing.T) {
	if got := shortRef("abcdefghij"); got != "abcdefgh..." {
		t.Fatalf("shortRef long = %q", got)
	}
	if got := shortRef("short"); got != "short" {
		t.Fatalf("shortRef short = %q", got)
	}
}
