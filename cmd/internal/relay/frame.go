package relay

import (
	"encoding/json"

	"github.com/coder/websocket"
)

// Frame is one opaque relayed message. Data is never parsed beyond the
// heartbeat discriminator; Kind preserves the text/binary distinction so the
// counterpart receives exactly what the sender put on the wire.
type Frame struct {
	Kind websocket.MessageType
	Data []byte
}

const (
	controlTypeHeartbeat = "heartbeat"

	// Control messages are tiny; anything larger is payload and must not be
	// JSON-decoded (payloads are opaque encrypted blobs).
	maxControlBytes = 512
)

type controlMessage struct {
	Type string `json:"type"`
}

// isHeartbeat reports whether a frame is the heartbeat control message: a
// small text frame carrying a JSON object whose "type" field says so.
func isHeartbeat(kind websocket.MessageType, data []byte) bool {
	if kind != websocket.MessageText || len(data) > maxControlBytes {
		return false
	}
	var m controlMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	return m.Type == controlTypeHeartbeat
}
