package relay

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
)

// newRoomID returns a ULID room identifier. 80 bits of entropy makes room
// squatting impractical; the invite token remains the real capability.
func newRoomID(now time.Time) string {
	return newULID(now)
}

// newConnID returns a ULID connection identifier, unique per process.
// ULIDs are preferable to random hex for ordering in logs.
func newConnID(now time.Time) string {
	return newULID(now)
}

func newULID(now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now.UTC()), entropy)
	if err != nil {
		// crypto/rand failing is effectively unreachable; fall back to a
		// plain random hex ID rather than propagate an error nobody can
		// handle.
		return randomHex(16)
	}
	return id.String()
}

func randomHex(nBytes int) string {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

// shortRef truncates an identifier for logging. Room IDs, connection IDs and
// tokens never appear whole in logs.
func shortRef(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8] + "..."
}
