package relay

import "time"

// Security/performance limits. Overridable through GatewayConfig /
// RegistryConfig; these are the wire-facing defaults.
const (
	// Max bytes per websocket frame read (hard limit). Bounds the memory a
	// single sender can pin with one frame; larger frames are a protocol
	// violation and close the connection.
	defaultMaxFrameBytes = 50 << 20 // 50 MiB

	defaultSendQueueSize = 32
	minSendQueueSize     = 8

	defaultWriteTimeout = 5 * time.Second
)

const (
	// Heartbeat defaults. Deliberately short relative to human messaging
	// cadence: Tor-routed links do not surface half-open peers, so dead
	// circuits must be detected by the application protocol.
	defaultHeartbeatInterval = 3 * time.Second
	defaultHeartbeatTimeout  = 6 * time.Second
)

const (
	// Empty rooms (never joined, or leaked by a non-graceful teardown)
	// are reclaimed after this grace window.
	defaultRoomIdleGrace     = 5 * time.Minute
	defaultRoomSweepInterval = time.Minute

	defaultEventBuffer = 64
)
