package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// TLS serves the public listener. Insecure=true drops to plain HTTP for
	// local development only.
	TLSCertFile string
	TLSKeyFile  string
	Insecure    bool

	// Per-IP WebSocket connection budget.
	ConnRate  float64
	ConnBurst float64

	// Per-room-per-client message budget.
	MsgRate  float64
	MsgBurst float64

	LimiterIdleAfter  time.Duration
	LimiterSweepEvery time.Duration
	RoomIdleGrace     time.Duration
	RoomSweepEvery    time.Duration
	InviteTTL         time.Duration
	InviteSweepEvery  time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteTimeout      time.Duration
	MaxFrameBytes     int64
	SendQueueSize     int

	// Security policy:
	// If true, HUSH_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and invite-token
	// hashing must be HMAC-based.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:    EnvString("HUSH_HTTP_ADDR", "0.0.0.0:8443"),
		MetricsAddr: EnvString("HUSH_METRICS_ADDR", "127.0.0.1:9090"),
		LogLevel:    EnvString("HUSH_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("HUSH_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("HUSH_HTTP_READ_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("HUSH_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("HUSH_HTTP_MAX_HEADER_BYTES", 1<<20),

		TLSCertFile: EnvString("HUSH_TLS_CERT", ""),
		TLSKeyFile:  EnvString("HUSH_TLS_KEY", ""),
		Insecure:    EnvBool("HUSH_INSECURE", false),

		ConnRate:  EnvFloat("HUSH_CONN_RATE", 10),
		ConnBurst: EnvFloat("HUSH_CONN_BURST", 20),

		MsgRate:  EnvFloat("HUSH_MSG_RATE", 25),
		MsgBurst: EnvFloat("HUSH_MSG_BURST", 50),

		LimiterIdleAfter:  EnvDuration("HUSH_LIMITER_IDLE_AFTER", 5*time.Minute),
		LimiterSweepEvery: EnvDuration("HUSH_LIMITER_SWEEP_EVERY", time.Minute),
		RoomIdleGrace:     EnvDuration("HUSH_ROOM_IDLE_GRACE", 5*time.Minute),
		RoomSweepEvery:    EnvDuration("HUSH_ROOM_SWEEP_EVERY", time.Minute),
		InviteTTL:         EnvDuration("HUSH_INVITE_TTL", 24*time.Hour),
		InviteSweepEvery:  EnvDuration("HUSH_INVITE_SWEEP_EVERY", 5*time.Minute),
		HeartbeatInterval: EnvDuration("HUSH_HEARTBEAT_INTERVAL", 3*time.Second),
		HeartbeatTimeout:  EnvDuration("HUSH_HEARTBEAT_TIMEOUT", 6*time.Second),
		WriteTimeout:      EnvDuration("HUSH_WS_WRITE_TIMEOUT", 5*time.Second),
		MaxFrameBytes:     EnvInt64("HUSH_MAX_FRAME_BYTES", 50<<20),
		SendQueueSize:     EnvInt("HUSH_SEND_QUEUE_SIZE", 32),

		RequireTokenHMAC: EnvBool("HUSH_REQUIRE_TOKEN_HMAC", false),
	}
}
