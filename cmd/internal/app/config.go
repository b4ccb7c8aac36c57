package app

import (
	"time"

	"lumora/cmd/internal/chat"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Completion service.
	CompletionURL      string
	CompletionTimeout  time.Duration
	CompletionAttempts int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration

	// Realtime channel.
	WSOriginRequired bool
	WSAllowedOrigins []string
	WSSendQueueSize  int
	WSWriteTimeout   time.Duration
	WSReadIdle       time.Duration
	WSHeartbeat      time.Duration
	WSHeartbeatWait  time.Duration
	WSRateEvents     int
	WSRateWindow     time.Duration
	WSDevInsecure    bool

	// ShutdownGrace bounds graceful shutdown, including waiting for
	// in-flight completion workflows.
	ShutdownGrace time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("LUMORA_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("LUMORA_LOG_LEVEL", "info"),
		LogFormat: EnvString("LUMORA_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("LUMORA_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		IdleTimeout:       EnvDuration("LUMORA_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("LUMORA_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("LUMORA_DATABASE_URL", ""),
		DBSchema:    EnvString("LUMORA_DB_SCHEMA", "lumora"),
		DBMaxConns:  EnvInt32("LUMORA_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("LUMORA_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("LUMORA_READINESS_REQUIRE_DB", false),

		CompletionURL:      EnvString("LUMORA_COMPLETION_URL", ""),
		CompletionTimeout:  EnvDuration("LUMORA_COMPLETION_TIMEOUT", 30*time.Second),
		CompletionAttempts: EnvInt("LUMORA_COMPLETION_ATTEMPTS", 3),
		RetryBaseDelay:     EnvDuration("LUMORA_COMPLETION_RETRY_BASE", 500*time.Millisecond),
		RetryMaxDelay:      EnvDuration("LUMORA_COMPLETION_RETRY_MAX", 10*time.Second),

		WSOriginRequired: EnvBool("LUMORA_WS_ORIGIN_REQUIRED", true),
		WSAllowedOrigins: EnvCSV("LUMORA_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1,http://localhost:5173"),
		WSSendQueueSize:  EnvInt("LUMORA_WS_SEND_QUEUE", 256),
		WSWriteTimeout:   EnvDuration("LUMORA_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadIdle:       EnvDuration("LUMORA_WS_READ_IDLE_TIMEOUT", 2*time.Minute),
		WSHeartbeat:      EnvDuration("LUMORA_WS_HEARTBEAT_INTERVAL", 25*time.Second),
		WSHeartbeatWait:  EnvDuration("LUMORA_WS_HEARTBEAT_TIMEOUT", 5*time.Second),
		WSRateEvents:     EnvInt("LUMORA_WS_RATE_EVENTS", 120),
		WSRateWindow:     EnvDuration("LUMORA_WS_RATE_WINDOW", 10*time.Second),
		WSDevInsecure:    EnvBool("LUMORA_WS_DEV_INSECURE", false),

		ShutdownGrace: EnvDuration("LUMORA_SHUTDOWN_GRACE", 10*time.Second),
	}
}

// RelayConfig derives the relay engine configuration.
func (c Config) RelayConfig() chat.RelayConfig {
	return chat.RelayConfig{
		CompletionTimeout:  c.CompletionTimeout,
		CompletionAttempts: c.CompletionAttempts,
		RetryBaseDelay:     c.RetryBaseDelay,
		RetryMaxDelay:      c.RetryMaxDelay,
	}
}

// WSConfig derives the realtime gateway configuration.
func (c Config) WSConfig() chat.WSConfig {
	return chat.WSConfig{
		OriginRequired:    c.WSOriginRequired,
		AllowedOrigins:    c.WSAllowedOrigins,
		DevInsecure:       c.WSDevInsecure,
		WriteTimeout:      c.WSWriteTimeout,
		ReadIdleTimeout:   c.WSReadIdle,
		SendQueueSize:     c.WSSendQueueSize,
		HeartbeatInterval: c.WSHeartbeat,
		HeartbeatTimeout:  c.WSHeartbeatWait,
		RateEvents:        c.WSRateEvents,
		RateWindow:        c.WSRateWindow,
	}
}
