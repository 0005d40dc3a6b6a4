package config

import "time"

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Relay    RelaySettings  `yaml:"relay"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	History  HistoryConfig  `yaml:"history"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this relay.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the public HTTP listener settings.
// The REST API and the WebSocket upgrade share this listener.
type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	StaticDir         string        `yaml:"static_dir"` // Optional directory served at / for non-API paths
}

// RelaySettings holds WebSocket relay settings.
type RelaySettings struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	ReadLimit         int64         `yaml:"read_limit"`      // Max inbound frame size in bytes
	AllowedOrigins    []string      `yaml:"allowed_origins"` // Empty = allow any origin
}

// Authorization modes for upgrade requests.
const (
	AuthModeReference = "reference" // BadAuth header check; always allows (see relay.ReferenceAuthorizer)
	AuthModeHeader    = "header"    // Require a header to be present
	AuthModeSignature = "signature" // Require RSA-PSS signed upgrade headers
)

// AuthConfig selects the upgrade authorization policy.
type AuthConfig struct {
	Mode          string        `yaml:"mode"`
	Header        string        `yaml:"header"`          // Header name for "header" mode
	KeyID         string        `yaml:"key_id"`          // Expected key ID for "signature" mode
	PublicKeyPath string        `yaml:"public_key_path"` // RSA public key PEM for "signature" mode
	MaxSkew       time.Duration `yaml:"max_skew"`        // Allowed timestamp drift for "signature" mode
}

// DatabaseConfig holds the PostgreSQL connection for message history.
// When Enabled is false the relay keeps history in memory.
type DatabaseConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HistoryConfig holds message history settings.
type HistoryConfig struct {
	Limit           int           `yaml:"limit"`            // Messages returned by GET /api/v1/database
	Capacity        int           `yaml:"capacity"`         // In-memory store capacity
	BreakerFailures int           `yaml:"breaker_failures"` // Consecutive failures before the breaker opens
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`  // Time the breaker stays open
}

// MetricsConfig holds Prometheus metrics and health settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
