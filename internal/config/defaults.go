package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID        = "relay"
	DefaultServerPort        = 4000
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultReadLimit         = 64 * 1024
	DefaultAuthMode          = AuthModeReference
	DefaultAuthHeader        = "Authorization"
	DefaultAuthMaxSkew       = 30 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultHistoryLimit      = 50
	DefaultHistoryCapacity   = 1000
	DefaultBreakerFailures   = 5
	DefaultBreakerTimeout    = 30 * time.Second
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
	DefaultLogLevel          = "info"
)

func (c *RelayConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Relay defaults
	if c.Relay.HeartbeatInterval == 0 {
		c.Relay.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Relay.WriteTimeout == 0 {
		c.Relay.WriteTimeout = DefaultWriteTimeout
	}
	if c.Relay.HandshakeTimeout == 0 {
		c.Relay.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Relay.ReadLimit == 0 {
		c.Relay.ReadLimit = DefaultReadLimit
	}

	// Auth defaults
	if c.Auth.Mode == "" {
		c.Auth.Mode = DefaultAuthMode
	}
	if c.Auth.Header == "" {
		c.Auth.Header = DefaultAuthHeader
	}
	if c.Auth.MaxSkew == 0 {
		c.Auth.MaxSkew = DefaultAuthMaxSkew
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// History defaults
	if c.History.Limit == 0 {
		c.History.Limit = DefaultHistoryLimit
	}
	if c.History.Capacity == 0 {
		c.History.Capacity = DefaultHistoryCapacity
	}
	if c.History.BreakerFailures == 0 {
		c.History.BreakerFailures = DefaultBreakerFailures
	}
	if c.History.BreakerTimeout == 0 {
		c.History.BreakerTimeout = DefaultBreakerTimeout
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
