package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Relay.HeartbeatInterval <= 0 {
		return errors.New("relay.heartbeat_interval must be > 0")
	}
	if c.Relay.WriteTimeout <= 0 {
		return errors.New("relay.write_timeout must be > 0")
	}
	if c.Relay.ReadLimit < 1 {
		return errors.New("relay.read_limit must be >= 1")
	}

	switch c.Auth.Mode {
	case AuthModeReference:
	case AuthModeHeader:
		if c.Auth.Header == "" {
			return errors.New("auth.header is required for header mode")
		}
	case AuthModeSignature:
		if c.Auth.KeyID == "" {
			return errors.New("auth.key_id is required for signature mode")
		}
		if c.Auth.PublicKeyPath == "" {
			return errors.New("auth.public_key_path is required for signature mode")
		}
	default:
		return fmt.Errorf("auth.mode must be one of reference, header, signature, got %q", c.Auth.Mode)
	}

	if c.Database.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if c.History.Limit < 1 {
		return errors.New("history.limit must be >= 1")
	}
	if c.History.Capacity < c.History.Limit {
		return fmt.Errorf("history.capacity (%d) cannot be less than history.limit (%d)", c.History.Capacity, c.History.Limit)
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if c.Metrics.Port == c.Server.Port {
		return fmt.Errorf("metrics.port cannot equal server.port (%d)", c.Server.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
