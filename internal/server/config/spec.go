// Package config defines the server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for shardis-server.
type ServerConfig struct {
	Server  ServerSection  `koanf:"server"`
	Storage StorageSection `koanf:"storage"`
	Metrics MetricsSection `koanf:"metrics"`
	Log     LogSection     `koanf:"log"`
}

// ServerSection configures the Redis protocol listener.
type ServerSection struct {
	// Addr is the TCP listen address.
	Addr string `koanf:"addr"`

	// Handlers bounds the number of concurrently served connections.
	// Zero means auto-size from the CPU count.
	Handlers int `koanf:"handlers"`

	// ReadTimeout is the time allowed to finish a started command.
	ReadTimeout time.Duration `koanf:"read_timeout"`

	// WriteTimeout is the time allowed to write a reply.
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// IdleTimeout is the time a connection may sit idle between
	// commands before it is closed.
	IdleTimeout time.Duration `koanf:"idle_timeout"`

	// RateLimit is the maximum commands per second per client IP.
	// Zero disables rate limiting.
	RateLimit int `koanf:"rate_limit"`
}

// StorageSection configures the in-memory engine.
type StorageSection struct {
	// Shards is the number of independently locked key partitions.
	// Zero means auto-size from the CPU count.
	Shards int `koanf:"shards"`
}

// MetricsSection configures the Prometheus exposition endpoint.
type MetricsSection struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
