// Package config defines the server configuration structure.
package config

import (
	"errors"
	"fmt"
	"net"
	"runtime"
)

// maxProcUnits returns the upper bound for shard and handler counts:
// half the detected parallelism, never below one.
func maxProcUnits() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}

// Verify validates the configuration and clamps the shard and handler
// counts to at most half of the available parallelism. Zero counts are
// auto-sized to that bound.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyMetrics(&cfg.Metrics); err != nil {
		return err
	}
	return verifyLog(&cfg.Log)
}

func verifyServer(cfg *ServerSection) error {
	if cfg.Addr == "" {
		return errors.New("server.addr is required")
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return fmt.Errorf("server.addr is invalid: %w", err)
	}
	if cfg.Handlers < 0 {
		return errors.New("server.handlers must not be negative")
	}
	if max := maxProcUnits(); cfg.Handlers == 0 || cfg.Handlers > max {
		cfg.Handlers = max
	}
	if cfg.RateLimit < 0 {
		return errors.New("server.rate_limit must not be negative")
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 || cfg.IdleTimeout < 0 {
		return errors.New("server timeouts must not be negative")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.Shards < 0 {
		return errors.New("storage.shards must not be negative")
	}
	if max := maxProcUnits(); cfg.Shards == 0 || cfg.Shards > max {
		cfg.Shards = max
	}
	return nil
}

func verifyMetrics(cfg *MetricsSection) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return fmt.Errorf("metrics.addr is invalid: %w", err)
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Level)
	}
	switch cfg.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q is not one of json, text", cfg.Format)
	}
	return nil
}
