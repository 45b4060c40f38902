// Package main provides the entry point for shardis-server.
//
// The server is an in-memory key-value store speaking the Redis
// protocol:
//
//   - RESP wire protocol over TCP, binary safe
//   - Sharded in-memory engine with blocking list pops
//   - Optional Prometheus metrics endpoint
//
// Usage:
//
//	shardis-server [flags]
//	shardis-server --config /path/to/config.yaml
//
// The server loads configuration, initializes infrastructure components,
// and starts the configured listeners.
package main
