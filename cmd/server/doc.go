// Package main is the entry point for the App Registry server.
//
// The server owns one data directory holding Apps/, Certificates/, tmp/ and
// registry.db. On start it seeds default sources once, sweeps directories
// and records that lost their counterpart, then serves the REST API, the
// /ws change stream and /metrics.
//
// Configuration:
//   - Environment variables (12-factor)
//   - An optional TOML file (-config or REGISTRY_CONFIG)
//   - CLI flags (override both)
//
// Usage:
//
//	./server -data /var/lib/registry -port 8000
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
