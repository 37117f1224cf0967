// Package config provides 12-factor configuration for the registry server.
//
// Configuration is loaded from environment variables with sensible defaults.
// An optional TOML file may supply values first; environment variables that
// are set always win.
//
// Configuration Sections:
//   - Storage: data directory holding Apps/, Certificates/ and registry.db
//   - Server: HTTP listen address, CORS origins, upload limit
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Feed: change feed backlog warning threshold
//   - Registry: startup sweep and source seeding
//
// Example Usage:
//
//	cfg, err := config.LoadFile(os.Getenv("REGISTRY_CONFIG"))
//	fmt.Printf("Serving %s on %s\n", cfg.Storage.DataDir, cfg.Addr())
//
// Environment Variables:
//   - DATA_DIR
//   - PORT, HOST, CORS_ORIGINS, SHUTDOWN_TIMEOUT, MAX_UPLOAD_MB
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - FEED_BUFFER, SWEEP_ON_START, SEED_SOURCES
package config
