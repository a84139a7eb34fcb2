// Package config provides 12-factor configuration for the host daemon and the
// interceptor.
//
// Configuration is loaded from environment variables with sensible defaults.
// A flat TOML settings file named by AGENTTERM_CONFIG may supply values for
// variables the environment leaves unset. CLI flags override both.
//
// Configuration Sections:
//   - Host: socket path, status server address, session TTL, fan-out queue
//   - Interceptor: shell, session id, host reconnect delay
//   - Completion: remote backend endpoint, pacing, throttle retries
//   - Logging: level, output format, log file
//   - Watch: directories and doublestar patterns for file-changed hooks
//   - RateLimit: status server request limiting
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("host socket %s\n", cfg.Host.Socket)
//
// Completion tuning (debounce, history count, cache switch) is not part of
// Config: the coordinator re-reads it from the environment on every cycle.
package config
