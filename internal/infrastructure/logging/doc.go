// Package logging provides structured logging using uber/zap.
//
// This package offers two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// The interceptor shares its standard streams with the user's shell, so it
// always logs through FileConfig; the host daemon logs to stderr.
//
// Example Usage:
//
//	logger, err := logging.New(logging.FileConfig(paths.LogFile("interceptor"), "info"))
//	logger.Session(sessionID).Info("shell started", zap.Int("pid", pid))
package logging
