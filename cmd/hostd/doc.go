// Command hostd is the desktop host daemon. It keeps the registry of live
// interceptor sessions, runs completion requests for edit buffers and fans
// notifications out to UI windows.
//
// Usage:
//
//	# defaults from the environment and $AGENTTERM_CONFIG
//	hostd
//
//	# development mode (colored logs, debug level)
//	hostd --dev --status-addr 127.0.0.1:9000
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
