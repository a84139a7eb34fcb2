// Package paths provides the runtime filesystem layout shared by the host
// daemon, the interceptors and the CLI.
//
// # Directory Structure
//
//	$XDG_RUNTIME_DIR/agentterm/      (or $TMPDIR/agentterm-<uid>/)
//	  ├── host.sock                  (host daemon socket)
//	  ├── sessions/
//	  │   └── <session>.sock         (per-session interceptor control socket)
//	  └── logs/
//	      └── <name>.log
//
// # Usage
//
//	sock := paths.HostSocket()
//	ctl := paths.InterceptorSocket("sess_01J...")
package paths
