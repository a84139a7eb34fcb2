// Package interceptor runs one interactive shell under a pseudo-terminal and
// sits between it and the user's terminal.
//
// Keystrokes flow from the user's terminal through focus-report detection
// and the intercept set into a single ordered writer on the PTY master.
// Shell output is copied back to the terminal unchanged and fed to a
// screen tracker; shell-integration markers in that output drive the hooks
// sent to the host daemon (prompt returned, pre-exec, edit buffer changed).
//
// The host link reconnects while the shell runs. Commands arrive on the host
// link or on the per-session control socket, which also serves process and
// pty execution requests.
//
// # Usage
//
//	ic, err := interceptor.New(interceptor.Options{
//		SessionID:  interceptor.ResolveSessionID(flagID, cfg.Interceptor.SessionID),
//		Shell:      "/bin/zsh",
//		HostSocket: cfg.Host.Socket,
//	}, log)
//	code, err := ic.Run(ctx)
package interceptor
