// Command termctl talks to the host daemon: it lists interceptor sessions,
// sends editing commands to a shell and runs processes in a session's
// environment.
//
// Usage:
//
//	termctl list
//	termctl send insert-text 'git status\n'
//	termctl send set-buffer 'make test' --cursor 4
//	termctl send intercept set $'\t'
//	termctl run -- ls -la
//	termctl pty-exec 'ls --color=auto'
//
// Commands target the session named by --session, then $AGENTTERM_SESSION_ID,
// then the most recently active session.
package main
