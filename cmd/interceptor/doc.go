// Command interceptor runs an interactive shell under a pseudo-terminal and
// reports its state to the host daemon. Terminal emulators start it in place
// of the shell; it exits with the shell's exit code.
//
// Usage:
//
//	interceptor                          # runs $SHELL
//	interceptor --shell /bin/zsh -- -l   # arguments after -- go to the shell
//
// Logs go to a file under the runtime directory, never to the terminal.
package main
