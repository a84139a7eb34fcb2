// Package pty provides the pseudo-terminal engine behind an interceptor.
//
// A Handle owns one master/slave pair. The master is non-blocking; Read and
// Write wait for readiness with poll in short slices and re-check their
// context in between, so a stalled child can never wedge the proxy loops.
//
// A Tracker follows everything the child prints: cursor, primary and
// alternate screens, and the shell-integration markers the shell emits as
// OSC sequences. The interceptor uses it to recover the line being edited.
//
// Features:
//   - Controlling-terminal setup (setsid, TIOCSCTTY) for the child
//   - TIOCSWINSZ resize through the raw descriptor
//   - Cursor movement, erase, insert/delete and save/restore sequences
//   - Wide characters measured with go-runewidth
//   - OSC 0/2 titles, OSC 7 working directory, OSC 133 and OSC 697 markers
//   - A byte ring holding recent raw output
package pty
