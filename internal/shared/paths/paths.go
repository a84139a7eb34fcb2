package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// RuntimeEnv overrides the runtime directory
	RuntimeEnv = "AGENTTERM_RUNTIME_DIR"

	dirName     = "agentterm"
	hostSocket  = "host.sock"
	sessionsDir = "sessions"
	logsDir     = "logs"

	// maxSocketPath stays under the smallest sun_path limit (104 on darwin)
	maxSocketPath = 100
)

// RuntimeDir returns the directory holding sockets and logs
func RuntimeDir() string {
	if dir := os.Getenv(RuntimeEnv); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, dirName)
	}
	return filepath.Join(os.TempDir(), dirName+"-"+strconv.Itoa(os.Getuid()))
}

// HostSocket returns the host daemon's socket path
func HostSocket() string {
	return filepath.Join(RuntimeDir(), hostSocket)
}

// SessionsDir returns the directory of interceptor control sockets
func SessionsDir() string {
	return filepath.Join(RuntimeDir(), sessionsDir)
}

// InterceptorSocket returns the control socket path for a session.
// Session ids are opaque, so unsafe characters are replaced and overlong
// names fall back to a hash of the id.
func InterceptorSocket(sessionID string) string {
	name := sanitize(sessionID)
	path := filepath.Join(SessionsDir(), name+".sock")
	if len(path) <= maxSocketPath && name == sessionID {
		return path
	}
	return filepath.Join(SessionsDir(), fmt.Sprintf("%016x.sock", xxhash.Sum64String(sessionID)))
}

// LogFile returns the log file path for a component
func LogFile(name string) string {
	return filepath.Join(RuntimeDir(), logsDir, sanitize(name)+".log")
}

// EnsureDir creates the parent directory of path, private to the user
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o700)
}

// ValidateSessionID checks if a session ID is usable
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if strings.ContainsAny(sessionID, "\x00\n") {
		return fmt.Errorf("session ID contains control characters")
	}
	return nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
