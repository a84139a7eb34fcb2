package interceptor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/pty"
)

const (
	defaultExecTimeout = 30 * time.Second
	maxExecOutput      = 4 << 20
)

var execSize = pty.Size{Rows: 24, Cols: 120}

func execTimeout(ms int64) time.Duration {
	if ms <= 0 {
		return defaultExecTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

// mergeEnv overlays extra on base; later entries win in exec
func mergeEnv(base []string, extra map[string]string) []string {
	env := append([]string(nil), base...)
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// runProcess runs an executable with captured output. cwd is used when the
// request names none.
func runProcess(ctx context.Context, req protocol.RunProcess, cwd string) protocol.Response {
	if req.Executable == "" {
		return protocol.Failure{Message: "missing executable"}
	}
	timeout := execTimeout(req.TimeoutMs)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, req.Executable, req.Args...)
	cmd.Dir = firstNonEmpty(req.Cwd, cwd)
	cmd.Env = mergeEnv(os.Environ(), req.Env)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedBuffer{buf: &stdout, limit: maxExecOutput}
	cmd.Stderr = &limitedBuffer{buf: &stderr, limit: maxExecOutput}

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return protocol.Failure{Message: fmt.Sprintf("%s timed out after %s", req.Executable, timeout)}
	}
	code, err := exitCode(err)
	if err != nil {
		return protocol.Failure{Message: err.Error()}
	}
	return protocol.ProcessResult{
		Source:   protocol.SourceProcess,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: code,
	}
}

// ptyExec runs a command line through shell -c under a fresh PTY, so
// programs that check isatty behave as they would interactively. Output
// is the merged terminal stream.
func ptyExec(ctx context.Context, req protocol.PtyExec, shell, cwd string) protocol.Response {
	if req.Command == "" {
		return protocol.Failure{Message: "missing command"}
	}
	timeout := execTimeout(req.TimeoutMs)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h, err := pty.Open(execSize)
	if err != nil {
		return protocol.Failure{Message: err.Error()}
	}
	defer h.Close()

	cmd := exec.CommandContext(ctx, shell, "-c", req.Command)
	cmd.Dir = firstNonEmpty(req.Cwd, cwd)
	cmd.Env = mergeEnv(os.Environ(), req.Env)
	if err := h.Start(cmd); err != nil {
		return protocol.Failure{Message: err.Error()}
	}

	out := limitedBuffer{buf: new(bytes.Buffer), limit: maxExecOutput}
	buf := make([]byte, 4096)
	for {
		n, rerr := h.Read(ctx, buf)
		out.Write(buf[:n])
		if rerr != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return protocol.Failure{Message: fmt.Sprintf("command timed out after %s", timeout)}
	}
	code, err := exitCode(waitErr)
	if err != nil {
		return protocol.Failure{Message: err.Error()}
	}
	return protocol.ProcessResult{Source: protocol.SourcePty, Stdout: out.buf.Bytes(), ExitCode: code}
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// limitedBuffer keeps the first limit bytes and discards the rest
type limitedBuffer struct {
	buf   *bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		b.buf.Write(p[:min(len(p), room)])
	}
	return len(p), nil
}
