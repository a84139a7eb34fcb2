package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
)

// execFlags are shared by run and pty-exec
type execFlags struct {
	cwd     string
	env     []string
	timeout time.Duration
}

func (f *execFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.cwd, "cwd", "", "working directory (default: the shell's)")
	cmd.Flags().StringArrayVarP(&f.env, "env", "e", nil, "extra environment variable KEY=VALUE")
	cmd.Flags().DurationVar(&f.timeout, "exec-timeout", 30*time.Second, "time limit for the process")
}

func (f *execFlags) envMap() (map[string]string, error) {
	if len(f.env) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(f.env))
	for _, kv := range f.env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
		}
		env[k] = v
	}
	return env, nil
}

func newRunCmd(c *client) *cobra.Command {
	var flags execFlags

	cmd := &cobra.Command{
		Use:   "run [flags] -- <executable> [args...]",
		Short: "Run a process in a session's environment and print its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := flags.envMap()
			if err != nil {
				return err
			}
			resp, err := c.request(cmd.Context(), protocol.RunProcess{
				SessionID:  c.session,
				Executable: args[0],
				Args:       args[1:],
				Env:        env,
				Cwd:        flags.cwd,
				TimeoutMs:  flags.timeout.Milliseconds(),
			}, flags.timeout)
			if err != nil {
				return err
			}
			return printResult(cmd, resp)
		},
	}
	flags.register(cmd)
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newPtyExecCmd(c *client) *cobra.Command {
	var flags execFlags

	cmd := &cobra.Command{
		Use:   "pty-exec <command line>",
		Short: "Run a shell command line under a fresh terminal in a session's environment",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := flags.envMap()
			if err != nil {
				return err
			}
			resp, err := c.request(cmd.Context(), protocol.PtyExec{
				SessionID: c.session,
				Command:   strings.Join(args, " "),
				Env:       env,
				Cwd:       flags.cwd,
				TimeoutMs: flags.timeout.Milliseconds(),
			}, flags.timeout)
			if err != nil {
				return err
			}
			return printResult(cmd, resp)
		},
	}
	flags.register(cmd)
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func printResult(cmd *cobra.Command, resp protocol.Response) error {
	result, ok := resp.(protocol.ProcessResult)
	if !ok {
		return fmt.Errorf("unexpected response %s", resp.Type())
	}
	cmd.OutOrStdout().Write(result.Stdout)
	cmd.ErrOrStderr().Write(result.Stderr)
	if result.ExitCode != 0 {
		return exitError{code: result.ExitCode}
	}
	return nil
}
