package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/interceptor"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/shared/paths"
)

// exitError carries the shell's exit code out of cobra
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("shell exited with code %d", e.code) }

func main() {
	err := newRootCmd().Execute()
	var exit exitError
	switch {
	case errors.As(err, &exit):
		os.Exit(exit.code)
	case err != nil:
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		sessionID  string
		shell      string
		hostSocket string
		level      string
	)

	cmd := &cobra.Command{
		Use:           "interceptor [-- shell args...]",
		Short:         "Run a shell under the terminal interceptor",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			id := interceptor.ResolveSessionID(sessionID, cfg.Interceptor.SessionID)

			logPath := cfg.Logging.File
			if logPath == "" {
				logPath = paths.LogFile("interceptor-" + id)
			}
			logLevel := cfg.Logging.Level
			if level != "" {
				logLevel = level
			}
			log, err := logging.New(logging.FileConfig(logPath, logLevel))
			if err != nil {
				log = logging.NewNop()
			}
			defer log.Sync()

			if shell == "" {
				shell = cfg.Interceptor.Shell
			}
			if hostSocket == "" {
				hostSocket = cfg.Host.Socket
			}

			ic, err := interceptor.New(interceptor.Options{
				SessionID:      id,
				Shell:          shell,
				Args:           args,
				HostSocket:     hostSocket,
				ReconnectDelay: cfg.Interceptor.ReconnectDelay,
				HookBuffer:     cfg.Interceptor.HookBuffer,
				ScrollbackSize: cfg.Interceptor.ScrollbackSize,
			}, log)
			if err != nil {
				return err
			}
			metrics := monitoring.NewMetrics(nil)
			ic.WithMetrics(metrics)

			code, err := ic.Run(cmd.Context())
			snap := metrics.Snapshot()
			log.Info("Interceptor finished",
				zap.Int64("hooks_dropped", snap.DispatchDrops),
				zap.Float64("uptime_seconds", snap.UptimeSeconds))
			if err != nil {
				fmt.Fprintf(os.Stderr, "interceptor: %v\n", err)
				return err
			}
			if code != 0 {
				return exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "session id (default $AGENTTERM_SESSION_ID or a new id)")
	cmd.Flags().StringVar(&shell, "shell", "", "shell to run (default $SHELL)")
	cmd.Flags().StringVar(&hostSocket, "host-socket", "", "host daemon socket path")
	cmd.Flags().StringVar(&level, "log-level", "", "log level (debug, info, warn, error)")
	return cmd
}
