package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/host"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		socket     string
		statusAddr string
		noStatus   bool
		dev        bool
		level      string
	)

	cmd := &cobra.Command{
		Use:          "hostd",
		Short:        "Run the terminal interceptor host daemon",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if socket != "" {
				cfg.Host.Socket = socket
			}
			if statusAddr != "" {
				cfg.Host.StatusAddr = statusAddr
			}
			if noStatus {
				cfg.Host.StatusEnabled = false
			}
			if dev {
				cfg.Logging.Development = true
				cfg.Logging.Level = "debug"
			}
			if level != "" {
				cfg.Logging.Level = level
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&socket, "socket", "", "host socket path")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "status server address")
	cmd.Flags().BoolVar(&noStatus, "no-status", false, "disable the status server")
	cmd.Flags().BoolVar(&dev, "dev", false, "development mode (colored logs, debug level)")
	cmd.Flags().StringVar(&level, "log-level", "", "log level (debug, info, warn, error)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	logCfg.Level = cfg.Logging.Level
	if cfg.Logging.File != "" {
		logCfg.OutputPaths = []string{cfg.Logging.File}
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	app, err := host.NewApp(cfg, log, host.Options{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Host daemon starting",
		zap.String("socket", cfg.Host.Socket),
		zap.Bool("status", cfg.Host.StatusEnabled),
		zap.String("status_addr", cfg.Host.StatusAddr))

	if err := app.Run(ctx); err != nil {
		log.Error("Host daemon failed", zap.Error(err))
		return err
	}
	log.Info("Host daemon stopped")
	return nil
}
