package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/config"
	"github.com/voicegrid/voicegrid/internal/gateway"
)

func newGatewayCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the cluster gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context(), flags)
		},
	}
}

func runGateway(ctx context.Context, flags *rootFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	logger, err := buildLogger(logLevel(flags, cfg))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting voicegrid gateway",
		zap.String("version", version),
		zap.String("host", cfg.Gateway.Host),
		zap.Int("port", cfg.Gateway.Port),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gw := gateway.New(cfg, version, logger)
	if err := gw.Run(ctx); err != nil {
		return err
	}

	logger.Info("voicegrid gateway stopped")
	return nil
}

// logLevel resolves the effective log level: flag beats config.
func logLevel(flags *rootFlags, cfg config.Config) string {
	if flags.logLevel != "" {
		return flags.logLevel
	}
	return cfg.Logging.Level
}
