package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voicegrid/voicegrid/internal/config"
	"github.com/voicegrid/voicegrid/internal/gateway"
	"github.com/voicegrid/voicegrid/internal/metrics"
	"github.com/voicegrid/voicegrid/internal/worker"
)

func newStandaloneCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "standalone",
		Short: "Run a gateway with one in-process worker",
		Long: `Standalone mode starts the gateway and a single worker in one process,
wired over loopback HTTP exactly as a distributed deployment would be.
Intended for development and small single-host installs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStandalone(cmd.Context(), flags)
		},
	}
}

func runStandalone(ctx context.Context, flags *rootFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	logger, err := buildLogger(logLevel(flags, cfg))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The in-process worker always talks to the local gateway.
	cfg.Worker.GatewayURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Gateway.Port)

	eng, err := buildEngine(cfg.Worker, logger)
	if err != nil {
		return err
	}

	gw := gateway.New(cfg, version, logger)
	w := worker.New(eng, metrics.NewCollector(nil), worker.Options{
		Host:              cfg.Worker.Host,
		Port:              cfg.Worker.Port,
		GatewayURL:        cfg.Worker.GatewayURL,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval(),
		StopTimeout:       cfg.Worker.StopTimeout(),
	}, logger)

	logger.Info("starting voicegrid standalone",
		zap.String("version", version),
		zap.Int("gateway_port", cfg.Gateway.Port),
		zap.Int("worker_port", cfg.Worker.Port),
		zap.String("engine", cfg.Worker.Engine),
	)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return gw.Run(ctx)
	})

	group.Go(func() error {
		// Give the gateway listener a moment to come up before the worker
		// registers, then activate so the node is immediately usable.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
		if err := w.Activate(ctx); err != nil {
			logger.Error("initial activation failed, staying in error state", zap.Error(err))
		}
		return w.Serve(ctx, version)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}

	logger.Info("voicegrid standalone stopped")
	return nil
}
