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
	"github.com/voicegrid/voicegrid/internal/engine"
	"github.com/voicegrid/voicegrid/internal/metrics"
	"github.com/voicegrid/voicegrid/internal/types"
	"github.com/voicegrid/voicegrid/internal/voicestore"
	"github.com/voicegrid/voicegrid/internal/worker"
)

func newWorkerCmd(flags *rootFlags) *cobra.Command {
	var activate bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a single engine worker node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), flags, activate)
		},
	}
	cmd.Flags().BoolVar(&activate, "activate", false, "Load the model immediately instead of starting in standby")
	return cmd
}

func runWorker(ctx context.Context, flags *rootFlags, activate bool) error {
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

	eng, err := buildEngine(cfg.Worker, logger)
	if err != nil {
		return err
	}

	w := worker.New(eng, metrics.NewCollector(nil), worker.Options{
		Host:              cfg.Worker.Host,
		Port:              cfg.Worker.Port,
		GatewayURL:        cfg.Worker.GatewayURL,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval(),
		StopTimeout:       cfg.Worker.StopTimeout(),
	}, logger)

	logger.Info("starting voicegrid worker",
		zap.String("version", version),
		zap.String("node_id", w.NodeID()),
		zap.String("engine", cfg.Worker.Engine),
		zap.String("gateway", cfg.Worker.GatewayURL),
	)

	if activate {
		if err := w.Activate(ctx); err != nil {
			logger.Error("initial activation failed, staying in error state", zap.Error(err))
		}
	}

	if err := w.Serve(ctx, version); err != nil {
		return err
	}

	logger.Info("voicegrid worker stopped")
	return nil
}

// buildEngine constructs the configured engine backed by a local voice
// store.
func buildEngine(cfg config.WorkerConfig, logger *zap.Logger) (engine.Engine, error) {
	store, err := voicestore.New(cfg.VoicesDir, logger)
	if err != nil {
		return nil, err
	}

	engineType, err := types.ParseEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}

	switch engineType {
	case types.EngineXTTS:
		return engine.NewXTTS(cfg.UpstreamURL, store, logger), nil
	case types.EngineOpenVoice:
		return engine.NewOpenVoice(cfg.UpstreamURL, store, logger), nil
	case types.EngineGPTSoVITS:
		return engine.NewGPTSoVITS(cfg.UpstreamURL, store, logger), nil
	default:
		return nil, fmt.Errorf("no engine implementation for %s", engineType)
	}
}
