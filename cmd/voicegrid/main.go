// Package main is the entry point for the voicegrid binary.
// One binary serves three roles selected by subcommand:
//
//	gateway    — the cluster front door: registry, rate limiting, routing
//	worker     — a single engine node that registers with a gateway
//	standalone — gateway plus one in-process worker, for development
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "voicegrid",
		Short: "VoiceGrid — voice-clone TTS serving cluster",
		Long: `VoiceGrid runs a cluster of GPU worker nodes behind a single gateway.
Workers host one TTS engine each (xtts, openvoice or gpt-sovits) and
register with the gateway, which routes synthesis requests, enforces
rate limits and streams cluster status to dashboards.`,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", envOrDefault("VOICEGRID_CONFIG", ""), "Path to TOML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", envOrDefault("VOICEGRID_LOG_LEVEL", ""), "Log level (debug, info, warn, error); overrides config")

	root.AddCommand(newGatewayCmd(flags))
	root.AddCommand(newWorkerCmd(flags))
	root.AddCommand(newStandaloneCmd(flags))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("voicegrid %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
