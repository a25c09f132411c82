// Package config loads the cluster configuration from a TOML file with
// environment variable overrides for the worker-facing knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all tunables for the gateway and worker processes.
type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Worker  WorkerConfig  `toml:"worker"`
	Limits  LimitsConfig  `toml:"limits"`
	Logging LoggingConfig `toml:"logging"`
}

// GatewayConfig controls the gateway HTTP server and its background loops.
type GatewayConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// Intervals and thresholds in seconds.
	DeadNodeThresholdSecs int `toml:"dead_node_threshold_secs"`
	SweepIntervalSecs     int `toml:"sweep_interval_secs"`
	BroadcastIntervalSecs int `toml:"broadcast_interval_secs"`
	RequestTimeoutSecs    int `toml:"request_timeout_secs"`
	BatchTimeoutSecs      int `toml:"batch_timeout_secs"`

	DefaultEngine string `toml:"default_engine"`
}

// WorkerConfig controls a single worker process.
type WorkerConfig struct {
	Engine     string `toml:"engine"`
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	GatewayURL string `toml:"gateway_url"`

	ModelPath   string `toml:"model_path"`
	Device      string `toml:"device"`
	VoicesDir   string `toml:"voices_dir"`
	UpstreamURL string `toml:"upstream_url"`

	HeartbeatIntervalSecs int `toml:"heartbeat_interval_secs"`
	StopTimeoutSecs       int `toml:"stop_timeout_secs"`
	MaxConcurrent         int `toml:"max_concurrent"`
}

// LimitsConfig controls the gateway rate limiter.
type LimitsConfig struct {
	GlobalRPM       int `toml:"global_rpm"`
	IPRPM           int `toml:"ip_rpm"`
	ConcurrentLimit int `toml:"concurrent_limit"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns the built-in defaults, matching a single-host
// development cluster.
func DefaultConfig() Config {
	return Config{
		Gateway: GatewayConfig{
			Host:                  "0.0.0.0",
			Port:                  8000,
			DeadNodeThresholdSecs: 30,
			SweepIntervalSecs:     10,
			BroadcastIntervalSecs: 2,
			RequestTimeoutSecs:    60,
			BatchTimeoutSecs:      120,
			DefaultEngine:         "xtts",
		},
		Worker: WorkerConfig{
			Engine:                "xtts",
			Host:                  "127.0.0.1",
			Port:                  8001,
			GatewayURL:            "http://127.0.0.1:8000",
			Device:                "cuda",
			VoicesDir:             "voices",
			HeartbeatIntervalSecs: 10,
			StopTimeoutSecs:       30,
			MaxConcurrent:         4,
		},
		Limits: LimitsConfig{
			GlobalRPM:       1000,
			IPRPM:           100,
			ConcurrentLimit: 50,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path, falling back to defaults when path
// is empty or the file does not exist, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("stat config: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays the worker environment variables over the file values.
// These match the knobs a deployment script sets per worker instance.
func applyEnv(cfg *Config) {
	if v := os.Getenv("VOICE_ENGINE"); v != "" {
		cfg.Worker.Engine = v
	}
	if v := os.Getenv("VOICE_HOST"); v != "" {
		cfg.Worker.Host = v
	}
	if v := os.Getenv("VOICE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Port = p
		}
	}
	if v := os.Getenv("VOICES_DIR"); v != "" {
		cfg.Worker.VoicesDir = v
	}
	if v := os.Getenv("MODEL_PATH"); v != "" {
		cfg.Worker.ModelPath = v
	}
	if v := os.Getenv("DEVICE"); v != "" {
		cfg.Worker.Device = v
	}
	if v := os.Getenv("GATEWAY_URL"); v != "" {
		cfg.Worker.GatewayURL = v
	}
	if v := os.Getenv("UPSTREAM_URL"); v != "" {
		cfg.Worker.UpstreamURL = v
	}
}

// Duration accessors. The TOML surface stores plain seconds; callers work
// in time.Duration.

func (g GatewayConfig) DeadNodeThreshold() time.Duration {
	return time.Duration(g.DeadNodeThresholdSecs) * time.Second
}

func (g GatewayConfig) SweepInterval() time.Duration {
	return time.Duration(g.SweepIntervalSecs) * time.Second
}

func (g GatewayConfig) BroadcastInterval() time.Duration {
	return time.Duration(g.BroadcastIntervalSecs) * time.Second
}

func (g GatewayConfig) RequestTimeout() time.Duration {
	return time.Duration(g.RequestTimeoutSecs) * time.Second
}

func (g GatewayConfig) BatchTimeout() time.Duration {
	return time.Duration(g.BatchTimeoutSecs) * time.Second
}

func (w WorkerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(w.HeartbeatIntervalSecs) * time.Second
}

func (w WorkerConfig) StopTimeout() time.Duration {
	return time.Duration(w.StopTimeoutSecs) * time.Second
}
