package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:   "redis",
			KeyPrefix: "clawgate",
		},
		Batching: BatchingConfig{
			Enabled:        true,
			WindowMS:       4000,
			PollIntervalMS: 250,
		},
		Stop: StopConfig{
			Enabled: true,
		},
		Gateway: GatewayConfig{
			Host:    "0.0.0.0",
			Port:    18791,
			Workers: 8,
		},
		Telemetry: TelemetryConfig{
			Protocol: "http",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CLAWGATE_REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	}
}

// Validate rejects configurations that must never be silently defaulted.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.backend is redis but no redis_url is set (config or CLAWGATE_REDIS_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store.backend %q (want redis or memory)", c.Store.Backend)
	}
	if c.Store.KeyPrefix == "" {
		return fmt.Errorf("store.key_prefix must not be empty")
	}
	if c.Batching.WindowMS <= 0 {
		return fmt.Errorf("batching.window_ms must be positive, got %d", c.Batching.WindowMS)
	}
	if c.Batching.PollIntervalMS <= 0 {
		return fmt.Errorf("batching.poll_interval_ms must be positive, got %d", c.Batching.PollIntervalMS)
	}
	if c.Gateway.Workers <= 0 {
		return fmt.Errorf("gateway.workers must be positive, got %d", c.Gateway.Workers)
	}
	switch c.Telemetry.Protocol {
	case "", "http", "grpc":
	default:
		return fmt.Errorf("unknown telemetry.protocol %q (want http or grpc)", c.Telemetry.Protocol)
	}
	return nil
}
