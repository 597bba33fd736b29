package config

// Config is the root configuration for the clawgate gateway.
type Config struct {
	Store     StoreConfig     `json:"store"`
	Batching  BatchingConfig  `json:"batching"`
	Stop      StopConfig      `json:"stop"`
	Gateway   GatewayConfig   `json:"gateway"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// StoreConfig selects and configures the coordination store.
type StoreConfig struct {
	Backend   string `json:"backend"`             // "redis" or "memory"
	RedisURL  string `json:"redis_url,omitempty"` // overridable via CLAWGATE_REDIS_URL
	KeyPrefix string `json:"key_prefix"`          // namespaces keys for multi-agent deployments
}

// BatchingConfig configures the batch window coordinator.
type BatchingConfig struct {
	Enabled        bool `json:"enabled"`
	WindowMS       int  `json:"window_ms"`
	PollIntervalMS int  `json:"poll_interval_ms"`
}

// StopConfig configures the stop gate.
type StopConfig struct {
	Enabled bool `json:"enabled"`
}

// GatewayConfig configures the pipeline runner and ingress listener.
type GatewayConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Workers int    `json:"workers"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint,omitempty"` // host:port of the OTLP collector
	Protocol string `json:"protocol,omitempty"` // "http" (default) or "grpc"
	Insecure bool   `json:"insecure,omitempty"`
}
