package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Mode determines which upstream source is used
	// - "live": real tracking API through the rate-limited client
	// - "fixture": deterministic static fixtures (demos, tests)
	Mode SourceMode `json:"mode"`

	// Component configurations
	Upstream   UpstreamConfig   `json:"upstream"`
	Cache      CacheConfig      `json:"cache"`
	Repository RepositoryConfig `json:"repository"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// SourceMode selects the tracking source strategy at construction time.
type SourceMode string

const (
	// ModeLive queries the real upstream tracking API.
	ModeLive SourceMode = "live"

	// ModeFixture serves deterministic static fixtures.
	// Use for: demos, local development, integration tests.
	ModeFixture SourceMode = "fixture"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// UpstreamConfig holds tracking API client settings.
type UpstreamConfig struct {
	// BaseURL of the tracking API, e.g. https://tracker.example.com/org
	BaseURL string `json:"baseUrl"`

	// Token is the API token sent with every request.
	Token string `json:"-"`

	// RequestsPerWindow is the hard outbound rate budget.
	RequestsPerWindow int `json:"requestsPerWindow"`

	// Window is the rate-limit window length.
	Window time.Duration `json:"window"`

	// RequestTimeout bounds each outbound call.
	RequestTimeout time.Duration `json:"requestTimeout"`

	// MaxBatchSize caps item-detail lookups per upstream call.
	MaxBatchSize int `json:"maxBatchSize"`

	// BatchDelay is the courtesy pacing between consecutive batches.
	BatchDelay time.Duration `json:"batchDelay"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// DefaultConfig returns a default single-node configuration:
// in-memory cache, SQLite snapshots, channel bus, fixture source.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Mode: ModeFixture,
		Upstream: UpstreamConfig{
			RequestsPerWindow: 30,
			Window:            60 * time.Second,
			RequestTimeout:    30 * time.Second,
			MaxBatchSize:      200,
			BatchDelay:        250 * time.Millisecond,
		},
		Cache: CacheConfig{
			Backend:      "memory",
			LocalMaxSize: 10000,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// HostedConfig returns a configuration for hosted deployments:
// Redis failover cache, Postgres snapshots, NATS bus, live source.
func HostedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Mode = ModeLive
	cfg.Cache = CacheConfig{
		Backend:      "redis",
		RedisAddr:    "localhost:6379",
		LocalMaxSize: 1000,
	}
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
