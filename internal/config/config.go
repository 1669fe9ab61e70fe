// Package config loads and validates gateway configuration from flags,
// environment variables, and config files.
package config

import "time"

// Config is the full gateway configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GatewayConfig configures per-connection behavior.
type GatewayConfig struct {
	// PingInterval is how often the server probes the client.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// ReadTimeout is the inbound liveness deadline, reset on any read or pong.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout bounds a single outbound frame write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// RelayBuffer is the status relay channel capacity per execution.
	RelayBuffer int `mapstructure:"relay_buffer"`
	// OutboundBuffer is the per-connection serialized writer queue size.
	OutboundBuffer int `mapstructure:"outbound_buffer"`
}

// LimitsConfig configures the fairness gate.
type LimitsConfig struct {
	MaxConcurrentPerUser int `mapstructure:"max_concurrent_per_user"`
	DailyQuota           int `mapstructure:"daily_quota"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	DBPath    string `mapstructure:"db_path"`
	AgentsDir string `mapstructure:"agents_dir"`
}

// SchedulerConfig configures the cron trigger source.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuthConfig configures request authentication. Tokens maps bearer tokens to
// user IDs. DevUser, when set, accepts the X-User-ID header without a token;
// only for local development.
type AuthConfig struct {
	Tokens  map[string]string `mapstructure:"tokens"`
	DevUser bool              `mapstructure:"dev_user"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    5 * time.Minute,
			WriteTimeout:   10 * time.Second,
			RelayBuffer:    100,
			OutboundBuffer: 256,
		},
		Limits: LimitsConfig{
			MaxConcurrentPerUser: 3,
			DailyQuota:           100,
		},
		Storage: StorageConfig{
			DBPath:    "data/conduit.db",
			AgentsDir: "data/agents",
		},
		Scheduler: SchedulerConfig{Enabled: true},
		Auth:      AuthConfig{},
		Log:       LogConfig{Level: "info", Format: "auto"},
	}
}
