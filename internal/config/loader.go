package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "CONDUIT",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance so CLI
// flag bindings participate in precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "CONDUIT",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// ConfigFileUsed returns the config file resolved by the last Load, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (CONDUIT_*)
// 3. Config file (explicit path, ./conduit.yaml, or ~/.config/conduit/config.yaml)
// 4. Defaults
func (l *Loader) Load() (*Config, error) {
	setDefaults(l.v)

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", l.configFile, err)
		}
	} else {
		l.v.SetConfigName("conduit")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "conduit"))
		}
		if err := l.v.ReadInConfig(); err != nil {
			// Missing config file is fine; anything else is not.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	cfg := Default()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("gateway.ping_interval", d.Gateway.PingInterval)
	v.SetDefault("gateway.read_timeout", d.Gateway.ReadTimeout)
	v.SetDefault("gateway.write_timeout", d.Gateway.WriteTimeout)
	v.SetDefault("gateway.relay_buffer", d.Gateway.RelayBuffer)
	v.SetDefault("gateway.outbound_buffer", d.Gateway.OutboundBuffer)
	v.SetDefault("limits.max_concurrent_per_user", d.Limits.MaxConcurrentPerUser)
	v.SetDefault("limits.daily_quota", d.Limits.DailyQuota)
	v.SetDefault("storage.db_path", d.Storage.DBPath)
	v.SetDefault("storage.agents_dir", d.Storage.AgentsDir)
	v.SetDefault("scheduler.enabled", d.Scheduler.Enabled)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}
