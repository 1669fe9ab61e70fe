package config

import "fmt"

// Validate checks configuration invariants. It returns the first violation
// found so the operator gets one actionable message at a time.
func Validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if cfg.Gateway.PingInterval <= 0 {
		return fmt.Errorf("gateway.ping_interval must be positive, got %s", cfg.Gateway.PingInterval)
	}
	if cfg.Gateway.ReadTimeout <= cfg.Gateway.PingInterval {
		return fmt.Errorf("gateway.read_timeout (%s) must exceed ping_interval (%s), otherwise healthy connections get dropped between probes",
			cfg.Gateway.ReadTimeout, cfg.Gateway.PingInterval)
	}
	if cfg.Gateway.WriteTimeout <= 0 {
		return fmt.Errorf("gateway.write_timeout must be positive, got %s", cfg.Gateway.WriteTimeout)
	}
	if cfg.Gateway.RelayBuffer <= 0 {
		return fmt.Errorf("gateway.relay_buffer must be positive, got %d", cfg.Gateway.RelayBuffer)
	}
	if cfg.Gateway.OutboundBuffer <= 0 {
		return fmt.Errorf("gateway.outbound_buffer must be positive, got %d", cfg.Gateway.OutboundBuffer)
	}
	if cfg.Limits.MaxConcurrentPerUser <= 0 {
		return fmt.Errorf("limits.max_concurrent_per_user must be positive, got %d", cfg.Limits.MaxConcurrentPerUser)
	}
	if cfg.Limits.DailyQuota < 0 {
		return fmt.Errorf("limits.daily_quota must not be negative, got %d", cfg.Limits.DailyQuota)
	}
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path must not be empty")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug/info/warn/error, got %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("log.format must be one of auto/text/json, got %q", cfg.Log.Format)
	}
	return nil
}
