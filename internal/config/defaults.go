package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:7890")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_json", false)

	v.SetDefault("database.path", "fastjob.db")

	v.SetDefault("scheduler.interval_seconds", 10)
	v.SetDefault("scheduler.worker_timeout_seconds", 60)
	v.SetDefault("scheduler.event_max_retry", 5)
	v.SetDefault("scheduler.election_retry_times", 3)
	v.SetDefault("scheduler.election_lock_hold_ms", 30000)
	v.SetDefault("scheduler.election_interval_seconds", 10)
	v.SetDefault("scheduler.shutdown_drain_seconds", 5)
	v.SetDefault("scheduler.dispatch_queue_capacity", 1024)
	v.SetDefault("scheduler.executor_pool_size", 4)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "FASTJOB_DATABASE_PATH")
	v.BindEnv("alarm.webhook_url", "FASTJOB_ALARM_WEBHOOK_URL")
	v.BindEnv("alarm.im_webhook_url", "FASTJOB_ALARM_IM_WEBHOOK_URL")
}

// GetDatabasePath returns the configured database path, falling back to the default.
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "fastjob.db"
	}
	return c.Database.Path
}

// String returns a compact representation of the config for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Addr: %s, Database: %s, ScheduleInterval: %ds}",
		c.Server.Addr, c.Database.Path, c.Scheduler.IntervalSeconds)
}
