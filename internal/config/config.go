// Package config loads the control plane's process configuration: the
// listen addresses, the SQLite store path, scheduler tunables, and alarm
// sink endpoints. See Load and LoadFromFile for the two ways to get a Config.
package config

// Config is the root configuration for a fastjobd process.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alarm     AlarmConfig     `mapstructure:"alarm"`
}

// ServerConfig configures the control-plane's own listen address and
// logging verbosity (spec.md §6 CLI surface).
type ServerConfig struct {
	Addr       string `mapstructure:"addr"`        // host:port this server listens on (required)
	GossipAddr string `mapstructure:"gossip_addr"` // optional peer bootstrap address
	LogLevel   string `mapstructure:"log_level"`   // debug|info|warn|error
	LogJSON    bool   `mapstructure:"log_json"`    // structured JSON logging vs. console
}

// DatabaseConfig configures the persistent store (C2).
type DatabaseConfig struct {
	Path string `mapstructure:"path"` // SQLite file path
}

// SchedulerConfig configures the scheduling loop (C5), worker liveness
// (C3), and the event bus retry policy (C9).
type SchedulerConfig struct {
	IntervalSeconds         int `mapstructure:"interval_seconds"`          // SCHEDULE_INTERVAL, default 10
	WorkerTimeoutSeconds    int `mapstructure:"worker_timeout_seconds"`    // WORKER_TIMEOUT, default 60
	EventMaxRetry           int `mapstructure:"event_max_retry"`           // EVENT_MAX_RETRY, default 5
	ElectionRetryTimes      int `mapstructure:"election_retry_times"`      // RETRY_TIMES for ownership lookup, default 3
	ElectionLockHoldMS      int `mapstructure:"election_lock_hold_ms"`     // max_hold_ms for the election lock, default 30000
	ElectionIntervalSeconds int `mapstructure:"election_interval_seconds"` // how often the runtime sweeps apps for ownership, default 10
	ShutdownDrainSeconds    int `mapstructure:"shutdown_drain_seconds"`    // SHUTDOWN_DRAIN, default 5
	DispatchQueueCapacity   int `mapstructure:"dispatch_queue_capacity"`   // bound on the dispatch channel / SchedulerBusy threshold
	ExecutorPoolSize        int `mapstructure:"executor_pool_size"`        // C10 fixed worker pool size
}

// AlarmConfig configures the event bus's notification sinks (C9).
type AlarmConfig struct {
	WebhookURL   string `mapstructure:"webhook_url"`    // generic HTTP webhook sink
	IMWebhookURL string `mapstructure:"im_webhook_url"`  // chat/IM webhook sink
}
