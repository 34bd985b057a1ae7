package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// Telemetry defaults
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
	DefaultMetricsPath = "/metrics"

	// Storage defaults
	DefaultStorageBackend        = "memory"
	DefaultSQLitePath            = "data/gatehouse.db"
	DefaultSQLiteBusyTimeout     = 5 * time.Second
	DefaultSQLiteCheckpointEvery = time.Minute
	DefaultRedisAddr             = "127.0.0.1:6379"
	DefaultRedisOpTimeout        = 50 * time.Millisecond

	// Scheduler and limiter defaults
	DefaultSchedule               = "0 3 * * *"
	DefaultBucketSnapshotInterval = 30 * time.Second
)

// ApplyDefaults fills zero-valued fields with their defaults. Explicit
// values, including explicit zeros where zero is meaningful (tier
// ceilings, metrics enablement), are left untouched.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Storage.SQLite.BusyTimeout == 0 {
		cfg.Storage.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Storage.SQLite.CheckpointInterval == 0 {
		cfg.Storage.SQLite.CheckpointInterval = DefaultSQLiteCheckpointEvery
	}
	if cfg.Storage.Redis.Addr == "" {
		cfg.Storage.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Storage.Redis.OpTimeout == 0 {
		cfg.Storage.Redis.OpTimeout = DefaultRedisOpTimeout
	}

	if cfg.Scheduler.Schedule == "" {
		cfg.Scheduler.Schedule = DefaultSchedule
	}
	if cfg.Limits.SnapshotInterval == 0 {
		cfg.Limits.SnapshotInterval = DefaultBucketSnapshotInterval
	}
}
