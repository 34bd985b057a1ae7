package config

import "time"

// Config is the root configuration for the gatehouse service.
type Config struct {
	// Server configures the HTTP boundary.
	Server ServerConfig `yaml:"server"`

	// Telemetry configures logging and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Storage selects and configures the counter and add-on backend.
	Storage StorageConfig `yaml:"storage"`

	// Scheduler configures the monthly rollover.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Limits configures rate-limit bucket persistence.
	Limits LimitsConfig `yaml:"limits"`

	// Tiers is the pricing tier catalog.
	Tiers []TierConfig `yaml:"tiers"`

	// Packages is the purchasable add-on catalog.
	Packages []PackageConfig `yaml:"packages"`

	// Keys is the static API key list loaded into the registry.
	Keys []KeyConfig `yaml:"keys"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// ListenAddress is the host:port to bind (e.g., "127.0.0.1:8080").
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig configures observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is one of: json, text.
	Format string `yaml:"format"`

	// AddSource includes source file:line in log records.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// StorageConfig selects the persistence backend for quota counters,
// bucket snapshots, and add-ons.
type StorageConfig struct {
	// Backend is one of: memory, sqlite, redis.
	Backend string `yaml:"backend"`

	SQLite SQLiteConfig `yaml:"sqlite"`
	Redis  RedisConfig  `yaml:"redis"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file location.
	Path string `yaml:"path"`

	// BusyTimeout is how long a contended write waits before failing.
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// RedisConfig configures the Redis counter backend.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr"`

	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// OpTimeout bounds each counter operation, keeping the admission
	// hot path within its latency target.
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// SchedulerConfig configures the rollover scheduler.
type SchedulerConfig struct {
	// Schedule is a standard cron expression (e.g., "0 3 * * *").
	Schedule string `yaml:"schedule"`
}

// LimitsConfig configures rate-limit behavior.
type LimitsConfig struct {
	// SnapshotInterval is how often live bucket levels are persisted
	// so restarts do not grant full fresh bursts.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// TierConfig describes one pricing tier.
type TierConfig struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`

	// Per-window request ceilings; 0 means the window is unlimited.
	RequestsPerSecond int `yaml:"requests_per_second"`
	RequestsPerMinute int `yaml:"requests_per_minute"`
	RequestsPerHour   int `yaml:"requests_per_hour"`

	// MonthlyQuota is the base calls per calendar month; 0 means
	// unlimited.
	MonthlyQuota int64 `yaml:"monthly_quota"`

	MonthlyPriceUSD float64 `yaml:"monthly_price_usd"`
}

// PackageConfig describes one purchasable add-on package.
type PackageConfig struct {
	Name           string  `yaml:"name"`
	DisplayName    string  `yaml:"display_name"`
	Size           int64   `yaml:"size"`
	PriceUSD       float64 `yaml:"price_usd"`
	DurationMonths int     `yaml:"duration_months"`
	AutoRenew      bool    `yaml:"auto_renew"`
}

// KeyConfig describes one API key record.
type KeyConfig struct {
	ID string `yaml:"id"`

	// TokenHash is the SHA-256 hex digest of the presented token.
	TokenHash string `yaml:"token_hash"`

	OwnerID string `yaml:"owner_id"`
	Tier    string `yaml:"tier"`

	// AllowedDomains lists exact hosts or *.wildcard patterns; empty
	// together with AllowedCIDRs means the key is domainless.
	AllowedDomains []string `yaml:"allowed_domains"`

	// AllowedCIDRs lists IP addresses or CIDR ranges.
	AllowedCIDRs []string `yaml:"allowed_cidrs"`

	// Environment tags the key (e.g., "production", "staging");
	// empty matches any environment.
	Environment string `yaml:"environment"`

	Active    bool       `yaml:"active"`
	ExpiresAt *time.Time `yaml:"expires_at"`

	// Scopes lists permitted operations (read, extract, forward,
	// admin).
	Scopes []string `yaml:"scopes"`
}
