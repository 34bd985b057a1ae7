package config

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"

	"github.com/robfig/cron/v3"

	"brandpeek/gatehouse/pkg/keys"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "storage.backend").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a
// ValidationError if any rule fails. All errors are collected and
// returned together rather than stopping at the first.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateTiers(cfg.Tiers)...)
	errs = append(errs, validatePackages(cfg.Packages)...)
	errs = append(errs, validateKeys(cfg.Keys, cfg.Tiers)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError
	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{"server.listen_address", "must not be empty"})
	}
	if cfg.ReadTimeout <= 0 {
		errs = append(errs, FieldError{"server.read_timeout", "must be positive"})
	}
	if cfg.WriteTimeout <= 0 {
		errs = append(errs, FieldError{"server.write_timeout", "must be positive"})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{"telemetry.logging.level",
			fmt.Sprintf("unknown level %q, must be one of: debug, info, warn, error", cfg.Logging.Level)})
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{"telemetry.logging.format",
			fmt.Sprintf("unknown format %q, must be one of: json, text", cfg.Logging.Format)})
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{"telemetry.metrics.path", "must start with /"})
	}
	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError
	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{"storage.sqlite.path", "must not be empty"})
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			errs = append(errs, FieldError{"storage.redis.addr", "must not be empty"})
		}
		if cfg.Redis.OpTimeout <= 0 {
			errs = append(errs, FieldError{"storage.redis.op_timeout", "must be positive"})
		}
	default:
		errs = append(errs, FieldError{"storage.backend",
			fmt.Sprintf("unknown backend %q, must be one of: memory, sqlite, redis", cfg.Backend)})
	}
	return errs
}

func validateScheduler(cfg *SchedulerConfig) []FieldError {
	var errs []FieldError
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		errs = append(errs, FieldError{"scheduler.schedule",
			fmt.Sprintf("invalid cron expression %q: %v", cfg.Schedule, err)})
	}
	return errs
}

func validateTiers(tiers []TierConfig) []FieldError {
	var errs []FieldError
	if len(tiers) == 0 {
		errs = append(errs, FieldError{"tiers", "at least one tier is required"})
	}
	seen := make(map[string]bool, len(tiers))
	for i, t := range tiers {
		field := func(f string) string { return fmt.Sprintf("tiers[%d].%s", i, f) }
		if t.Name == "" {
			errs = append(errs, FieldError{field("name"), "must not be empty"})
			continue
		}
		if seen[t.Name] {
			errs = append(errs, FieldError{field("name"), fmt.Sprintf("duplicate tier name %q", t.Name)})
		}
		seen[t.Name] = true
		if t.RequestsPerSecond < 0 || t.RequestsPerMinute < 0 || t.RequestsPerHour < 0 {
			errs = append(errs, FieldError{field("requests_per_*"), "window ceilings must not be negative"})
		}
		if t.MonthlyQuota < 0 {
			errs = append(errs, FieldError{field("monthly_quota"), "must not be negative (0 means unlimited)"})
		}
	}
	return errs
}

func validatePackages(packages []PackageConfig) []FieldError {
	var errs []FieldError
	seen := make(map[string]bool, len(packages))
	for i, p := range packages {
		field := func(f string) string { return fmt.Sprintf("packages[%d].%s", i, f) }
		if p.Name == "" {
			errs = append(errs, FieldError{field("name"), "must not be empty"})
			continue
		}
		if seen[p.Name] {
			errs = append(errs, FieldError{field("name"), fmt.Sprintf("duplicate package name %q", p.Name)})
		}
		seen[p.Name] = true
		if p.Size <= 0 {
			errs = append(errs, FieldError{field("size"), "must be positive"})
		}
		if p.DurationMonths <= 0 {
			errs = append(errs, FieldError{field("duration_months"), "must be positive"})
		}
		if p.PriceUSD < 0 {
			errs = append(errs, FieldError{field("price_usd"), "must not be negative"})
		}
	}
	return errs
}

func validateKeys(keyList []KeyConfig, tiers []TierConfig) []FieldError {
	var errs []FieldError
	tierNames := make(map[string]bool, len(tiers))
	for _, t := range tiers {
		tierNames[t.Name] = true
	}

	seen := make(map[string]bool, len(keyList))
	for i, k := range keyList {
		field := func(f string) string { return fmt.Sprintf("keys[%d].%s", i, f) }
		if k.ID == "" {
			errs = append(errs, FieldError{field("id"), "must not be empty"})
			continue
		}
		if seen[k.ID] {
			errs = append(errs, FieldError{field("id"), fmt.Sprintf("duplicate key id %q", k.ID)})
		}
		seen[k.ID] = true

		if raw, err := hex.DecodeString(k.TokenHash); err != nil || len(raw) != 32 {
			errs = append(errs, FieldError{field("token_hash"), "must be a 64-character hex SHA-256 digest"})
		}
		if !tierNames[k.Tier] {
			errs = append(errs, FieldError{field("tier"), fmt.Sprintf("unknown tier %q", k.Tier)})
		}
		for _, c := range k.AllowedCIDRs {
			if _, perr := netip.ParsePrefix(c); perr != nil {
				if _, aerr := netip.ParseAddr(c); aerr != nil {
					errs = append(errs, FieldError{field("allowed_cidrs"),
						fmt.Sprintf("invalid address or CIDR %q", c)})
				}
			}
		}
		for _, s := range k.Scopes {
			if _, err := keys.ParseScope(s); err != nil {
				errs = append(errs, FieldError{field("scopes"), fmt.Sprintf("unknown scope %q", s)})
			}
		}
	}
	return errs
}
