// Package config defines the YAML configuration for the gatehouse
// service: server binding, storage backend selection, the tier and
// package catalogs, the static key list, and the rollover schedule.
//
// Loading follows a fixed sequence:
//
//  1. Parse YAML from file
//  2. Apply default values
//  3. Apply GATEHOUSE_* environment variable overrides
//  4. Validate the final configuration
//
// A config file can also be watched for changes; on rewrite the key
// list is hot-reloaded into the registry without a restart.
package config
