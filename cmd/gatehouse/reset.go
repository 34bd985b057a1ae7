package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"brandpeek/gatehouse/pkg/config"
	"brandpeek/gatehouse/pkg/keys"
	"brandpeek/gatehouse/pkg/limits/addons"
	"brandpeek/gatehouse/pkg/limits/reset"
	"brandpeek/gatehouse/pkg/telemetry/logging"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Run a quota rollover immediately",
	Long: `Run a quota rollover immediately against the configured storage.

Stale monthly counters are rolled into the current calendar month and
archived, and due add-ons are expired or auto-renewed. The operation is
idempotent: running it twice in the same month changes nothing the
second time, so it is safe as an operational recovery step.`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Telemetry.Logging.Level,
		Format: cfg.Telemetry.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetDefault()

	counters, addOnStore, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer counters.Close()
	defer addOnStore.Close()

	registry := keys.NewRegistry(cfg.TierCatalog(), cfg.KeyRecords())
	ledger := addons.NewLedger(addOnStore, cfg.PackageCatalog(), logger.Slog())
	scheduler := reset.NewScheduler(registry, counters, ledger, cfg.Scheduler.Schedule)

	result, err := scheduler.RunNow(context.Background())
	if err != nil {
		return fmt.Errorf("rollover failed: %w", err)
	}

	fmt.Printf("counters: %d processed, %d succeeded, %d failed\n",
		result.Processed, result.Succeeded, result.Failed)
	fmt.Printf("add-ons:  %d processed, %d failed\n",
		result.AddOnsProcessed, result.AddOnsFailed)
	if result.Failed > 0 || result.AddOnsFailed > 0 {
		return fmt.Errorf("rollover completed with failures")
	}
	return nil
}
