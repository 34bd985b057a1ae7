package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"brandpeek/gatehouse/pkg/admission"
	"brandpeek/gatehouse/pkg/config"
	"brandpeek/gatehouse/pkg/guard"
	"brandpeek/gatehouse/pkg/keys"
	"brandpeek/gatehouse/pkg/limits/addons"
	"brandpeek/gatehouse/pkg/limits/quota"
	"brandpeek/gatehouse/pkg/limits/ratelimit"
	"brandpeek/gatehouse/pkg/limits/reset"
	"brandpeek/gatehouse/pkg/limits/storage"
	"brandpeek/gatehouse/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	watch         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gatehouse admission server",
	Long: `Start the gatehouse admission server with the specified configuration.

The server exposes POST /v1/admit, which the fronting API calls before
forwarding each request. The response carries the decision, the
X-RateLimit-* headers, and the status code the API should relay.

Examples:
  # Start with default config
  gatehouse run

  # Start with custom config
  gatehouse run --config /etc/gatehouse/config.yaml

  # Override listen address
  gatehouse run --listen 0.0.0.0:8080

  # Validate config without starting server
  gatehouse run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", true, "hot-reload keys when the config file changes")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetDefault()

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	counters, addOnStore, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer counters.Close()
	defer addOnStore.Close()

	registry := keys.NewRegistry(cfg.TierCatalog(), cfg.KeyRecords())
	limiter := ratelimit.NewLimiter(counters, logger.Slog())
	tracker := quota.NewTracker(counters, logger.Slog())
	ledger := addons.NewLedger(addOnStore, cfg.PackageCatalog(), logger.Slog())
	scheduler := reset.NewScheduler(registry, counters, ledger, cfg.Scheduler.Schedule)

	controller := admission.NewController(
		registry, limiter, tracker, ledger, scheduler,
		admission.NewMetrics(), logger.Slog(),
	)

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start rollover scheduler: %w", err)
	}

	if runFlags.watch {
		watcher, err := config.NewWatcher(cfgFile, logger.Slog())
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		go func() {
			if werr := watcher.Watch(ctx, func(next *config.Config) {
				registry.Replace(next.KeyRecords())
			}); werr != nil {
				logger.Warn("config watcher exited", "error", werr)
			}
		}()
	}

	// Persist live bucket levels so a restart does not grant every key
	// a fresh full burst.
	go snapshotLoop(ctx, limiter, cfg.Limits.SnapshotInterval, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/admit", admitHandler(controller))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Telemetry.Metrics.Enabled {
		mux.Handle("GET "+cfg.Telemetry.Metrics.Path, promhttp.Handler())
	}

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gatehouse listening",
			"address", cfg.Server.ListenAddress,
			"storage", cfg.Storage.Backend,
			"tiers", len(cfg.Tiers),
			"keys", len(cfg.Keys))
		if serr := srv.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", "error", err)
	}
	scheduler.Stop()
	if err := limiter.Persist(shutdownCtx); err != nil {
		logger.Warn("final bucket snapshot failed", "error", err)
	}
	return nil
}

// openStores builds the counter and add-on stores for the configured
// backend. Redis serves counters only; add-ons ride on SQLite in that
// mode because their lifecycle records are relational and low-volume.
func openStores(cfg *config.Config) (storage.CounterStore, storage.AddOnStore, error) {
	switch cfg.Storage.Backend {
	case "memory":
		mem := storage.NewMemoryStore()
		return mem, mem, nil

	case "sqlite":
		st, err := storage.NewSQLiteStoreWithConfig(storage.SQLiteConfig{
			Path:               cfg.Storage.SQLite.Path,
			BusyTimeout:        cfg.Storage.SQLite.BusyTimeout,
			CheckpointInterval: cfg.Storage.SQLite.CheckpointInterval,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, st, nil

	case "redis":
		counters, err := storage.NewRedisCounterStore(storage.RedisConfig{
			Addr:      cfg.Storage.Redis.Addr,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			OpTimeout: cfg.Storage.Redis.OpTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		addOnStore, err := storage.NewSQLiteStoreWithConfig(storage.SQLiteConfig{
			Path:               cfg.Storage.SQLite.Path,
			BusyTimeout:        cfg.Storage.SQLite.BusyTimeout,
			CheckpointInterval: cfg.Storage.SQLite.CheckpointInterval,
		})
		if err != nil {
			counters.Close()
			return nil, nil, fmt.Errorf("failed to open sqlite add-on store: %w", err)
		}
		return counters, addOnStore, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// snapshotLoop periodically persists bucket levels until the context
// is cancelled.
func snapshotLoop(ctx context.Context, limiter *ratelimit.Limiter, interval time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := limiter.Persist(ctx); err != nil {
				logger.Warn("bucket snapshot failed", "error", err)
			}
		}
	}
}

// admitResponse is the JSON body returned by /v1/admit.
type admitResponse struct {
	Allowed             bool                    `json:"allowed"`
	Reason              string                  `json:"reason,omitempty"`
	Tier                string                  `json:"tier,omitempty"`
	Remaining           int64                   `json:"remaining"`
	ResetSeconds        int64                   `json:"reset_seconds"`
	UsedAddOn           bool                    `json:"used_add_on,omitempty"`
	AdditionalAvailable int64                   `json:"additional_available"`
	TotalRemaining      int64                   `json:"total_remaining"`
	Recommended         []recommendationPayload `json:"recommended,omitempty"`
}

type recommendationPayload struct {
	Package       string  `json:"package"`
	Quantity      int64   `json:"quantity"`
	TotalCalls    int64   `json:"total_calls"`
	TotalPriceUSD float64 `json:"total_price_usd"`
}

// admitHandler exposes the admission pipeline over HTTP for the
// fronting API.
func admitHandler(controller *admission.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Api-Key")
		if token == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				token = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		remoteIP := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			remoteIP = host
		}

		result := controller.Admit(r.Context(), token, guard.RequestOrigin{
			Origin:      r.Header.Get("Origin"),
			Referer:     r.Header.Get("Referer"),
			RemoteIP:    remoteIP,
			Environment: r.Header.Get("X-Environment"),
		})

		for k, v := range result.Headers() {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(result.Reason.HTTPStatus())

		resp := admitResponse{
			Allowed:             result.Allowed,
			Reason:              string(result.Reason),
			ResetSeconds:        result.QuotaResetSeconds,
			UsedAddOn:           result.UsedAddOn,
			AdditionalAvailable: result.AdditionalAvailable,
			TotalRemaining:      result.TotalRemaining,
		}
		if result.Tier != nil {
			resp.Tier = result.Tier.Name
		}
		if result.Quota != nil {
			resp.Remaining = result.Quota.Remaining
		}
		for _, rec := range result.Recommended {
			resp.Recommended = append(resp.Recommended, recommendationPayload{
				Package:       rec.Package.Name,
				Quantity:      rec.Quantity,
				TotalCalls:    rec.TotalCalls,
				TotalPriceUSD: rec.TotalPriceUSD,
			})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
