package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Marketen/validator-watcher/internal/adapters"
	"github.com/Marketen/validator-watcher/internal/application/domain"
	"github.com/Marketen/validator-watcher/internal/application/ports"
	"github.com/Marketen/validator-watcher/internal/application/services"
	"github.com/Marketen/validator-watcher/internal/config"
	"github.com/Marketen/validator-watcher/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "validator-watcher",
	Short:        "Watch beacon chain validators and export their duty performance",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the YAML configuration file")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	logger.Info("Starting validator-watcher")
	logger.Info("Beacon node URL: %s", cfg.BeaconNodeURL)
	logger.Info("Network: %s", cfg.Network)
	logger.Info("Watching %d validator keys", len(cfg.Watched))

	beacon, err := adapters.NewBeaconHTTPAdapter(ctx, adapters.BeaconOptions{
		Endpoint: cfg.BeaconNodeURL,
		Timeout:  cfg.BeaconTimeout,
		Retries:  cfg.BeaconRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to create beacon adapter: %w", err)
	}

	var execution ports.ExecutionAdapter
	if cfg.ExecutionNodeURL != "" {
		execution, err = adapters.NewExecutionAdapter(ctx, cfg.ExecutionNodeURL)
		if err != nil {
			return fmt.Errorf("failed to create execution adapter: %w", err)
		}
	} else if cfg.FeeRecipient != "" {
		logger.Warn("No execution node configured, builder payments cannot be checked")
	}

	metrics := adapters.NewPrometheusMetrics(cfg.Network)
	if err := metrics.Serve(ctx, cfg.MetricsAddress); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	alerts := adapters.NewLogAlerts()
	if cfg.SlackToken != "" {
		alerts = adapters.NewSlackAlerts(cfg.SlackToken, cfg.SlackChannel)
	}

	spec, err := beacon.GetChainSpec(ctx)
	if err != nil {
		return fmt.Errorf("failed to read chain spec: %w", err)
	}

	opts := services.WatcherOptions{
		Watched:            cfg.Watched,
		FeeRecipient:       cfg.FeeRecipient,
		LivenessSlotOffset: cfg.LivenessSlotOffset,
		RewardsSlotOffset:  cfg.RewardsSlotOffset,
		AggregationWorkers: cfg.AggregationWorkers,
		AlertDetailLimit:   cfg.AlertDetailLimit,
	}
	if configPath != "" {
		opts.ReloadWatched = func() ([]domain.WatchedKey, error) {
			return config.LoadWatched(configPath)
		}
	}

	watcher, err := services.NewWatcher(beacon, execution, metrics, alerts, spec, opts)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	clock := adapters.NewWallClock(spec)
	defer clock.Stop()

	watcher.Run(ctx, clock)
	logger.Warn("Shutting down...")
	return nil
}
