/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/syed-asak/es-tier-autoscaler/internal/actuator"
	"github.com/syed-asak/es-tier-autoscaler/internal/collector"
	"github.com/syed-asak/es-tier-autoscaler/internal/config"
	"github.com/syed-asak/es-tier-autoscaler/internal/controller"
	"github.com/syed-asak/es-tier-autoscaler/internal/dispatch"
	"github.com/syed-asak/es-tier-autoscaler/internal/health"
	"github.com/syed-asak/es-tier-autoscaler/internal/logging"
	"github.com/syed-asak/es-tier-autoscaler/internal/state"
)

var (
	configPath  string
	verbosity   int
	development bool
)

var rootCmd = &cobra.Command{
	Use:   "tier-autoscaler",
	Short: "Tier-aware autoscaler for clustered tiered storage",
	Long: `tier-autoscaler watches disk utilization across the tiers of a
clustered storage system and provisions or decommissions nodes tier by
tier, honoring zone balance and per-tier cooldowns. At most one scaling
operation is in flight per tier at any time.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file.")
	rootCmd.Flags().String("metrics-addr", "", "Listen address for the /metrics endpoint; overrides the config file.")
	rootCmd.Flags().Bool("dry-run", false, "Log scaling decisions without submitting jobs; overrides the config file.")
	rootCmd.Flags().String("poll-interval", "", "Control loop tick interval (e.g. 30s); overrides the config file.")
	rootCmd.Flags().IntVarP(&verbosity, "verbosity", "v", logging.INFO, "Log verbosity (0=info, 1=debug, 2=trace).")
	rootCmd.Flags().BoolVar(&development, "dev", false, "Use human-readable development log output.")

	viper.SetEnvPrefix("TIER_AUTOSCALER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("dry-run", rootCmd.Flags().Lookup("dry-run"))
	_ = viper.BindPFlag("metrics-addr", rootCmd.Flags().Lookup("metrics-addr"))
	_ = viper.BindPFlag("poll-interval", rootCmd.Flags().Lookup("poll-interval"))
}

func run(ctx context.Context) error {
	logger, err := logging.NewLogger(verbosity, development)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	ctx = logr.NewContext(ctx, logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg.ApplyOverrides(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	policies, err := cfg.TierPolicies()
	if err != nil {
		return fmt.Errorf("invalid tier policies: %w", err)
	}

	source, err := buildSource(cfg)
	if err != nil {
		return err
	}

	tiers := make([]string, 0, len(policies))
	for _, p := range policies {
		tiers = append(tiers, p.Tier)
	}
	states := state.NewRegistry(tiers)

	executor := dispatch.NewHTTPExecutor(cfg.Executor.URL, &http.Client{Timeout: cfg.CallTimeoutDuration()})
	dispatcher := dispatch.NewDispatcher(executor, states, cfg.Executor.Parameters,
		cfg.OperationTimeoutDuration(), cfg.DryRun)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	emitter := actuator.NewEmitter(registry)

	var checker health.Checker
	if cfg.Health.URL != "" {
		checker = health.NewHTTPChecker(cfg.Health.URL, &http.Client{Timeout: cfg.CallTimeoutDuration()})
	}

	loop := controller.New(source, dispatcher, states, policies, emitter, checker, controller.Options{
		PollInterval:    cfg.PollIntervalDuration(),
		CallTimeout:     cfg.CallTimeoutDuration(),
		DefaultCooldown: cfg.DefaultCooldownDuration(),
		SafetyFraction:  cfg.SafetyFraction(),
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsSrv := serveMetrics(ctx, logger, cfg.MetricsAddr, registry)

	logger.Info("starting tier autoscaler",
		"config", configPath, "tiers", tiers, "dryRun", cfg.DryRun, "source", source.Name())
	err = loop.Run(ctx)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return err
}

// buildSource picks the node snapshot source: Prometheus when configured,
// otherwise the cluster allocation API. Exactly one must be set.
func buildSource(cfg *config.Config) (collector.NodeSource, error) {
	switch {
	case cfg.Prometheus.URL != "" && cfg.ClusterAPI.URL != "":
		return nil, fmt.Errorf("configuration sets both prometheus.url and clusterAPI.url; pick one")
	case cfg.Prometheus.URL != "":
		return collector.NewPromSource(cfg.Prometheus.URL, cfg.Prometheus.MembershipQuery, cfg.Prometheus.DiskUsageQuery)
	case cfg.ClusterAPI.URL != "":
		return collector.NewClusterAPISource(cfg.ClusterAPI.URL, nil), nil
	default:
		return nil, fmt.Errorf("configuration sets neither prometheus.url nor clusterAPI.url")
	}
}

// serveMetrics starts the /metrics endpoint in the background. An empty
// addr disables it. Listen failures are fatal only for metrics, not for
// the control loop.
func serveMetrics(ctx context.Context, logger logr.Logger, addr string, registry *prometheus.Registry) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "metrics server stopped")
		}
	}()
	return srv
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
