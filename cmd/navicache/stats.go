package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/navicore/navicache/internal/cacheconfig"
	"github.com/navicore/navicache/internal/k8sclient"
	"github.com/navicore/navicache/internal/obslog"
	"github.com/navicore/navicache/internal/orchestrator"
)

// newStatsCommand initializes the orchestrator, lets the warm prefetch
// run for a short settle period, then prints a one-shot snapshot of
// cache stats and fetcher metrics.
func newStatsCommand(kubeconfig, context_, namespace, configPath *string) *cobra.Command {
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print a one-shot cache/fetcher snapshot after a brief warm-up",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cacheconfig.Load(*configPath)
			if err != nil {
				return err
			}

			mgr := k8sclient.NewClientManager(*kubeconfig, *context_, cfg.Client.UserAgent)
			o := orchestrator.New(cfg, mgr, obslog.Nop())
			if err := o.Initialize(*namespace); err != nil {
				return fmt.Errorf("initializing orchestrator: %w", err)
			}
			defer o.Shutdown()

			time.Sleep(settle)

			cache, _ := o.GetCache()
			stats := cache.Stats()
			fetch, _ := o.Fetcher()
			metrics := fetch.Metrics()

			fmt.Fprintf(cmd.OutOrStdout(), "cache: entries=%d fresh=%d stale=%d error=%d memory=%.1f%%\n",
				stats.TotalEntries, stats.FreshEntries, stats.StaleEntries, stats.ErrorEntries, stats.MemoryUsagePercent())
			fmt.Fprintf(cmd.OutOrStdout(), "fetcher: requests=%d successes=%d failures=%d overflows=%d deduplicated=%d\n",
				metrics.TotalRequests, metrics.Successes, metrics.Failures, metrics.QueueOverflows, metrics.Deduplicated)
			return nil
		},
	}
	cmd.Flags().DurationVar(&settle, "settle", 3*time.Second, "how long to let the warm prefetch run before reporting")
	return cmd
}
