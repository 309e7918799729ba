package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/navicore/navicache/internal/cacheconfig"
	"github.com/navicore/navicache/internal/k8sclient"
	"github.com/navicore/navicache/internal/obslog"
	"github.com/navicore/navicache/internal/orchestrator"
)

// newRunCommand starts the orchestrator (cache, fetcher, watchers) for
// namespace and blocks until interrupted, demonstrating the subscription
// + warm-prefetch flow an embedding UI would drive.
func newRunCommand(kubeconfig, context_, namespace, configPath *string) *cobra.Command {
	var logFile string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the cache, fetcher, and watchers for a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cacheconfig.Load(*configPath)
			if err != nil {
				return err
			}
			log := obslog.New(obslog.Options{Level: logLevel, FilePath: logFile})
			defer log.Sync() //nolint:errcheck

			mgr := k8sclient.NewClientManager(*kubeconfig, *context_, cfg.Client.UserAgent)
			o := orchestrator.New(cfg, mgr, log)
			if err := o.Initialize(*namespace); err != nil {
				return fmt.Errorf("initializing orchestrator: %w", err)
			}
			defer o.Shutdown()

			cache, _ := o.GetCache()
			subID, updates := cache.Subscriptions().Subscribe("*")
			defer cache.Subscriptions().Unsubscribe(subID)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "watching namespace %q, press Ctrl-C to stop\n", *namespace)
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case update := <-updates:
					fmt.Fprintf(cmd.OutOrStdout(), "update: kind=%s\n", update.Kind)
				case <-ticker.C:
					stats := cache.Stats()
					fmt.Fprintf(cmd.OutOrStdout(), "entries=%d fresh=%d memory=%.1f%%\n",
						stats.TotalEntries, stats.FreshEntries, stats.MemoryUsagePercent())
				}
			}
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file in addition to stdout")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	return cmd
}
