package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/navicore/navicache/internal/k8sclient"
)

// newContextsCommand lists the contexts available in the kubeconfig,
// marks the effective one, reports its detected auth method, and, with
// --probe, checks connectivity against it — the fail-fast check C7's get() skips in
// favour of letting the first real fetch surface any problem.
func newContextsCommand(kubeconfig, context_ *string) *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "contexts",
		Short: "List kubeconfig contexts, show the active one, and optionally probe connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := k8sclient.LoadRawConfig(*kubeconfig)
			if err != nil {
				return err
			}

			names, err := k8sclient.ListContexts(*kubeconfig)
			if err != nil {
				return err
			}
			current, err := k8sclient.CurrentContext(*kubeconfig)
			if err != nil {
				return err
			}
			effective := *context_
			if effective == "" {
				effective = current
			}

			for _, name := range names {
				marker := " "
				if name == effective {
					marker = "*"
				}
				methods := k8sclient.DetectAuthMethods(raw, name)
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (auth: %v)\n", marker, name, methods)
			}

			if !probe {
				return nil
			}

			bundle, err := k8sclient.NewBundle(*kubeconfig, effective, "navicache-contexts-probe")
			if err != nil {
				return fmt.Errorf("building client for %q: %w", effective, err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := k8sclient.TestConnection(ctx, bundle); err != nil {
				return fmt.Errorf("connectivity check for %q failed: %w", effective, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connectivity check for %q: ok\n", effective)
			return nil
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "also attempt a live connection to the effective context")
	return cmd
}
