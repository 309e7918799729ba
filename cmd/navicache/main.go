package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var kubeconfig, context, namespace, configPath string

	root := &cobra.Command{
		Use:   "navicache",
		Short: "Predictive cache and background fetcher for cluster navigation",
	}
	root.PersistentFlags().StringVar(&kubeconfig, "kubeconfig", "", "path to kubeconfig (defaults to standard loading rules)")
	root.PersistentFlags().StringVar(&context, "context", "", "kubeconfig context to use")
	root.PersistentFlags().StringVarP(&namespace, "namespace", "n", "default", "namespace to track")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a navicache config file")

	root.AddCommand(newRunCommand(&kubeconfig, &context, &namespace, &configPath))
	root.AddCommand(newStatsCommand(&kubeconfig, &context, &namespace, &configPath))
	root.AddCommand(newContextsCommand(&kubeconfig, &context))
	return root
}
