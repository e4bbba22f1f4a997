package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "partstress",
	Short: "Drive concurrent workloads through a partition allocator",
	Long: `partstress runs randomized allocation workloads against a generic partition
root from a pool of workers, then reports the root's memory statistics. It is
used to shake out allocator bugs and to observe how slot spans, the empty page
ring and direct mappings behave under load.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML workload configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address while running")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(os.Stderr))
}
