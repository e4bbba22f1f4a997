package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/partalloc/pages"
	"github.com/vkngwrapper/partalloc/partition"
	"golang.org/x/exp/slog"
)

var (
	runWorkers    int
	runIterations int
	runSeed       int64
	runDetailed   bool
)

func init() {
	cmd := newRunCmd()
	cmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "Number of concurrent workers (overrides the configuration)")
	cmd.Flags().IntVarP(&runIterations, "iterations", "n", 0, "Operations per worker (overrides the configuration)")
	cmd.Flags().Int64Var(&runSeed, "seed", 0, "Random seed (overrides the configuration)")
	cmd.Flags().BoolVar(&runDetailed, "detailed", false, "Include every bucket and direct mapping in the stats report")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workload and print the root's statistics",
		Long: `The run command creates a generic partition root, drives the configured
workload through it and prints the root's statistics as JSON.

Example:
  partstress run
  partstress run --config workload.toml --workers 16
  partstress run --metrics-addr :9090 --iterations 10000000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("workers") {
				cfg.Workers = runWorkers
			}
			if cmd.Flags().Changed("iterations") {
				cfg.Iterations = runIterations
			}
			if cmd.Flags().Changed("seed") {
				cfg.Seed = runSeed
			}

			return runStress(cmd.Context(), newLogger(), cfg)
		},
	}
	return cmd
}

func serveMetrics(logger *slog.Logger, addr string, collector prometheus.Collector) (func(), error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collector); err != nil {
		return nil, errors.Wrap(err, "could not register partition metrics")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "could not listen on %s", addr)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", listener.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

func runStress(ctx context.Context, logger *slog.Logger, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	system, err := pages.NewSystem(logger)
	if err != nil {
		return err
	}

	rt := partition.NewRuntime(logger, system)
	root := partition.NewGenericRoot(rt, partition.CreateOptions{
		Name: cfg.Name,
		OOMHook: func() {
			logger.Error("partition allocator is out of memory", slog.String("root", cfg.Name))
		},
	})

	if metricsAddr != "" {
		shutdown, err := serveMetrics(logger, metricsAddr, partition.NewCollector(root))
		if err != nil {
			return err
		}
		defer shutdown()
	}

	_, workloadErr := runWorkload(ctx, logger, root, cfg)

	if err := root.Validate(); err != nil {
		workloadErr = errors.CombineErrors(workloadErr, errors.Wrap(err, "root failed validation"))
	}

	fmt.Fprintln(os.Stdout, root.BuildStatsString(runDetailed))

	if err := root.Shutdown(); err != nil {
		workloadErr = errors.CombineErrors(workloadErr, err)
	}

	return workloadErr
}
