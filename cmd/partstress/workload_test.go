package main

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/partalloc/pages"
	"github.com/vkngwrapper/partalloc/partition"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func smallConfig() Config {
	cfg := defaultConfig()
	cfg.Name = "test"
	cfg.Workers = 4
	cfg.Iterations = 2000
	cfg.MaxLive = 32
	cfg.PurgeEvery = 500
	cfg.Sizes = []SizeClass{
		{Min: 1, Max: 256, Weight: 80},
		{Min: 257, Max: 65536, Weight: 19},
		{Min: partition.GenericMaxBucketed + 1, Max: 2 << 20, Weight: 1},
	}
	return cfg
}

func readyStressRoot(t *testing.T, name string) *partition.GenericRoot {
	system, err := pages.NewSystem(testLogger())
	require.NoError(t, err)

	return partition.NewGenericRoot(partition.NewRuntime(testLogger(), system), partition.CreateOptions{Name: name})
}

func TestRunWorkload(t *testing.T) {
	cfg := smallConfig()
	root := readyStressRoot(t, cfg.Name)

	result, err := runWorkload(context.Background(), testLogger(), root, cfg)
	require.NoError(t, err)
	require.Equal(t, result.Allocs, result.Frees)
	require.Greater(t, result.Allocs, 0)
	require.Greater(t, result.Reallocs, 0)
	require.Equal(t, cfg.Workers*((cfg.Iterations-1)/cfg.PurgeEvery), result.Purges)

	stats := root.Statistics()
	require.Zero(t, stats.TotalActiveBytes)
	require.Zero(t, stats.TotalDirectMappedBytes)

	require.NoError(t, root.Validate())
	require.NoError(t, root.Shutdown())
}

func TestRunWorkloadIsDeterministicPerWorker(t *testing.T) {
	cfg := smallConfig()
	cfg.Workers = 1

	first, err := runWorkload(context.Background(), testLogger(), readyStressRoot(t, "first"), cfg)
	require.NoError(t, err)

	second, err := runWorkload(context.Background(), testLogger(), readyStressRoot(t, "second"), cfg)
	require.NoError(t, err)

	first.Elapsed, second.Elapsed = 0, 0
	require.Equal(t, first, second)
}

func TestRunWorkloadStopsOnCancel(t *testing.T) {
	cfg := smallConfig()
	root := readyStressRoot(t, cfg.Name)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := runWorkload(ctx, testLogger(), root, cfg)
	require.NoError(t, err)
	require.Zero(t, result.Allocs)
	require.NoError(t, root.Shutdown())
}

func TestRunWorkloadRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.Workers = 0

	_, err := runWorkload(context.Background(), testLogger(), readyStressRoot(t, "invalid"), cfg)
	require.ErrorContains(t, err, "workers must be at least 1")
}

func TestRunStress(t *testing.T) {
	cfg := smallConfig()
	cfg.Iterations = 200

	require.NoError(t, runStress(context.Background(), testLogger(), cfg))
}

func TestPrintSizes(t *testing.T) {
	require.NoError(t, printSizes(testLogger(), []int{1, 100, partition.GenericMaxBucketed + 1}))
	require.Error(t, printSizes(testLogger(), []int{-1}))
}
