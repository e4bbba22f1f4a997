package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/partalloc/partition"
)

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "workload.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.Equal(t, defaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
name = "small"
workers = 2
max_live = 16
realloc_ratio = 0.0

[[sizes]]
min = 1
max = 64
weight = 1
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	defaults := defaultConfig()
	require.Equal(t, "small", cfg.Name)
	require.Equal(t, 2, cfg.Workers)
	require.Equal(t, 16, cfg.MaxLive)
	require.Zero(t, cfg.ReallocRatio)
	require.Equal(t, []SizeClass{{Min: 1, Max: 64, Weight: 1}}, cfg.Sizes)

	require.Equal(t, defaults.Iterations, cfg.Iterations)
	require.Equal(t, defaults.PurgeEvery, cfg.PurgeEvery)
	require.Equal(t, defaults.Seed, cfg.Seed)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
workers = 2
worker_count = 4
`)

	_, err := loadConfig(path)
	require.ErrorContains(t, err, "worker_count")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	testCases := map[string]struct {
		mutate func(cfg *Config)
		err    string
	}{
		"NoWorkers": {
			mutate: func(cfg *Config) { cfg.Workers = 0 },
			err:    "workers must be at least 1",
		},
		"NegativeIterations": {
			mutate: func(cfg *Config) { cfg.Iterations = -1 },
			err:    "iterations must not be negative",
		},
		"NoLiveAllocations": {
			mutate: func(cfg *Config) { cfg.MaxLive = 0 },
			err:    "max_live must be at least 1",
		},
		"ReallocRatioTooLarge": {
			mutate: func(cfg *Config) { cfg.ReallocRatio = 1.5 },
			err:    "realloc_ratio must be between 0 and 1",
		},
		"NegativePurge": {
			mutate: func(cfg *Config) { cfg.PurgeEvery = -10 },
			err:    "purge_every must not be negative",
		},
		"NoSizes": {
			mutate: func(cfg *Config) { cfg.Sizes = nil },
			err:    "at least one size class",
		},
		"EmptyRange": {
			mutate: func(cfg *Config) { cfg.Sizes = []SizeClass{{Min: 0, Max: 10, Weight: 1}} },
			err:    "invalid range",
		},
		"InvertedRange": {
			mutate: func(cfg *Config) { cfg.Sizes = []SizeClass{{Min: 20, Max: 10, Weight: 1}} },
			err:    "invalid range",
		},
		"TooLarge": {
			mutate: func(cfg *Config) {
				cfg.Sizes = []SizeClass{{Min: 1, Max: partition.GenericMaxDirectMapped + 1, Weight: 1}}
			},
			err: "the largest allocation is",
		},
		"NegativeWeight": {
			mutate: func(cfg *Config) { cfg.Sizes = []SizeClass{{Min: 1, Max: 10, Weight: -1}} },
			err:    "negative weight",
		},
		"ZeroWeight": {
			mutate: func(cfg *Config) { cfg.Sizes = []SizeClass{{Min: 1, Max: 10, Weight: 0}} },
			err:    "positive total weight",
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			cfg := defaultConfig()
			testCase.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), testCase.err)
		})
	}
}
