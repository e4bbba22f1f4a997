package main

import (
	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/partalloc/partition"
)

// SizeClass is a range of request sizes drawn with a relative weight
type SizeClass struct {
	Min    int `toml:"min"`
	Max    int `toml:"max"`
	Weight int `toml:"weight"`
}

// Config describes one workload
type Config struct {
	// Name labels the root in logs, stats, and metrics
	Name       string `toml:"name"`
	Workers    int    `toml:"workers"`
	Iterations int    `toml:"iterations"`
	// MaxLive caps the allocations each worker holds at once
	MaxLive int `toml:"max_live"`
	// ReallocRatio is the fraction of operations that resize a live allocation
	ReallocRatio float64 `toml:"realloc_ratio"`
	// PurgeEvery makes each worker purge the root after this many iterations. 0 disables it.
	PurgeEvery int   `toml:"purge_every"`
	Seed       int64 `toml:"seed"`

	Sizes []SizeClass `toml:"sizes"`
}

func defaultConfig() Config {
	return Config{
		Name:         "partstress",
		Workers:      8,
		Iterations:   100000,
		MaxLive:      256,
		ReallocRatio: 0.1,
		PurgeEvery:   10000,
		Seed:         1,
		Sizes: []SizeClass{
			{Min: 1, Max: 256, Weight: 70},
			{Min: 257, Max: 16384, Weight: 25},
			{Min: 16385, Max: partition.GenericMaxBucketed, Weight: 4},
			{Min: partition.GenericMaxBucketed + 1, Max: 8 << 20, Weight: 1},
		},
	}
}

// loadConfig reads a workload from path on top of the defaults. An empty path returns the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var fileCfg Config
	meta, err := toml.DecodeFile(path, &fileCfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "could not read workload configuration %s", path)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return cfg, errors.Newf("unknown configuration key %s in %s", undecoded[0].String(), path)
	}

	if meta.IsDefined("name") {
		cfg.Name = fileCfg.Name
	}
	if meta.IsDefined("workers") {
		cfg.Workers = fileCfg.Workers
	}
	if meta.IsDefined("iterations") {
		cfg.Iterations = fileCfg.Iterations
	}
	if meta.IsDefined("max_live") {
		cfg.MaxLive = fileCfg.MaxLive
	}
	if meta.IsDefined("realloc_ratio") {
		cfg.ReallocRatio = fileCfg.ReallocRatio
	}
	if meta.IsDefined("purge_every") {
		cfg.PurgeEvery = fileCfg.PurgeEvery
	}
	if meta.IsDefined("seed") {
		cfg.Seed = fileCfg.Seed
	}
	if meta.IsDefined("sizes") {
		cfg.Sizes = fileCfg.Sizes
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Workers < 1 {
		return errors.Newf("workers must be at least 1, but is %d", c.Workers)
	}
	if c.Iterations < 0 {
		return errors.Newf("iterations must not be negative, but is %d", c.Iterations)
	}
	if c.MaxLive < 1 {
		return errors.Newf("max_live must be at least 1, but is %d", c.MaxLive)
	}
	if c.ReallocRatio < 0 || c.ReallocRatio > 1 {
		return errors.Newf("realloc_ratio must be between 0 and 1, but is %f", c.ReallocRatio)
	}
	if c.PurgeEvery < 0 {
		return errors.Newf("purge_every must not be negative, but is %d", c.PurgeEvery)
	}
	if len(c.Sizes) == 0 {
		return errors.New("at least one size class is required")
	}

	totalWeight := 0
	for i, class := range c.Sizes {
		if class.Min < 1 || class.Max < class.Min {
			return errors.Newf("size class %d has an invalid range [%d, %d]", i, class.Min, class.Max)
		}
		if class.Max > partition.GenericMaxDirectMapped {
			return errors.Newf("size class %d allows %d bytes, but the largest allocation is %d", i, class.Max, partition.GenericMaxDirectMapped)
		}
		if class.Weight < 0 {
			return errors.Newf("size class %d has a negative weight", i)
		}
		totalWeight += class.Weight
	}
	if totalWeight == 0 {
		return errors.New("size classes must have a positive total weight")
	}

	return nil
}
