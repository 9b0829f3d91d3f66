// Package config provides configuration loading and management.
package config

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/coral-mesh/ptrscan/internal/chain"
	"github.com/coral-mesh/ptrscan/internal/constants"
	"github.com/coral-mesh/ptrscan/internal/engine"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/filter"
	"github.com/coral-mesh/ptrscan/internal/logging"
	"github.com/coral-mesh/ptrscan/internal/memport"
	"github.com/coral-mesh/ptrscan/internal/ptrmap"
	"github.com/coral-mesh/ptrscan/internal/scan"
)

// Config is the ~/.ptrscan/config.yaml document.
type Config struct {
	Version string       `yaml:"version"`
	Log     LogConfig    `yaml:"log"`
	Target  TargetConfig `yaml:"target"`
	Syntax  chain.Syntax `yaml:"syntax"`
	Build   BuildConfig  `yaml:"build"`
	Scan    ScanConfig   `yaml:"scan"`
	Filter  FilterConfig `yaml:"filter"`
}

// LogConfig controls the zerolog logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"PTRSCAN_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PTRSCAN_LOG_PRETTY"`
}

// TargetConfig describes how pointers are laid out in the scanned process.
type TargetConfig struct {
	PointerWidth int    `yaml:"pointer_width" env:"PTRSCAN_POINTER_WIDTH"`
	ByteOrder    string `yaml:"byte_order" env:"PTRSCAN_BYTE_ORDER"`
}

// BuildConfig tunes pointer map construction.
type BuildConfig struct {
	ChunkSize   int    `yaml:"chunk_size" env:"PTRSCAN_CHUNK_SIZE"`
	Workers     int    `yaml:"workers" env:"PTRSCAN_BUILD_WORKERS"`
	MaxEdges    uint64 `yaml:"max_edges" env:"PTRSCAN_MAX_EDGES"`
	CheckMemory bool   `yaml:"check_memory" env:"PTRSCAN_CHECK_MEMORY"`
	// AllReadable records read-only regions as well as writable ones.
	AllReadable bool `yaml:"all_readable" env:"PTRSCAN_ALL_READABLE"`
}

// ScanConfig holds defaults for chain searches. Command line flags override them.
type ScanConfig struct {
	MaxDepth       int    `yaml:"max_depth" env:"PTRSCAN_MAX_DEPTH"`
	Workers        int    `yaml:"workers" env:"PTRSCAN_SCAN_WORKERS"`
	Below          uint64 `yaml:"below" env:"PTRSCAN_BELOW"`
	Above          uint64 `yaml:"above" env:"PTRSCAN_ABOVE"`
	CollapseCycles bool   `yaml:"collapse_cycles" env:"PTRSCAN_COLLAPSE_CYCLES"`
}

// FilterConfig tunes chain filtering.
type FilterConfig struct {
	Workers      int `yaml:"workers" env:"PTRSCAN_FILTER_WORKERS"`
	CacheEntries int `yaml:"cache_entries" env:"PTRSCAN_CACHE_ENTRIES"`
}

// DefaultConfig returns a config for a 64-bit little endian target.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
		Target: TargetConfig{
			PointerWidth: constants.DefaultPointerWidth,
			ByteOrder:    memport.OrderName(memport.CodecFor64().Order()),
		},
		Syntax: chain.DefaultSyntax(),
		Build: BuildConfig{
			ChunkSize:   constants.DefaultChunkSize,
			Workers:     constants.DefaultBuildWorkers,
			CheckMemory: true,
		},
		Scan: ScanConfig{
			MaxDepth:       constants.DefaultMaxDepth,
			Workers:        constants.DefaultScanWorkers,
			CollapseCycles: true,
		},
		Filter: FilterConfig{
			Workers:      constants.DefaultFilterWorkers,
			CacheEntries: constants.DefaultReadCacheEntries,
		},
	}
}

// Codec returns the pointer codec for the configured target.
func (c *Config) Codec() (memport.Codec, error) {
	order, err := memport.ParseByteOrder(c.Target.ByteOrder)
	if err != nil {
		return memport.Codec{}, err
	}
	return memport.NewCodec(c.Target.PointerWidth, order)
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// BuildOptions returns pointer map build options.
func (c *Config) BuildOptions(logger zerolog.Logger) (ptrmap.BuildOptions, error) {
	codec, err := c.Codec()
	if err != nil {
		return ptrmap.BuildOptions{}, err
	}
	opts := ptrmap.DefaultBuildOptions()
	opts.Codec = codec
	opts.ChunkSize = c.Build.ChunkSize
	opts.Workers = c.Build.Workers
	opts.MaxEdges = c.Build.MaxEdges
	opts.CheckMemory = c.Build.CheckMemory
	opts.Logger = logger
	if c.Build.AllReadable {
		opts.RegionFilter = memport.AllReadable
	}
	return opts, nil
}

// FilterOptions returns chain filter options.
func (c *Config) FilterOptions(logger zerolog.Logger) (filter.Options, error) {
	codec, err := c.Codec()
	if err != nil {
		return filter.Options{}, err
	}
	opts := filter.DefaultOptions()
	opts.Codec = codec
	opts.Syntax = c.Syntax
	opts.Workers = c.Filter.Workers
	opts.CacheEntries = c.Filter.CacheEntries
	opts.Logger = logger
	return opts, nil
}

// EngineOptions assembles engine options on fs.
func (c *Config) EngineOptions(fs afero.Fs, logger zerolog.Logger) (engine.Options, error) {
	build, err := c.BuildOptions(logger)
	if err != nil {
		return engine.Options{}, err
	}
	flt, err := c.FilterOptions(logger)
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Fs:     fs,
		Build:  build,
		Filter: flt,
		Syntax: c.Syntax,
		Logger: logger,
	}, nil
}

// ScanParams returns search parameters for target seeded from the scan section.
func (c *Config) ScanParams(target uint64) scan.Params {
	p := scan.DefaultParams(target)
	p.MaxDepth = c.Scan.MaxDepth
	p.Tolerance = scan.OffsetRange{Below: c.Scan.Below, Above: c.Scan.Above}
	p.CollapseCycles = c.Scan.CollapseCycles
	return p
}

// Validate checks the config for values no component accepts.
func (c *Config) Validate() error {
	if _, err := c.Codec(); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if err := c.Syntax.Validate(); err != nil {
		return fmt.Errorf("syntax: %w", err)
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("log.level %q is not a known level: %w", c.Log.Level, perrors.ErrInvalidParameter)
	}
	if c.Build.ChunkSize < c.Target.PointerWidth {
		return fmt.Errorf("build.chunk_size %d is smaller than the pointer width: %w", c.Build.ChunkSize, perrors.ErrInvalidParameter)
	}
	for _, f := range []struct {
		name  string
		value int
	}{
		{"build.workers", c.Build.Workers},
		{"scan.workers", c.Scan.Workers},
		{"scan.max_depth", c.Scan.MaxDepth},
		{"filter.workers", c.Filter.Workers},
		{"filter.cache_entries", c.Filter.CacheEntries},
	} {
		if f.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d: %w", f.name, f.value, perrors.ErrInvalidParameter)
		}
	}
	return nil
}
