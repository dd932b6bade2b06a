// Package config loads the TOML configuration shared by the deep EXR tools.
//
//	[parallel]
//	threads = 8
//
//	[cache]
//	sample_count_pixel_threshold = 50000000
//	sample_count_cache_bytes = 67108864
//
//	[log]
//	level = "info"
//	logfile = "/var/log/dtex2exr.log"
//	max_log_size = 100
//	max_log_age = 14
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/mrjoshuak/go-openexr-deep/exr"
	"github.com/mrjoshuak/go-openexr-deep/internal/log"
)

// ParallelConfig controls the chunk scheduler.
type ParallelConfig struct {
	// Threads is the number of chunks decoded or encoded at once.
	// 0 uses GOMAXPROCS; 1 disables the worker pool.
	Threads int `toml:"threads"`
}

// CacheConfig controls the per-file sample-count cache.
type CacheConfig struct {
	// PixelThreshold: images with fewer pixels than this cache decoded
	// sample counts; larger ones re-read them.
	PixelThreshold int64 `toml:"sample_count_pixel_threshold"`
	// Bytes caps the cache size.
	Bytes int `toml:"sample_count_cache_bytes"`
}

// LogSettings selects the severity and destination of log output.
type LogSettings struct {
	Level string `toml:"level"`
	log.LogConfig
}

type Config struct {
	Parallel ParallelConfig `toml:"parallel"`
	Cache    CacheConfig    `toml:"cache"`
	Log      LogSettings    `toml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			PixelThreshold: exr.DefaultSampleCountCacheThreshold,
			Bytes:          exr.DefaultSampleCountCacheBytes,
		},
		Log: LogSettings{Level: "warning"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Parallel.Threads < 0 {
		return nil, fmt.Errorf("parsing config %s: negative thread count %d", path, cfg.Parallel.Threads)
	}
	return cfg, nil
}

func parseLevel(s string) (log.ModeFlag, error) {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugMode, nil
	case "info":
		return log.InfoMode, nil
	case "", "warning", "warn":
		return log.WarningMode, nil
	case "error":
		return log.ErrorMode, nil
	case "critical":
		return log.CriticalMode, nil
	case "silent", "none":
		return log.SilentMode, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Apply installs the logging and parallel settings process-wide and returns
// the input options that carry the cache settings.
func (c *Config) Apply() []exr.InputOption {
	if m, err := parseLevel(c.Log.Level); err == nil {
		log.SetLogMode(m)
	}
	c.Log.LogConfig.SetLogger()

	exr.SetParallelConfig(exr.ParallelConfig{NumWorkers: c.Parallel.Threads})

	return []exr.InputOption{
		exr.WithSampleCountCache(c.Cache.PixelThreshold, c.Cache.Bytes),
	}
}
