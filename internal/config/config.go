// Package config handles configuration loading for the hexgrid server.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Grid    GridConfig    `yaml:"grid"`
	Cache   CacheConfig   `yaml:"cache"`
	Workers WorkersConfig `yaml:"workers"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Render  RenderConfig  `yaml:"render"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// GridConfig contains grid model settings.
type GridConfig struct {
	InitialZoom          float64 `yaml:"initial_zoom"`
	InteractiveCellLimit int     `yaml:"interactive_cell_limit"`
	BackgroundCellLimit  int     `yaml:"background_cell_limit"`
	MaxSessions          int     `yaml:"max_sessions"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	// CoverageEnabled is a pointer so an explicit false survives defaulting.
	CoverageEnabled *bool `yaml:"coverage_enabled"`
	CoverageSize    int   `yaml:"coverage_size"`
	TileSizeMB      int   `yaml:"tile_size_mb"`
	TileTTLMinutes  int   `yaml:"tile_ttl_minutes"`
}

// CoverageCacheEnabled reports the effective coverage cache toggle.
func (c CacheConfig) CoverageCacheEnabled() bool {
	return c.CoverageEnabled == nil || *c.CoverageEnabled
}

// WorkersConfig contains background worker settings.
type WorkersConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	QueueSize     int `yaml:"queue_size"`
}

// JobsConfig contains coverage job persistence settings.
type JobsConfig struct {
	SQLitePath     string `yaml:"sqlite_path"`
	RetentionDays  int    `yaml:"retention_days"`
	CleanupMinutes int    `yaml:"cleanup_minutes"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	TileSize          int     `yaml:"tile_size"`
	Colormap          string  `yaml:"colormap"`
	AutoRangeQuantile float64 `yaml:"auto_range_quantile"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Grid.BackgroundCellLimit < c.Grid.InteractiveCellLimit {
		return fmt.Errorf("grid.background_cell_limit (%d) below grid.interactive_cell_limit (%d)",
			c.Grid.BackgroundCellLimit, c.Grid.InteractiveCellLimit)
	}
	if q := c.Render.AutoRangeQuantile; q <= 0 || q > 1 {
		return fmt.Errorf("render.auto_range_quantile must be in (0, 1], got %v", q)
	}
	if c.Cache.CoverageSize < 0 {
		return fmt.Errorf("cache.coverage_size must not be negative, got %d", c.Cache.CoverageSize)
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "hexgrid",
		},
		Grid: GridConfig{
			InitialZoom:          5,
			InteractiveCellLimit: 10000,
			BackgroundCellLimit:  100000,
			MaxSessions:          256,
		},
		Cache: CacheConfig{
			CoverageSize:   5000,
			TileSizeMB:     256,
			TileTTLMinutes: 10,
		},
		Workers: WorkersConfig{
			MaxConcurrent: runtime.NumCPU(),
			QueueSize:     256,
		},
		Jobs: JobsConfig{
			SQLitePath:     "./data/jobs.db",
			RetentionDays:  7,
			CleanupMinutes: 60,
		},
		Render: RenderConfig{
			TileSize:          256,
			Colormap:          "heat",
			AutoRangeQuantile: 0.8,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Grid.InitialZoom == 0 {
		cfg.Grid.InitialZoom = defaults.Grid.InitialZoom
	}
	if cfg.Grid.InteractiveCellLimit == 0 {
		cfg.Grid.InteractiveCellLimit = defaults.Grid.InteractiveCellLimit
	}
	if cfg.Grid.BackgroundCellLimit == 0 {
		cfg.Grid.BackgroundCellLimit = defaults.Grid.BackgroundCellLimit
	}
	if cfg.Grid.MaxSessions == 0 {
		cfg.Grid.MaxSessions = defaults.Grid.MaxSessions
	}
	if cfg.Cache.CoverageSize == 0 {
		cfg.Cache.CoverageSize = defaults.Cache.CoverageSize
	}
	if cfg.Cache.TileSizeMB == 0 {
		cfg.Cache.TileSizeMB = defaults.Cache.TileSizeMB
	}
	if cfg.Cache.TileTTLMinutes == 0 {
		cfg.Cache.TileTTLMinutes = defaults.Cache.TileTTLMinutes
	}
	if cfg.Workers.MaxConcurrent == 0 {
		cfg.Workers.MaxConcurrent = defaults.Workers.MaxConcurrent
	}
	if cfg.Workers.QueueSize == 0 {
		cfg.Workers.QueueSize = defaults.Workers.QueueSize
	}
	if cfg.Jobs.SQLitePath == "" {
		cfg.Jobs.SQLitePath = defaults.Jobs.SQLitePath
	}
	if cfg.Jobs.RetentionDays == 0 {
		cfg.Jobs.RetentionDays = defaults.Jobs.RetentionDays
	}
	if cfg.Jobs.CleanupMinutes == 0 {
		cfg.Jobs.CleanupMinutes = defaults.Jobs.CleanupMinutes
	}
	if cfg.Render.TileSize == 0 {
		cfg.Render.TileSize = defaults.Render.TileSize
	}
	if cfg.Render.Colormap == "" {
		cfg.Render.Colormap = defaults.Render.Colormap
	}
	if cfg.Render.AutoRangeQuantile == 0 {
		cfg.Render.AutoRangeQuantile = defaults.Render.AutoRangeQuantile
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}
