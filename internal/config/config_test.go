package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Grid.InitialZoom != 5 {
		t.Errorf("expected initial zoom 5, got %v", cfg.Grid.InitialZoom)
	}
	if !cfg.Cache.CoverageCacheEnabled() {
		t.Error("expected coverage cache enabled by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	content := `
server:
  port: 9000
grid:
  interactive_cell_limit: 2000
  max_sessions: 8
cache:
  coverage_enabled: false
  coverage_size: 100
workers:
  max_concurrent: 3
jobs:
  sqlite_path: "/var/lib/hexgrid/jobs.db"
render:
  colormap: viridis
  auto_range_quantile: 0.95
log:
  level: debug
  format: console
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Grid.InteractiveCellLimit != 2000 {
		t.Errorf("expected interactive limit 2000, got %d", cfg.Grid.InteractiveCellLimit)
	}
	if cfg.Grid.BackgroundCellLimit != 100000 {
		t.Errorf("expected default background limit, got %d", cfg.Grid.BackgroundCellLimit)
	}
	if cfg.Cache.CoverageCacheEnabled() {
		t.Error("expected coverage cache disabled")
	}
	if cfg.Cache.CoverageSize != 100 {
		t.Errorf("expected coverage size 100, got %d", cfg.Cache.CoverageSize)
	}
	if cfg.Workers.MaxConcurrent != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Workers.MaxConcurrent)
	}
	if cfg.Jobs.SQLitePath != "/var/lib/hexgrid/jobs.db" {
		t.Errorf("unexpected sqlite_path: %s", cfg.Jobs.SQLitePath)
	}
	if cfg.Render.Colormap != "viridis" || cfg.Render.AutoRangeQuantile != 0.95 {
		t.Errorf("unexpected render config: %+v", cfg.Render)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Cache.TileSizeMB != 256 {
		t.Errorf("expected default cache size 256, got %d", cfg.Cache.TileSizeMB)
	}
	if cfg.Render.TileSize != 256 {
		t.Errorf("expected default tile size 256, got %d", cfg.Render.TileSize)
	}
	if cfg.Jobs.RetentionDays != 7 {
		t.Errorf("expected retention 7 days, got %d", cfg.Jobs.RetentionDays)
	}
	if cfg.Workers.MaxConcurrent <= 0 {
		t.Errorf("expected positive worker count, got %d", cfg.Workers.MaxConcurrent)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"syntax":   "server: [",
		"limits":   "grid:\n  interactive_cell_limit: 50000\n  background_cell_limit: 1000\n",
		"quantile": "render:\n  auto_range_quantile: 1.5\n",
		"negative": "cache:\n  coverage_size: -1\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  coverage_size: 10\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	if err := Watch(ctx, path, 20*time.Millisecond, func(c *Config) { got <- c }, nil); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("cache:\n  coverage_size: 42\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-got:
		if cfg.Cache.CoverageSize != 42 {
			t.Errorf("expected reloaded size 42, got %d", cfg.Cache.CoverageSize)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config not reloaded")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "config.yaml"), 0, func(*Config) {}, nil)
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
