package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hexatlas/hexgrid/internal/api"
	"github.com/hexatlas/hexgrid/internal/cache"
	"github.com/hexatlas/hexgrid/internal/compute"
	"github.com/hexatlas/hexgrid/internal/config"
	"github.com/hexatlas/hexgrid/internal/events"
	"github.com/hexatlas/hexgrid/internal/jobs"
	"github.com/hexatlas/hexgrid/internal/logging"
	"github.com/hexatlas/hexgrid/internal/render"
	"github.com/hexatlas/hexgrid/internal/service"
	"github.com/hexatlas/hexgrid/internal/spatial"
	"github.com/hexatlas/hexgrid/internal/store"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, level, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()
			return serve(cmd.Context(), opts.configPath, !noWatch, cfg, log, level)
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

func serve(ctx context.Context, configPath string, watch bool, cfg *config.Config, log *zap.Logger, level zap.AtomicLevel) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting hexgrid server", zap.Int("port", cfg.Server.Port))

	index := spatial.NewH3()
	hub := events.NewHub(log)
	defer hub.Close()

	pool := compute.NewPool(compute.PoolConfig{
		Index:     index,
		Workers:   cfg.Workers.MaxConcurrent,
		QueueSize: cfg.Workers.QueueSize,
		Limit:     cfg.Grid.BackgroundCellLimit,
		Logger:    log,
	})
	defer pool.Stop()

	st, err := store.NewManager(store.Config{
		Index:        index,
		Pool:         pool,
		CacheSize:    cfg.Cache.CoverageSize,
		DisableCache: !cfg.Cache.CoverageCacheEnabled(),
		Publisher:    hub,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	jobManager, err := jobs.NewManager(jobs.Config{
		SQLitePath:    cfg.Jobs.SQLitePath,
		RetentionDays: cfg.Jobs.RetentionDays,
		CleanupPeriod: time.Duration(cfg.Jobs.CleanupMinutes) * time.Minute,
		Logger:        log,
	}, st)
	if err != nil {
		return fmt.Errorf("failed to initialize job manager: %w", err)
	}
	jobManager.Start()
	defer jobManager.Stop()
	log.Info("job manager started",
		zap.String("sqlite", cfg.Jobs.SQLitePath), zap.Int("retention_days", cfg.Jobs.RetentionDays))

	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: cfg.Cache.TileSizeMB,
		TileTTL:         time.Duration(cfg.Cache.TileTTLMinutes) * time.Minute,
		QueryCacheSize:  1000,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheManager.Close()

	tiles := service.NewTileService(service.TileServiceConfig{
		Data:              st,
		Index:             index,
		Cache:             cacheManager,
		Renderer:          render.NewTileRenderer(render.Config{TileSize: cfg.Render.TileSize}),
		Colormap:          cfg.Render.Colormap,
		AutoRangeQuantile: cfg.Render.AutoRangeQuantile,
		Logger:            log,
	})

	sessions, err := api.NewSessionRegistry(api.RegistryConfig{
		Index:            index,
		InitialZoom:      cfg.Grid.InitialZoom,
		InteractiveLimit: cfg.Grid.InteractiveCellLimit,
		MaxSessions:      cfg.Grid.MaxSessions,
		Publisher:        hub,
		Logger:           log,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sessions: %w", err)
	}

	router := api.NewRouter(api.RouterConfig{
		Sessions:    sessions,
		Store:       st,
		Index:       index,
		Computer:    pool.Computer(),
		Jobs:        jobManager,
		Tiles:       tiles,
		Cache:       cacheManager,
		Hub:         hub,
		Colormap:    cfg.Render.Colormap,
		Title:       cfg.Server.Title,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      log,
	})

	if watch {
		go func() {
			err := config.Watch(ctx, configPath, config.DefaultDebounce,
				func(next *config.Config) { applyReload(log, level, st, next) },
				func(err error) { log.Warn("config reload failed", zap.Error(err)) })
			if err != nil {
				log.Warn("config watch disabled", zap.String("path", configPath), zap.Error(err))
			}
		}()
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// no WriteTimeout: event streams stay open
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

// applyReload applies the runtime-adjustable settings of a reloaded config.
func applyReload(log *zap.Logger, level zap.AtomicLevel, st *store.Manager, cfg *config.Config) {
	level.SetLevel(logging.ParseLevel(cfg.Log.Level))
	st.SetCacheEnabled(cfg.Cache.CoverageCacheEnabled())
	st.SetCacheSize(cfg.Cache.CoverageSize)
	log.Info("config reloaded",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("coverage_cache", cfg.Cache.CoverageCacheEnabled()),
		zap.Int("coverage_size", cfg.Cache.CoverageSize))
}
