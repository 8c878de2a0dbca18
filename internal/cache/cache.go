// Package cache provides caching for rendered tiles and immutable query results.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	TileCacheSizeMB int
	TileTTL         time.Duration
	QueryCacheSize  int
}

// Manager manages tile and query caches.
type Manager struct {
	tileCache  *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TileTTL <= 0 {
		cfg.TileTTL = 10 * time.Minute
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 10000
	}

	tileCacheConfig := bigcache.Config{
		Shards:             shardCount(cfg.TileCacheSizeMB),
		LifeWindow:         cfg.TileTTL,
		CleanWindow:        cfg.TileTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       64 * 1024, // hex tiles are mostly flat fills
		HardMaxCacheSize:   cfg.TileCacheSizeMB,
		Verbose:            false,
	}

	tileCache, err := bigcache.New(context.Background(), tileCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		tileCache.Close()
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		tileCache:  tileCache,
		queryCache: queryCache,
	}, nil
}

// shardCount keeps every shard at least 1MB so a whole tile always fits.
func shardCount(sizeMB int) int {
	if sizeMB <= 0 || sizeMB >= 1024 {
		return 1024
	}
	n := 1
	for n*2 <= sizeMB {
		n *= 2
	}
	return n
}

// GetTile retrieves a tile from cache.
func (m *Manager) GetTile(key string) ([]byte, bool) {
	data, err := m.tileCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetTile stores a tile in cache.
func (m *Manager) SetTile(key string, data []byte) error {
	return m.tileCache.Set(key, data)
}

// ResetTiles drops every cached tile.
func (m *Manager) ResetTiles() error {
	return m.tileCache.Reset()
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// TileKey generates a cache key for a tile rendered from store generation gen.
func TileKey(z, x, y int, gen uint64, colormap string) string {
	return fmt.Sprintf("tile:%d/%d/%d:g%d:%s", z, x, y, gen, colormap)
}

// CellKey generates a cache key for the geometry of one cell.
func CellKey(cell string) string {
	return "cell:" + cell
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]any {
	s := m.tileCache.Stats()
	return map[string]any{
		"tile_cache_len":    m.tileCache.Len(),
		"tile_cache_cap":    m.tileCache.Capacity(),
		"tile_cache_hits":   s.Hits,
		"tile_cache_misses": s.Misses,
		"query_cache_len":   m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.tileCache.Close()
}
