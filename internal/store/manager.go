// Package store keeps per-cell application data, hierarchical totals and a
// coverage cache behind one lock.
package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hexatlas/hexgrid/internal/compute"
	"github.com/hexatlas/hexgrid/internal/events"
	"github.com/hexatlas/hexgrid/internal/geo"
	"github.com/hexatlas/hexgrid/internal/logging"
	"github.com/hexatlas/hexgrid/internal/metrics"
	"github.com/hexatlas/hexgrid/internal/spatial"
	"github.com/hexatlas/hexgrid/pkg/colormap"
)

// DefaultCacheSize is the coverage cache capacity in entries.
const DefaultCacheSize = 5000

// Record is the application data attached to one cell.
type Record struct {
	Cell       spatial.CellID `json:"h3_index"`
	Properties map[string]any `json:"properties,omitempty"`
	Value      float64        `json:"value"`
	Color      *colormap.Hex  `json:"color,omitempty"`
}

func (r Record) clone() Record {
	r.Properties = maps.Clone(r.Properties)
	if r.Color != nil {
		c := *r.Color
		r.Color = &c
	}
	return r
}

// Config contains manager configuration.
type Config struct {
	Index        spatial.Index
	Pool         *compute.Pool // created from Workers/QueueSize when nil and stopped by Close
	Workers      int
	QueueSize    int
	CacheSize    int // defaults to DefaultCacheSize
	DisableCache bool
	Publisher    events.Publisher
	Logger       *zap.Logger
}

// Manager owns cell records, aggregated totals and the coverage cache.
type Manager struct {
	index    spatial.Index
	pool     *compute.Pool
	ownsPool bool
	pub      events.Publisher
	log      *zap.Logger
	flight   singleflight.Group

	mu           sync.Mutex
	data         map[spatial.CellID]Record
	totals       map[spatial.CellID]float64
	cache        *lru.Cache[spatial.CellID, []spatial.CellID]
	cacheEnabled bool
	cacheSize    int

	generation   atomic.Uint64
	computations atomic.Int64
	closeOnce    sync.Once
}

// NewManager creates a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	cache, err := lru.New[spatial.CellID, []spatial.CellID](cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		index:        cfg.Index,
		pool:         cfg.Pool,
		pub:          cfg.Publisher,
		log:          logging.OrNop(cfg.Logger).Named("store"),
		data:         make(map[spatial.CellID]Record),
		totals:       make(map[spatial.CellID]float64),
		cache:        cache,
		cacheEnabled: !cfg.DisableCache,
		cacheSize:    cfg.CacheSize,
	}
	if m.pool == nil {
		m.pool = compute.NewPool(compute.PoolConfig{
			Index:     cfg.Index,
			Workers:   cfg.Workers,
			QueueSize: cfg.QueueSize,
			Logger:    cfg.Logger,
		})
		m.ownsPool = true
	}
	return m, nil
}

// Close stops the worker pool if the manager created it and waits for outstanding tasks.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		if m.ownsPool {
			m.pool.Stop()
		}
	})
}

func (m *Manager) publish(t events.Type, data map[string]any) {
	if m.pub == nil {
		return
	}
	m.pub.Publish(events.Event{Type: t, Data: data})
}

// Generation changes on every mutation of data or totals and on cache
// toggles and resizes. Filling the cache does not change it.
func (m *Manager) Generation() uint64 { return m.generation.Load() }

// SetData replaces the record of id.
func (m *Manager) SetData(id spatial.CellID, rec Record) {
	rec.Cell = id
	rec = rec.clone()

	m.mu.Lock()
	m.data[id] = rec
	m.generation.Add(1)
	m.mu.Unlock()

	m.publish(events.DataUpdated, map[string]any{"cell": id})
}

// Data returns a copy of the record of id, or an empty record.
func (m *Manager) Data(id spatial.CellID) Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.data[id]
	if !ok {
		return Record{Cell: id}
	}
	return rec.clone()
}

// DataFor returns copies of the records present among ids.
func (m *Manager) DataFor(ids []spatial.CellID) map[spatial.CellID]Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[spatial.CellID]Record)
	for _, id := range ids {
		if rec, ok := m.data[id]; ok {
			out[id] = rec.clone()
		}
	}
	return out
}

// Len returns the number of stored records.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Clear drops all records, totals and cached coverages.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.data = make(map[spatial.CellID]Record)
	m.totals = make(map[spatial.CellID]float64)
	m.cache.Purge()
	m.generation.Add(1)
	m.mu.Unlock()

	m.log.Debug("data cleared")
	m.publish(events.DataCleared, nil)
}

// Aggregate adds v to the total of every ancestor of child, up to resolution 0.
func (m *Manager) Aggregate(child spatial.CellID, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := m.index.CellResolution(child)
	if child == 0 || res <= 0 {
		m.log.Debug("aggregate ignored", zap.Stringer("cell", child), zap.Int("resolution", res))
		return
	}

	cur := child
	for r := res - 1; r >= 0; r-- {
		parent, err := m.index.CellParent(cur, r)
		if err != nil {
			m.log.Warn("aggregate walk stopped",
				zap.Stringer("cell", cur), zap.Int("resolution", r), zap.Error(err))
			break
		}
		m.totals[parent] += v
		cur = parent
	}
	m.generation.Add(1)
}

// Aggregated returns the accumulated total of id.
func (m *Manager) Aggregated(id spatial.CellID) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[id]
}

// CacheEnabled reports whether coverages are cached.
func (m *Manager) CacheEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheEnabled
}

// SetCacheEnabled toggles the coverage cache. Disabling purges it.
func (m *Manager) SetCacheEnabled(enabled bool) {
	m.mu.Lock()
	if m.cacheEnabled == enabled {
		m.mu.Unlock()
		return
	}
	m.cacheEnabled = enabled
	if !enabled {
		m.cache.Purge()
	}
	m.generation.Add(1)
	m.mu.Unlock()

	m.log.Info("coverage cache toggled", zap.Bool("enabled", enabled))
	m.publish(events.CacheEnabledChanged, map[string]any{"enabled": enabled})
}

// CacheSize returns the coverage cache capacity.
func (m *Manager) CacheSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheSize
}

// SetCacheSize changes the capacity, evicting the least recently used entries
// when shrinking. Negative sizes are ignored.
func (m *Manager) SetCacheSize(n int) {
	if n < 0 {
		return
	}
	m.mu.Lock()
	if m.cacheSize == n {
		m.mu.Unlock()
		return
	}
	m.cacheSize = n
	evicted := m.cache.Resize(n)
	m.generation.Add(1)
	m.mu.Unlock()

	m.log.Info("coverage cache resized", zap.Int("size", n), zap.Int("evicted", evicted))
	m.publish(events.CacheSizeChanged, map[string]any{"size": n})
}

// CachedEntries returns the number of cached coverages.
func (m *Manager) CachedEntries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

// Cached reports whether a coverage for r at res is held in the cache.
func (m *Manager) Cached(r geo.Rect, res int) bool {
	key, ok := m.cacheKey(r, res)
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheEnabled && m.cache.Contains(key)
}

// Computations returns how many coverages the manager has computed on the pool.
func (m *Manager) Computations() int64 { return m.computations.Load() }

// cacheKey is the cell under the viewport center. Distinct viewports sharing
// a center cell share an entry.
func (m *Manager) cacheKey(r geo.Rect, res int) (spatial.CellID, bool) {
	if !r.IsValid() {
		return 0, false
	}
	key, err := m.index.CoordinateToCell(r.Center(), res)
	if err != nil || key == 0 {
		return 0, false
	}
	return key, true
}

func (m *Manager) lookup(key spatial.CellID) ([]spatial.CellID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cacheEnabled {
		return nil, false
	}
	cells, ok := m.cache.Get(key)
	if ok {
		metrics.CoverageCacheHits.Inc()
	} else {
		metrics.CoverageCacheMisses.Inc()
	}
	return cells, ok
}

func (m *Manager) remember(key spatial.CellID, cells []spatial.CellID) {
	if len(cells) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cacheEnabled {
		return
	}
	m.cache.Add(key, cells)
}

// Coverage returns the cells covering r at res from the cache, computing
// them on the worker pool on a miss. Concurrent misses for one key share a
// single computation.
func (m *Manager) Coverage(ctx context.Context, r geo.Rect, res int) ([]spatial.CellID, error) {
	key, keyed := m.cacheKey(r, res)
	if keyed {
		if cells, ok := m.lookup(key); ok {
			return slices.Clone(cells), nil
		}
	}

	fill := func() (any, error) {
		f, err := m.pool.SubmitFuture(r, res)
		if err != nil {
			return nil, err
		}
		cells, _ := f.Wait(context.Background())
		m.computations.Add(1)
		if keyed {
			m.remember(key, cells)
		}
		return cells, nil
	}

	if !keyed {
		v, err := fill()
		if err != nil {
			return nil, err
		}
		return v.([]spatial.CellID), nil
	}

	ch := m.flight.DoChan(key.String(), fill)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return nil, out.Err
		}
		return slices.Clone(out.Val.([]spatial.CellID)), nil
	}
}

// CoverageAsync delivers the coverage of r at res to cb exactly once, either
// immediately from the cache or from the worker pool.
func (m *Manager) CoverageAsync(r geo.Rect, res int, cb func([]spatial.CellID)) {
	m.publish(events.ComputationStarted, map[string]any{"resolution": res})

	key, keyed := m.cacheKey(r, res)
	if keyed {
		if cells, ok := m.lookup(key); ok {
			if cb != nil {
				cb(slices.Clone(cells))
			}
			m.publish(events.ComputationFinished, map[string]any{"resolution": res, "cached": true})
			return
		}
	}

	err := m.pool.Submit(compute.Task{Viewport: r, Resolution: res, Done: func(cells []spatial.CellID) {
		m.computations.Add(1)
		if keyed {
			m.remember(key, cells)
		}
		if cb != nil {
			cb(slices.Clone(cells))
		}
		m.publish(events.ComputationFinished, map[string]any{"resolution": res, "cells": len(cells)})
	}})
	if err != nil {
		m.log.Warn("coverage task rejected", zap.Error(err))
	}
}
