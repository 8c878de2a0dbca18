// Package service glues coverage, cell data and rendering into map tiles.
package service

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/hexatlas/hexgrid/internal/cache"
	"github.com/hexatlas/hexgrid/internal/geo"
	"github.com/hexatlas/hexgrid/internal/logging"
	"github.com/hexatlas/hexgrid/internal/metrics"
	"github.com/hexatlas/hexgrid/internal/render"
	"github.com/hexatlas/hexgrid/internal/resolution"
	"github.com/hexatlas/hexgrid/internal/spatial"
	"github.com/hexatlas/hexgrid/internal/store"
	"github.com/hexatlas/hexgrid/pkg/colormap"
)

// ErrInvalidTile is returned for tile coordinates outside the pyramid.
var ErrInvalidTile = errors.New("invalid tile coordinates")

// MaxTileZoom is the deepest tile zoom served.
const MaxTileZoom = resolution.MaxZoom

// DefaultAutoRangeQuantile is the quantile of positive values used as the top of the color range.
const DefaultAutoRangeQuantile = 0.8

// DataSource is the cell data the tiles are drawn from.
type DataSource interface {
	Coverage(ctx context.Context, r geo.Rect, res int) ([]spatial.CellID, error)
	DataFor(ids []spatial.CellID) map[spatial.CellID]store.Record
	Generation() uint64
}

// TileServiceConfig contains tile service configuration.
type TileServiceConfig struct {
	Data              DataSource
	Index             spatial.Index
	Cache             *cache.Manager
	Renderer          *render.TileRenderer
	Colormap          string
	AutoRangeQuantile float64
	Logger            *zap.Logger
}

// TileService renders hexagon tiles.
type TileService struct {
	data     DataSource
	index    spatial.Index
	cache    *cache.Manager
	renderer *render.TileRenderer
	cmapName string
	cmap     colormap.LinearColormap
	quantile float64
	log      *zap.Logger
}

// NewTileService creates a new tile service.
func NewTileService(cfg TileServiceConfig) *TileService {
	cmap, ok := colormap.ByName(cfg.Colormap)
	if !ok {
		cfg.Colormap = "heat"
	}
	if cfg.AutoRangeQuantile <= 0 || cfg.AutoRangeQuantile > 1 {
		cfg.AutoRangeQuantile = DefaultAutoRangeQuantile
	}
	return &TileService{
		data:     cfg.Data,
		index:    cfg.Index,
		cache:    cfg.Cache,
		renderer: cfg.Renderer,
		cmapName: cfg.Colormap,
		cmap:     cmap,
		quantile: cfg.AutoRangeQuantile,
		log:      logging.OrNop(cfg.Logger).Named("tiles"),
	}
}

// Tile returns the PNG tile z/x/y.
func (s *TileService) Tile(ctx context.Context, z, x, y int) ([]byte, error) {
	if z < 0 || z > MaxTileZoom {
		return nil, fmt.Errorf("%w: zoom %d", ErrInvalidTile, z)
	}
	if n := 1 << z; x < 0 || y < 0 || x >= n || y >= n {
		return nil, fmt.Errorf("%w: %d/%d/%d", ErrInvalidTile, z, x, y)
	}

	key := cache.TileKey(z, x, y, s.data.Generation(), s.cmapName)
	if s.cache != nil {
		if data, ok := s.cache.GetTile(key); ok {
			metrics.TileCacheHits.Inc()
			return data, nil
		}
	}

	res := resolution.ForZoom(float64(z))
	cells, err := s.data.Coverage(ctx, geo.TileBounds(z, x, y), res)
	if err != nil {
		return nil, fmt.Errorf("failed to cover tile: %w", err)
	}

	hexes := s.hexagons(cells, z, x, y)
	data, err := s.renderer.RenderHexagons(hexes)
	if err != nil {
		return nil, fmt.Errorf("failed to render tile: %w", err)
	}
	metrics.TileRenders.Inc()

	if s.cache != nil {
		if err := s.cache.SetTile(key, data); err != nil {
			s.log.Debug("tile not cached", zap.String("key", key), zap.Error(err))
		}
	}
	return data, nil
}

func (s *TileService) hexagons(cells []spatial.CellID, z, x, y int) []render.Hexagon {
	records := s.data.DataFor(cells)
	lo, hi := ValueRange(records, s.quantile)
	size := s.renderer.TileSize()

	hexes := make([]render.Hexagon, 0, len(cells))
	for _, id := range cells {
		verts, err := s.index.CellToBoundary(id)
		if err != nil {
			s.log.Debug("cell boundary failed", zap.Stringer("cell", id), zap.Error(err))
			continue
		}
		unwrap(verts)

		h := render.Hexagon{Points: make([][2]float64, len(verts))}
		for i, v := range verts {
			px, py := geo.TilePixel(v, z, x, y, size)
			h.Points[i] = [2]float64{px, py}
		}
		if rec, ok := records[id]; ok {
			h.Fill = s.fill(rec, lo, hi)
		}
		hexes = append(hexes, h)
	}
	return hexes
}

func (s *TileService) fill(rec store.Record, lo, hi float64) color.Color {
	if rec.Color != nil {
		return *rec.Color
	}
	return colormap.ValueToColorIn(s.cmap, rec.Value, lo, hi)
}

// unwrap shifts longitudes so a cell crossing the antimeridian stays contiguous.
func unwrap(verts []geo.Coord) {
	if len(verts) == 0 {
		return
	}
	ref := verts[0].Lng
	for i := range verts {
		switch d := verts[i].Lng - ref; {
		case d > 180:
			verts[i].Lng -= 360
		case d < -180:
			verts[i].Lng += 360
		}
	}
}

// ValueRange returns the color range for records without an explicit color:
// the smallest value and the q-quantile of the positive values. When nothing
// is positive the largest value is the top.
func ValueRange(records map[spatial.CellID]store.Record, q float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	positive := make([]float64, 0, len(records))
	for _, rec := range records {
		if rec.Color != nil {
			continue
		}
		lo = math.Min(lo, rec.Value)
		hi = math.Max(hi, rec.Value)
		if rec.Value > 0 {
			positive = append(positive, rec.Value)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 0
	}
	if len(positive) > 0 {
		sort.Float64s(positive)
		if top := stat.Quantile(q, stat.Empirical, positive, nil); top > lo {
			hi = top
		}
	}
	return lo, hi
}

// EmptyTile returns a transparent tile.
func (s *TileService) EmptyTile() ([]byte, error) {
	return s.renderer.CreateEmptyTile()
}
