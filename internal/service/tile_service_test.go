package service

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexatlas/hexgrid/internal/cache"
	"github.com/hexatlas/hexgrid/internal/geo"
	"github.com/hexatlas/hexgrid/internal/render"
	"github.com/hexatlas/hexgrid/internal/spatial"
	"github.com/hexatlas/hexgrid/internal/spatial/spatialtest"
	"github.com/hexatlas/hexgrid/internal/store"
	"github.com/hexatlas/hexgrid/pkg/colormap"
)

type fakeData struct {
	mu        sync.Mutex
	cells     []spatial.CellID
	records   map[spatial.CellID]store.Record
	gen       uint64
	coverages int
	lastRes   int
}

func (f *fakeData) Coverage(_ context.Context, _ geo.Rect, res int) ([]spatial.CellID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coverages++
	f.lastRes = res
	return f.cells, nil
}

func (f *fakeData) DataFor(ids []spatial.CellID) map[spatial.CellID]store.Record {
	out := map[spatial.CellID]store.Record{}
	for _, id := range ids {
		if r, ok := f.records[id]; ok {
			out[id] = r
		}
	}
	return out
}

func (f *fakeData) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}

func newTestService(t *testing.T, data DataSource) *TileService {
	t.Helper()
	cm, err := cache.NewManager(cache.Config{TileCacheSizeMB: 8, TileTTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cm.Close() })

	return NewTileService(TileServiceConfig{
		Data:     data,
		Index:    &spatialtest.Index{},
		Cache:    cm,
		Renderer: render.NewTileRenderer(render.Config{TileSize: 64}),
	})
}

func TestTileRejectsOutOfRange(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &fakeData{})
	ctx := context.Background()
	for _, c := range [][3]int{{-1, 0, 0}, {25, 0, 0}, {2, 4, 0}, {2, 0, -1}} {
		_, err := s.Tile(ctx, c[0], c[1], c[2])
		assert.ErrorIs(t, err, ErrInvalidTile, "%v", c)
	}
}

func TestTileIsCachedPerGeneration(t *testing.T) {
	t.Parallel()

	a := spatialtest.Cell(1, 1)
	data := &fakeData{
		cells:   []spatial.CellID{a, spatialtest.Cell(1, 2)},
		records: map[spatial.CellID]store.Record{a: {Cell: a, Value: 3}},
	}
	s := newTestService(t, data)
	ctx := context.Background()

	first, err := s.Tile(ctx, 6, 38, 19)
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(first))
	require.NoError(t, err)
	assert.Equal(t, 2, data.lastRes)

	second, err := s.Tile(ctx, 6, 38, 19)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, data.coverages)

	data.mu.Lock()
	data.gen++
	data.mu.Unlock()
	_, err = s.Tile(ctx, 6, 38, 19)
	require.NoError(t, err)
	assert.Equal(t, 2, data.coverages)
}

func TestTileCacheSurvivesCoverageFills(t *testing.T) {
	t.Parallel()

	ix := spatial.NewH3()
	st, err := store.NewManager(store.Config{Index: ix, Workers: 2})
	require.NoError(t, err)
	t.Cleanup(st.Close)

	cm, err := cache.NewManager(cache.Config{TileCacheSizeMB: 8, TileTTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cm.Close() })
	s := NewTileService(TileServiceConfig{
		Data:     st,
		Index:    ix,
		Cache:    cm,
		Renderer: render.NewTileRenderer(render.Config{TileSize: 64}),
	})

	ctx := context.Background()
	gen := st.Generation()
	tiles := map[string][]byte{}
	for _, xy := range [][2]int{{154, 80}, {154, 80}, {155, 80}, {154, 80}, {155, 80}} {
		data, err := s.Tile(ctx, 8, xy[0], xy[1])
		require.NoError(t, err)
		k := fmt.Sprint(xy)
		if prev, ok := tiles[k]; ok {
			assert.Equal(t, prev, data)
		}
		tiles[k] = data
	}
	assert.Equal(t, int64(2), st.Computations())
	assert.Equal(t, gen, st.Generation())
}

func TestValueRange(t *testing.T) {
	t.Parallel()

	red := colormap.Hex{R: 255, A: 255}
	records := map[spatial.CellID]store.Record{}
	for i := 1; i <= 10; i++ {
		records[spatial.CellID(i)] = store.Record{Value: float64(i)}
	}
	records[99] = store.Record{Value: 1000, Color: &red}

	lo, hi := ValueRange(records, 0.8)
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 8.0, hi)

	lo, hi = ValueRange(map[spatial.CellID]store.Record{1: {Value: -4}, 2: {Value: -1}}, 0.8)
	assert.Equal(t, -4.0, lo)
	assert.Equal(t, -1.0, hi)

	lo, hi = ValueRange(nil, 0.8)
	assert.Zero(t, lo)
	assert.Zero(t, hi)
}

func TestUnwrapAntimeridian(t *testing.T) {
	t.Parallel()

	verts := []geo.Coord{{Lng: 179.5}, {Lng: -179.8}, {Lng: 179.9}}
	unwrap(verts)
	assert.InDelta(t, 180.2, verts[1].Lng, 1e-9)
	assert.InDelta(t, 179.9, verts[2].Lng, 1e-9)
}

func TestFillPrefersExplicitColor(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &fakeData{})
	blue := colormap.Hex{B: 255, A: 255}
	assert.Equal(t, blue, s.fill(store.Record{Value: 100, Color: &blue}, 0, 1))
	assert.Equal(t, colormap.Hex{R: 255, A: 255}, s.fill(store.Record{Value: 100}, 0, 1))
}
