package grid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexatlas/hexgrid/internal/geo"
	"github.com/hexatlas/hexgrid/internal/spatial"
	"github.com/hexatlas/hexgrid/internal/spatial/spatialtest"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return Event{}, false
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func newTestModel(t *testing.T, cells ...spatial.CellID) (*Model, *spatialtest.Index, *recorder) {
	t.Helper()
	ix := &spatialtest.Index{Estimate: int64(len(cells) + 2), Cells: cells}
	m := NewModel(Config{Index: ix})
	rec := &recorder{}
	t.Cleanup(m.Subscribe(rec.record))
	return m, ix, rec
}

var viewport = geo.NewRect(56.0, 37.3, 55.5, 37.9)

func TestNewModelDefaults(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestModel(t)
	assert.Equal(t, DefaultZoom, m.Zoom())
	assert.Equal(t, 1, m.Resolution())
	assert.Zero(t, m.Count())
	assert.Empty(t, m.Cells())
}

func TestSetZoomWithinResolutionDoesNotRebuild(t *testing.T) {
	t.Parallel()

	m, ix, rec := newTestModel(t, spatialtest.Cell(1, 2))
	m.SetViewport(viewport)
	require.Equal(t, 1, rec.count(Reset))
	rec.reset()
	before := ix.CoverCalls()

	m.SetZoom(5)
	assert.Empty(t, rec.events, "same zoom is a no-op")

	m.SetZoom(5.4)
	assert.Equal(t, 1, rec.count(ZoomChanged))
	assert.Zero(t, rec.count(Reset))
	assert.Zero(t, rec.count(ResolutionChanged))
	assert.Equal(t, before, ix.CoverCalls())
	assert.Equal(t, 1, m.Resolution())
}

func TestSetZoomAcrossResolutionRebuildsOnce(t *testing.T) {
	t.Parallel()

	m, ix, rec := newTestModel(t, spatialtest.Cell(1, 2))
	m.SetViewport(viewport)
	rec.reset()
	before := ix.CoverCalls()

	m.SetZoom(6)
	assert.Equal(t, 2, m.Resolution())
	assert.Equal(t, 1, rec.count(Reset))
	assert.Equal(t, 1, rec.count(ResolutionChanged))
	assert.Equal(t, before+1, ix.CoverCalls())

	ev, ok := rec.last(ResolutionChanged)
	require.True(t, ok)
	assert.Equal(t, 2, ev.Resolution)
}

func TestSetViewportRebuildsWithClosedBoundaries(t *testing.T) {
	t.Parallel()

	a, b := spatialtest.Cell(4, 1), spatialtest.Cell(4, 2)
	m, _, rec := newTestModel(t, a, 0, b)

	m.SetViewport(viewport)
	require.Equal(t, 2, m.Count())

	cells := m.Cells()
	assert.Equal(t, a, cells[0].ID)
	assert.Equal(t, b, cells[1].ID)
	for _, c := range cells {
		require.Len(t, c.Boundary, 7)
		assert.Equal(t, c.Boundary[0], c.Boundary[6])
		assert.NotNil(t, c.Properties)
	}

	ev, ok := rec.last(Reset)
	require.True(t, ok)
	assert.Equal(t, 2, ev.Count)
	assert.Equal(t, 1, rec.count(UpdateStarted))
	assert.Equal(t, 1, rec.count(UpdateFinished))

	rec.reset()
	m.SetViewport(viewport)
	assert.Empty(t, rec.events, "unchanged viewport is a no-op")
}

func TestInvalidViewportClearsCells(t *testing.T) {
	t.Parallel()

	m, ix, rec := newTestModel(t, spatialtest.Cell(4, 1))
	m.SetViewport(viewport)
	require.Equal(t, 1, m.Count())
	calls := ix.CoverCalls()

	m.SetViewport(geo.NewRect(10, 0, 20, 5))
	assert.Zero(t, m.Count())
	assert.Equal(t, calls, ix.CoverCalls())
	ev, ok := rec.last(Reset)
	require.True(t, ok)
	assert.Zero(t, ev.Count)
}

func TestSetViewportFromCenter(t *testing.T) {
	t.Parallel()

	m, _, rec := newTestModel(t, spatialtest.Cell(4, 1))
	m.SetViewportFromCenter(geo.Coord{Lat: 95, Lng: 0}, 1, 1)
	assert.Empty(t, rec.events)

	m.SetViewportFromCenter(geo.Coord{Lat: 55.75, Lng: 37.6}, 0.6, 0.5)
	vp := m.Viewport()
	assert.InDelta(t, 37.6, vp.Center().Lng, 1e-9)
	assert.InDelta(t, 55.75, vp.Center().Lat, 1e-9)
	assert.Equal(t, 1, m.Count())
}

func TestViewportAcrossAntimeridianH3(t *testing.T) {
	t.Parallel()

	m := NewModel(Config{Index: spatial.NewH3()})
	m.SetZoom(9)

	m.SetViewportFromCenter(geo.Coord{Lat: -17, Lng: 0}, 1, 1)
	inland := m.Count()
	require.NotZero(t, inland)

	m.SetViewportFromCenter(geo.Coord{Lat: -17, Lng: 179.8}, 1, 1)
	assert.InDelta(t, 1, m.Viewport().Width(), 1e-9)
	assert.NotZero(t, m.Count())
	for _, c := range m.Cells() {
		lng := c.Center.Lng
		assert.True(t, lng >= 179.2 || lng <= -179.6, "center %v outside the viewport", c.Center)
	}
}

func TestProperties(t *testing.T) {
	t.Parallel()

	a := spatialtest.Cell(4, 1)
	m, _, rec := newTestModel(t, a)
	m.SetViewport(viewport)
	rec.reset()

	assert.True(t, m.SetProperty(a, "value", 3.5))
	v, ok := m.Property(a, "value")
	require.True(t, ok)
	assert.Equal(t, 3.5, v)

	ev, ok := rec.last(RowChanged)
	require.True(t, ok)
	assert.Equal(t, 0, ev.Row)
	assert.Equal(t, a, ev.Cell)
	assert.Equal(t, "value", ev.Key)

	absent := spatialtest.Cell(9, 9)
	assert.False(t, m.SetProperty(absent, "value", 1))
	_, ok = m.Property(absent, "value")
	assert.False(t, ok)
	assert.Equal(t, 1, rec.count(RowChanged))

	snap, ok := m.Cell(a)
	require.True(t, ok)
	snap.Properties["value"] = "mutated"
	v, _ = m.Property(a, "value")
	assert.Equal(t, 3.5, v, "snapshots do not alias model state")
}

func TestPropertiesHex(t *testing.T) {
	t.Parallel()

	a := spatialtest.Cell(4, 1)
	m, _, _ := newTestModel(t, a)
	m.SetViewport(viewport)

	ok, err := m.SetPropertyHex(a.String(), "name", "x")
	require.NoError(t, err)
	assert.True(t, ok)

	v, ok, err := m.PropertyHex("0x"+a.String(), "name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	_, err = m.SetPropertyHex("zz", "name", 1)
	assert.ErrorIs(t, err, spatial.ErrInvalidCell)
}

func TestPropertiesResetOnRebuild(t *testing.T) {
	t.Parallel()

	a := spatialtest.Cell(4, 1)
	m, _, _ := newTestModel(t, a)
	m.SetViewport(viewport)
	m.SetProperty(a, "value", 1)

	m.Rebuild()
	_, ok := m.Property(a, "value")
	assert.False(t, ok)
}

func TestParallelGeometryMatchesSequential(t *testing.T) {
	t.Parallel()

	ids := make([]spatial.CellID, parallelThreshold+17)
	for i := range ids {
		ids[i] = spatialtest.Cell(i%122, i%7, (i/7)%7, (i/49)%7)
	}
	m, ix, _ := newTestModel(t, ids...)
	m.SetViewport(viewport)
	require.Equal(t, len(ids), m.Count())

	for i, c := range m.Cells() {
		want, err := ix.CellToCenter(ids[i])
		require.NoError(t, err)
		assert.Equal(t, want, c.Center)
		assert.Len(t, c.Boundary, 7)
	}
}

func TestEventsDeliveredOutsideLock(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestModel(t, spatialtest.Cell(4, 1))
	var count int
	unsub := m.Subscribe(func(ev Event) {
		if ev.Kind == Reset {
			count = m.Count()
		}
	})
	defer unsub()

	m.SetViewport(viewport)
	assert.Equal(t, 1, count)
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestModel(t, spatialtest.Cell(4, 1))
	rec := &recorder{}
	unsub := m.Subscribe(rec.record)
	unsub()

	m.SetViewport(viewport)
	assert.Empty(t, rec.events)
}

func TestEventKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "reset", Reset.String())
	assert.Equal(t, "row_changed", RowChanged.String())
	assert.Equal(t, "unknown", EventKind(99).String())
}
