package spatial_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/hexatlas/hexgrid/internal/geo"
	"github.com/hexatlas/hexgrid/internal/spatial"
	"github.com/hexatlas/hexgrid/internal/spatial/spatialtest"
)

func TestParseCellID(t *testing.T) {
	t.Parallel()

	id, err := spatial.ParseCellID("8928308280fffff")
	require.NoError(t, err)
	assert.Equal(t, spatial.CellID(0x8928308280fffff), id)
	assert.Equal(t, "8928308280fffff", id.String())

	_, err = spatial.ParseCellID("0")
	assert.True(t, errors.Is(err, spatial.ErrInvalidCell))

	_, err = spatial.ParseCellID("not-hex")
	assert.True(t, errors.Is(err, spatial.ErrInvalidCell))
}

func TestCellIDText(t *testing.T) {
	t.Parallel()

	var id spatial.CellID
	require.NoError(t, id.UnmarshalText([]byte("85283473fffffff")))
	b, err := id.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "85283473fffffff", string(b))
}

func TestNeighborsFiltering(t *testing.T) {
	t.Parallel()

	origin := spatialtest.Cell(5, 1, 2)
	a, b, c := spatialtest.Cell(5, 1, 3), spatialtest.Cell(5, 1, 4), spatialtest.Cell(6, 0, 0)
	ix := &spatialtest.Index{
		DiskFunc: func(o spatial.CellID, k int, out []spatial.CellID, dist []int) error {
			copy(out, []spatial.CellID{o, a, 0, b, c})
			copy(dist, []int{0, 1, 0, 1, k + 1})
			return nil
		},
	}

	got, err := spatial.Neighbors(ix, origin, 1)
	require.NoError(t, err)
	assert.Equal(t, []spatial.CellID{a, b}, got)

	none, err := spatial.Neighbors(ix, origin, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestH3KnownCell(t *testing.T) {
	t.Parallel()

	ix := spatial.NewH3()
	id, err := ix.CoordinateToCell(geo.Coord{Lat: 37.775938728915946, Lng: -122.41795063018799}, 9)
	require.NoError(t, err)
	assert.Equal(t, "8928308280fffff", id.String())
	assert.Equal(t, 9, ix.CellResolution(id))

	parent, err := ix.CellParent(id, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, ix.CellResolution(parent))

	ring, err := spatial.ClosedBoundary(ix, id)
	require.NoError(t, err)
	require.Len(t, ring, 7)
	assert.Equal(t, ring[0], ring[len(ring)-1])
}

func TestH3NeighborsK1(t *testing.T) {
	t.Parallel()

	ix := spatial.NewH3()
	id, err := spatial.ParseCellID("8928308280fffff")
	require.NoError(t, err)

	got, err := spatial.Neighbors(ix, id, 1)
	require.NoError(t, err)
	assert.Len(t, got, 6)
	assert.NotContains(t, got, id)

	two, err := spatial.Neighbors(ix, id, 2)
	require.NoError(t, err)
	assert.Len(t, two, 18)
}

func TestH3InvalidResolution(t *testing.T) {
	t.Parallel()

	ix := spatial.NewH3()
	_, err := ix.CoordinateToCell(geo.Coord{}, 16)
	assert.Error(t, err)
	_, err = ix.MaxCoverageSize(geo.NewRect(1, 0, 0, 1).Polygon(), -1)
	assert.Error(t, err)
}

func TestH3CenterInsideOwnBoundary(t *testing.T) {
	ix := spatial.NewH3()
	rapid.Check(t, func(t *rapid.T) {
		c := geo.Coord{
			Lat: rapid.Float64Range(-80, 80).Draw(t, "lat"),
			Lng: rapid.Float64Range(-170, 170).Draw(t, "lng"),
		}
		res := rapid.IntRange(0, spatial.MaxResolution).Draw(t, "res")

		id, err := ix.CoordinateToCell(c, res)
		if err != nil {
			t.Fatalf("coordinate to cell: %v", err)
		}
		center, err := ix.CellToCenter(id)
		if err != nil {
			t.Fatalf("cell to center: %v", err)
		}
		ring, err := ix.CellToBoundary(id)
		if err != nil {
			t.Fatalf("cell to boundary: %v", err)
		}
		// Coarse cells can straddle the antimeridian; planar containment only holds without the wrap.
		if geo.Polygon(ring).CrossesAntimeridian() {
			t.Skip("boundary crosses the antimeridian")
		}
		if !geo.Polygon(ring).Contains(center) {
			t.Fatalf("center %v of %s outside its boundary %v", center, id, ring)
		}
	})
}

func TestH3EstimateAcrossAntimeridian(t *testing.T) {
	t.Parallel()

	ix := spatial.NewH3()
	inland, err := ix.MaxCoverageSize(geo.RectFromCenter(geo.Coord{Lat: -17, Lng: 0}, 1, 1).Polygon(), 5)
	require.NoError(t, err)
	fiji, err := ix.MaxCoverageSize(geo.RectFromCenter(geo.Coord{Lat: -17, Lng: 179.8}, 1, 1).Polygon(), 5)
	require.NoError(t, err)
	assert.InDelta(t, inland, fiji, 2)
}

func TestH3CoverageWithinEstimate(t *testing.T) {
	ix := spatial.NewH3()
	rapid.Check(t, func(t *rapid.T) {
		lat := rapid.Float64Range(-60, 60).Draw(t, "lat")
		lng := rapid.Float64Range(-180, 180).Draw(t, "lng")
		size := rapid.Float64Range(0.01, 2).Draw(t, "size")
		res := rapid.IntRange(0, 6).Draw(t, "res")

		poly := geo.RectFromCenter(geo.Coord{Lat: lat, Lng: lng}, size, size).Polygon()
		est, err := ix.MaxCoverageSize(poly, res)
		if err != nil {
			t.Fatalf("estimate: %v", err)
		}
		if est > 50000 {
			t.Skip("estimate too large for a unit test")
		}
		out := make([]spatial.CellID, est)
		if err := ix.CoverCells(poly, res, out); err != nil {
			t.Fatalf("cover cells with estimate %d: %v", est, err)
		}
	})
}
