package spatial

import (
	"fmt"
	"math"

	"github.com/uber/h3-go/v4"

	"github.com/hexatlas/hexgrid/internal/geo"
)

const (
	earthRadiusKm = 6371.007180918475

	// Fraction of the average hexagon area taken as the smallest cell area at a
	// resolution. H3 pentagons bottom out near half the average.
	minAreaFactor = 0.4

	// Slack added to every coverage estimate for cells straddling the ring.
	coverageBuffer = 12
)

// Average hexagon area (km²) and edge length (km) per resolution, from the H3 tables.
var (
	avgHexAreaKm2 = [MaxResolution + 1]float64{
		4357449.416078383, 609788.441794133, 86801.780398997, 12393.434655088,
		1770.347654491, 252.903858182, 36.129062164, 5.161293360,
		0.737327598, 0.105332513, 0.015047502, 0.002149643,
		0.000307092, 0.000043870, 0.000006267, 0.000000895,
	}
	avgEdgeKm = [MaxResolution + 1]float64{
		1281.256011, 483.0568391, 182.5129565, 68.97922179,
		26.07175968, 9.854090990, 3.724532667, 1.406475763,
		0.531414010, 0.200786148, 0.075863783, 0.028663897,
		0.010830188, 0.004092010, 0.001546100, 0.000584169,
	}
)

// H3 implements Index with github.com/uber/h3-go/v4.
type H3 struct{}

// NewH3 returns the H3-backed index.
func NewH3() H3 { return H3{} }

func checkResolution(res int) error {
	if res < 0 || res > MaxResolution {
		return fmt.Errorf("resolution %d out of range [0, %d]", res, MaxResolution)
	}
	return nil
}

func toLatLng(c geo.Coord) h3.LatLng {
	return h3.NewLatLng(c.Lat, c.Lng)
}

func fromLatLng(ll h3.LatLng) geo.Coord {
	return geo.Coord{Lat: ll.Lat, Lng: ll.Lng}
}

// MaxCoverageSize bounds the coverage size from the spherical area and
// perimeter of the polygon's bounding box against the smallest cell area.
func (H3) MaxCoverageSize(poly geo.Polygon, res int) (int64, error) {
	if err := checkResolution(res); err != nil {
		return 0, err
	}
	if len(poly) < 3 {
		return 0, nil
	}

	b := poly.Bounds()
	north := b.North() * math.Pi / 180
	south := b.South() * math.Pi / 180
	dLng := b.Width() * math.Pi / 180

	area := earthRadiusKm * earthRadiusKm * dLng * math.Abs(math.Sin(north)-math.Sin(south))
	perimeter := earthRadiusKm * (2*(north-south) + dLng*(math.Cos(north)+math.Cos(south)))

	est := area/(avgHexAreaKm2[res]*minAreaFactor) + 2*perimeter/avgEdgeKm[res]
	if math.IsNaN(est) || math.IsInf(est, 0) {
		return 0, fmt.Errorf("coverage estimate is not finite for resolution %d", res)
	}
	return int64(math.Ceil(est)) + int64(len(poly)) + coverageBuffer, nil
}

// CoverCells enumerates cells whose centers fall inside poly.
func (H3) CoverCells(poly geo.Polygon, res int, out []CellID) error {
	if err := checkResolution(res); err != nil {
		return err
	}
	loop := make(h3.GeoLoop, len(poly))
	for i, c := range poly {
		loop[i] = toLatLng(c)
	}
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, res)
	if err != nil {
		return fmt.Errorf("polygon to cells: %w", err)
	}
	if len(cells) > len(out) {
		return fmt.Errorf("coverage buffer holds %d cells, primitive produced %d", len(out), len(cells))
	}
	for i, c := range cells {
		out[i] = CellID(c)
	}
	return nil
}

// CellToCenter returns the center of id.
func (H3) CellToCenter(id CellID) (geo.Coord, error) {
	ll, err := h3.CellToLatLng(h3.Cell(id))
	if err != nil {
		return geo.Coord{}, fmt.Errorf("cell %s center: %w", id, err)
	}
	return fromLatLng(ll), nil
}

// CellToBoundary returns the boundary vertices of id.
func (H3) CellToBoundary(id CellID) ([]geo.Coord, error) {
	b, err := h3.CellToBoundary(h3.Cell(id))
	if err != nil {
		return nil, fmt.Errorf("cell %s boundary: %w", id, err)
	}
	out := make([]geo.Coord, len(b))
	for i, ll := range b {
		out[i] = fromLatLng(ll)
	}
	return out, nil
}

// CellParent returns the ancestor of id at res.
func (H3) CellParent(id CellID, res int) (CellID, error) {
	if err := checkResolution(res); err != nil {
		return 0, err
	}
	p, err := h3.Cell(id).Parent(res)
	if err != nil {
		return 0, fmt.Errorf("cell %s parent at %d: %w", id, res, err)
	}
	return CellID(p), nil
}

// CellResolution returns the resolution encoded in id, or 0 for invalid cells.
func (H3) CellResolution(id CellID) int {
	c := h3.Cell(id)
	if !c.IsValid() {
		return 0
	}
	return c.Resolution()
}

// CoordinateToCell returns the cell containing c at res.
func (H3) CoordinateToCell(c geo.Coord, res int) (CellID, error) {
	if err := checkResolution(res); err != nil {
		return 0, err
	}
	cell, err := h3.LatLngToCell(toLatLng(c), res)
	if err != nil {
		return 0, fmt.Errorf("coordinate %v to cell: %w", c, err)
	}
	return CellID(cell), nil
}

// GridDiskDistances flattens the rings around origin into out and dist.
func (H3) GridDiskDistances(origin CellID, k int, out []CellID, dist []int) error {
	rings, err := h3.GridDiskDistances(h3.Cell(origin), k)
	if err != nil {
		return fmt.Errorf("grid disk distances: %w", err)
	}
	i := 0
	for d, ring := range rings {
		for _, c := range ring {
			if i >= len(out) || i >= len(dist) {
				return fmt.Errorf("neighbor buffer holds %d cells", len(out))
			}
			out[i] = CellID(c)
			dist[i] = d
			i++
		}
	}
	return nil
}

// MaxNeighborBufferSize returns the number of cells in a disk of radius k.
func (H3) MaxNeighborBufferSize(k int) int {
	if k < 0 {
		return 0
	}
	return 3*k*(k+1) + 1
}
