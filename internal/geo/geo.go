// Package geo provides the geographic value types shared by the grid packages.
package geo

import (
	"math"
)

// Coord is a WGS84 coordinate in degrees.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsValid reports whether the coordinate lies within latitude/longitude range.
func (c Coord) IsValid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// WrapLng normalizes a longitude into [-180, 180].
func WrapLng(lng float64) float64 {
	if lng >= -180 && lng <= 180 {
		return lng
	}
	lng = math.Mod(lng+180, 360)
	if lng < 0 {
		lng += 360
	}
	return lng - 180
}

// Rect is an axis-aligned viewport given by its top-left and bottom-right corners.
// The zero value is valid but empty.
type Rect struct {
	TopLeft     Coord `json:"top_left"`
	BottomRight Coord `json:"bottom_right"`
}

// NewRect builds a rectangle from its edges.
func NewRect(north, west, south, east float64) Rect {
	return Rect{
		TopLeft:     Coord{Lat: north, Lng: west},
		BottomRight: Coord{Lat: south, Lng: east},
	}
}

// RectFromCenter derives a rectangle of the given angular size centered on c.
// Longitudes are wrapped, so the result may cross the antimeridian.
func RectFromCenter(c Coord, widthDeg, heightDeg float64) Rect {
	halfW := widthDeg / 2
	halfH := heightDeg / 2
	return Rect{
		TopLeft:     Coord{Lat: c.Lat + halfH, Lng: WrapLng(c.Lng - halfW)},
		BottomRight: Coord{Lat: c.Lat - halfH, Lng: WrapLng(c.Lng + halfW)},
	}
}

// IsValid reports whether both corners are valid and the top is not below the bottom.
func (r Rect) IsValid() bool {
	return r.TopLeft.IsValid() && r.BottomRight.IsValid() && r.TopLeft.Lat >= r.BottomRight.Lat
}

// IsEmpty reports whether the rectangle has zero width or height.
func (r Rect) IsEmpty() bool {
	return r.TopLeft.Lat == r.BottomRight.Lat || r.TopLeft.Lng == r.BottomRight.Lng
}

// North returns the top latitude.
func (r Rect) North() float64 { return r.TopLeft.Lat }

// South returns the bottom latitude.
func (r Rect) South() float64 { return r.BottomRight.Lat }

// West returns the left longitude.
func (r Rect) West() float64 { return r.TopLeft.Lng }

// East returns the right longitude.
func (r Rect) East() float64 { return r.BottomRight.Lng }

// Width returns the longitudinal extent in degrees, accounting for antimeridian crossing.
func (r Rect) Width() float64 {
	w := r.East() - r.West()
	if w < 0 {
		w += 360
	}
	return w
}

// Height returns the latitudinal extent in degrees.
func (r Rect) Height() float64 {
	return r.North() - r.South()
}

// Center returns the midpoint of the rectangle.
func (r Rect) Center() Coord {
	return Coord{
		Lat: (r.North() + r.South()) / 2,
		Lng: WrapLng(r.West() + r.Width()/2),
	}
}

// maxEdgeLng caps the longitudinal span of one polygon edge. Edges spanning
// more than 180 degrees are read as crossing the antimeridian.
const maxEdgeLng = 90

// Polygon returns the ring TL, TR, BR, BL. Edges wider than maxEdgeLng are
// split with extra vertices along the north and south sides, so a whole-world
// rectangle keeps its width.
func (r Rect) Polygon() Polygon {
	w := r.Width()
	n := max(1, int(math.Ceil(w/maxEdgeLng)))
	ring := make(Polygon, 0, 2*n+2)
	for i := 0; i <= n; i++ {
		ring = append(ring, Coord{Lat: r.North(), Lng: r.lngAt(i, n, w)})
	}
	for i := n; i >= 0; i-- {
		ring = append(ring, Coord{Lat: r.South(), Lng: r.lngAt(i, n, w)})
	}
	return ring
}

func (r Rect) lngAt(i, n int, w float64) float64 {
	switch i {
	case 0:
		return r.West()
	case n:
		return r.East()
	}
	return WrapLng(r.West() + w*float64(i)/float64(n))
}

// Polygon is a single ring of vertices. The last vertex may or may not repeat the first.
type Polygon []Coord

// CrossesAntimeridian reports whether an edge of the ring jumps more than
// 180 degrees of longitude.
func (p Polygon) CrossesAntimeridian() bool {
	for i := range p {
		next := p[(i+1)%len(p)]
		if math.Abs(next.Lng-p[i].Lng) > 180 {
			return true
		}
	}
	return false
}

// Bounds returns the lat/lng bounding box of the ring. For a ring crossing the
// antimeridian the box has West > East and Width measures the short way.
func (p Polygon) Bounds() Rect {
	if len(p) == 0 {
		return Rect{}
	}
	wrap := p.CrossesAntimeridian()
	lng := func(c Coord) float64 {
		if wrap && c.Lng < 0 {
			return c.Lng + 360
		}
		return c.Lng
	}

	north, south := p[0].Lat, p[0].Lat
	west, east := lng(p[0]), lng(p[0])
	for _, c := range p[1:] {
		north = math.Max(north, c.Lat)
		south = math.Min(south, c.Lat)
		west = math.Min(west, lng(c))
		east = math.Max(east, lng(c))
	}
	return NewRect(north, WrapLng(west), south, WrapLng(east))
}

// Contains reports whether c lies inside the ring (even-odd rule, planar in degrees).
func (p Polygon) Contains(c Coord) bool {
	inside := false
	n := len(p)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := p[i], p[j]
		if (a.Lat > c.Lat) != (b.Lat > c.Lat) {
			x := (b.Lng-a.Lng)*(c.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lng
			if c.Lng < x {
				inside = !inside
			}
		}
	}
	return inside
}
