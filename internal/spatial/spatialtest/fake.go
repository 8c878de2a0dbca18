// Package spatialtest provides a deterministic spatial.Index for tests.
package spatialtest

import (
	"math"
	"sync"

	"github.com/hexatlas/hexgrid/internal/geo"
	"github.com/hexatlas/hexgrid/internal/spatial"
)

const (
	validBit   = uint64(1) << 63
	resShift   = 52
	digitBits  = 3
	baseBits   = 7
	digitsBase = baseBits
)

// Cell builds a synthetic identifier for base cell base and the given child digits.
// The resolution is len(digits).
func Cell(base int, digits ...int) spatial.CellID {
	id := validBit | uint64(len(digits))<<resShift | uint64(base&0x7f)
	for i, d := range digits {
		id |= uint64(d&0x7) << (digitsBase + i*digitBits)
	}
	return spatial.CellID(id)
}

func resolutionOf(id spatial.CellID) int {
	return int(uint64(id)>>resShift) & 0xf
}

// Index is a fake spatial.Index. Coverage results and estimates are scripted,
// hierarchy follows the synthetic encoding of Cell.
type Index struct {
	mu sync.Mutex

	Estimate    int64
	EstimateErr error
	Cells       []spatial.CellID
	CoverErr    error

	// DiskFunc overrides GridDiskDistances when set.
	DiskFunc func(origin spatial.CellID, k int, out []spatial.CellID, dist []int) error

	estimateCalls int
	coverCalls    int
}

// EstimateCalls returns how many times MaxCoverageSize was called.
func (f *Index) EstimateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.estimateCalls
}

// CoverCalls returns how many times CoverCells was called.
func (f *Index) CoverCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.coverCalls
}

func (f *Index) MaxCoverageSize(_ geo.Polygon, _ int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimateCalls++
	return f.Estimate, f.EstimateErr
}

func (f *Index) CoverCells(_ geo.Polygon, _ int, out []spatial.CellID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coverCalls++
	if f.CoverErr != nil {
		return f.CoverErr
	}
	copy(out, f.Cells)
	return nil
}

func (f *Index) CellToCenter(id spatial.CellID) (geo.Coord, error) {
	v := uint64(id)
	return geo.Coord{
		Lat: float64(v%1000)/1000*160 - 80,
		Lng: float64((v/1000)%1000)/1000*340 - 170,
	}, nil
}

func (f *Index) CellToBoundary(id spatial.CellID) ([]geo.Coord, error) {
	c, _ := f.CellToCenter(id)
	r := 0.01 * float64(16-resolutionOf(id))
	verts := make([]geo.Coord, 6)
	for i := range verts {
		a := float64(i) * math.Pi / 3
		verts[i] = geo.Coord{Lat: c.Lat + r*math.Sin(a), Lng: c.Lng + r*math.Cos(a)}
	}
	return verts, nil
}

func (f *Index) CellParent(id spatial.CellID, res int) (spatial.CellID, error) {
	cur := resolutionOf(id)
	if res < 0 || res > cur {
		return 0, errInvalidParent
	}
	v := uint64(id) &^ (uint64(0xf) << resShift)
	for i := res; i < cur; i++ {
		v &^= uint64(0x7) << (digitsBase + i*digitBits)
	}
	return spatial.CellID(v | uint64(res)<<resShift), nil
}

func (f *Index) CellResolution(id spatial.CellID) int {
	if uint64(id)&validBit == 0 {
		return 0
	}
	return resolutionOf(id)
}

// CoordinateToCell buckets the coordinate onto a coarse lattice; neighboring
// coordinates share a cell, which is enough for cache-key tests.
func (f *Index) CoordinateToCell(c geo.Coord, res int) (spatial.CellID, error) {
	base := int((c.Lat+90)/180*11)*11 + int((c.Lng+180)/360*11)
	digits := make([]int, res)
	for i := range digits {
		digits[i] = int(math.Abs(c.Lat*float64(i+1)+c.Lng)) % 7
	}
	return Cell(base, digits...), nil
}

func (f *Index) GridDiskDistances(origin spatial.CellID, k int, out []spatial.CellID, dist []int) error {
	if f.DiskFunc != nil {
		return f.DiskFunc(origin, k, out, dist)
	}
	out[0], dist[0] = origin, 0
	i := 1
	for d := 1; d <= k; d++ {
		for j := 0; j < 6*d && i < len(out); j++ {
			out[i] = origin ^ spatial.CellID(uint64(d)<<40|uint64(j+1)<<32)
			dist[i] = d
			i++
		}
	}
	return nil
}

func (f *Index) MaxNeighborBufferSize(k int) int {
	return 3*k*(k+1) + 1
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const errInvalidParent = fakeError("spatialtest: invalid parent resolution")

var _ spatial.Index = (*Index)(nil)
