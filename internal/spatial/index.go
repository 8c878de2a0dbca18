// Package spatial defines the hexagonal indexing primitive the grid is driven by.
//
// Index is the narrow surface the rest of the server needs: coverage sizing and
// enumeration, cell geometry, hierarchy and disk neighbors. H3 implements it on
// top of github.com/uber/h3-go/v4; tests substitute deterministic fakes.
package spatial

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hexatlas/hexgrid/internal/geo"
)

// MaxResolution is the finest resolution supported by the primitive.
const MaxResolution = 15

// ErrInvalidCell is returned when a cell identifier cannot be parsed or is zero.
var ErrInvalidCell = errors.New("invalid cell identifier")

// CellID names one cell at one resolution. Zero is never a valid cell.
type CellID uint64

// String returns the lowercase hexadecimal form of the identifier.
func (c CellID) String() string {
	return strconv.FormatUint(uint64(c), 16)
}

// MarshalText encodes the identifier as hex so JSON map keys and values stay readable.
func (c CellID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a hex identifier.
func (c *CellID) UnmarshalText(b []byte) error {
	id, err := ParseCellID(string(b))
	if err != nil {
		return err
	}
	*c = id
	return nil
}

// ParseCellID parses a hexadecimal cell identifier.
func ParseCellID(s string) (CellID, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCell, s)
	}
	if v == 0 {
		return 0, fmt.Errorf("%w: zero", ErrInvalidCell)
	}
	return CellID(v), nil
}

// Index is the spatial-indexing primitive.
type Index interface {
	// MaxCoverageSize returns an upper bound on the number of cells CoverCells
	// may produce for poly at res. It may overestimate but never underestimates.
	MaxCoverageSize(poly geo.Polygon, res int) (int64, error)
	// CoverCells fills out with the cells covering poly at res. Slots without
	// a cell are left as zero. out must hold MaxCoverageSize slots.
	CoverCells(poly geo.Polygon, res int, out []CellID) error

	CellToCenter(id CellID) (geo.Coord, error)
	// CellToBoundary returns the boundary vertices in order, not closed.
	CellToBoundary(id CellID) ([]geo.Coord, error)
	CellParent(id CellID, res int) (CellID, error)
	CellResolution(id CellID) int
	CoordinateToCell(c geo.Coord, res int) (CellID, error)

	// GridDiskDistances fills out and dist with every cell within k steps of
	// origin and its distance. Both must hold MaxNeighborBufferSize(k) slots.
	GridDiskDistances(origin CellID, k int, out []CellID, dist []int) error
	MaxNeighborBufferSize(k int) int
}

// ClosedBoundary returns the boundary of id with the first vertex repeated at the end.
func ClosedBoundary(ix Index, id CellID) ([]geo.Coord, error) {
	verts, err := ix.CellToBoundary(id)
	if err != nil {
		return nil, err
	}
	if len(verts) == 0 {
		return verts, nil
	}
	ring := make([]geo.Coord, 0, len(verts)+1)
	ring = append(ring, verts...)
	return append(ring, verts[0]), nil
}

// Neighbors returns the cells within k steps of id, excluding id itself.
func Neighbors(ix Index, id CellID, k int) ([]CellID, error) {
	if k < 1 {
		return nil, nil
	}
	size := ix.MaxNeighborBufferSize(k)
	cells := make([]CellID, size)
	dist := make([]int, size)
	if err := ix.GridDiskDistances(id, k, cells, dist); err != nil {
		return nil, fmt.Errorf("grid disk %s k=%d: %w", id, k, err)
	}

	out := make([]CellID, 0, size-1)
	for i, c := range cells {
		if c == 0 || c == id || dist[i] > k {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
