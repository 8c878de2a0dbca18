// Package coverage turns a viewport into a bounded set of grid cells.
//
// The size of a coverage is checked against the primitive's cheap upper-bound
// estimate before any enumeration happens. Requests whose estimate reaches the
// ceiling are refused with an empty result; the caller is expected to pick a
// coarser resolution or a smaller viewport next.
package coverage

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hexatlas/hexgrid/internal/geo"
	"github.com/hexatlas/hexgrid/internal/logging"
	"github.com/hexatlas/hexgrid/internal/metrics"
	"github.com/hexatlas/hexgrid/internal/spatial"
)

// Ceilings for the two call sites. The grid model recomputes inline on every
// viewport change; background tasks run off the request path and may go larger.
const (
	InteractiveLimit = 10000
	BackgroundLimit  = 100000
)

// Status explains an empty or non-empty coverage result.
type Status int

const (
	StatusOK Status = iota
	StatusInvalidViewport
	StatusNoEstimate
	StatusTooManyCells
	StatusIndexError
)

var statusNames = [...]string{
	StatusOK:              "ok",
	StatusInvalidViewport: "invalid_viewport",
	StatusNoEstimate:      "no_estimate",
	StatusTooManyCells:    "too_many_cells",
	StatusIndexError:      "index_error",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// MarshalText renders the status name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is a coverage together with how it was obtained.
type Result struct {
	Cells    []spatial.CellID `json:"cells"`
	Status   Status           `json:"status"`
	Estimate int64            `json:"estimate"`
}

// Config contains computer configuration.
type Config struct {
	Index  spatial.Index
	Limit  int    // estimates >= Limit are refused; defaults to InteractiveLimit
	Path   string // metrics label, e.g. "interactive"
	Logger *zap.Logger
}

// Computer computes coverages against one spatial index with one ceiling.
type Computer struct {
	index spatial.Index
	limit int64
	path  string
	log   *zap.Logger

	computations atomic.Int64
}

// NewComputer creates a coverage computer.
func NewComputer(cfg Config) *Computer {
	if cfg.Limit <= 0 {
		cfg.Limit = InteractiveLimit
	}
	if cfg.Path == "" {
		cfg.Path = "interactive"
	}
	return &Computer{
		index: cfg.Index,
		limit: int64(cfg.Limit),
		path:  cfg.Path,
		log:   logging.OrNop(cfg.Logger).Named("coverage").With(zap.String("path", cfg.Path)),
	}
}

// Limit returns the ceiling of this computer.
func (c *Computer) Limit() int { return int(c.limit) }

// Computations returns how many enumerations this computer has run.
func (c *Computer) Computations() int64 { return c.computations.Load() }

// Cover returns the cells covering r at res. Invalid viewports, refused
// estimates and primitive failures all yield an empty slice.
func (c *Computer) Cover(r geo.Rect, res int) []spatial.CellID {
	return c.CoverDetailed(r, res).Cells
}

// CoverDetailed is Cover with the outcome attached.
func (c *Computer) CoverDetailed(r geo.Rect, res int) Result {
	if !r.IsValid() || r.IsEmpty() {
		return Result{Status: StatusInvalidViewport}
	}

	poly := r.Polygon()
	estimate, err := c.index.MaxCoverageSize(poly, res)
	if err != nil {
		metrics.CoverageIndexErrors.WithLabelValues(c.path).Inc()
		c.log.Warn("coverage estimate failed", zap.Int("resolution", res), zap.Error(err))
		return Result{Status: StatusIndexError}
	}
	c.log.Debug("coverage estimate",
		zap.Float64("north", r.North()), zap.Float64("west", r.West()),
		zap.Float64("south", r.South()), zap.Float64("east", r.East()),
		zap.Int("resolution", res), zap.Int64("estimate", estimate))

	switch {
	case estimate <= 0:
		return Result{Status: StatusNoEstimate}
	case estimate >= c.limit:
		metrics.CoverageTooMany.WithLabelValues(c.path).Inc()
		c.log.Warn("too many cells requested",
			zap.Int64("estimate", estimate), zap.Int64("limit", c.limit), zap.Int("resolution", res))
		return Result{Status: StatusTooManyCells, Estimate: estimate}
	}

	out := make([]spatial.CellID, estimate)
	c.computations.Add(1)
	metrics.CoverageComputations.WithLabelValues(c.path).Inc()
	if err := c.index.CoverCells(poly, res, out); err != nil {
		metrics.CoverageIndexErrors.WithLabelValues(c.path).Inc()
		c.log.Warn("coverage enumeration failed", zap.Int("resolution", res), zap.Error(err))
		return Result{Status: StatusIndexError, Estimate: estimate}
	}

	cells := out[:0]
	for _, id := range out {
		if id != 0 {
			cells = append(cells, id)
		}
	}
	metrics.CoverageCells.WithLabelValues(c.path).Observe(float64(len(cells)))
	c.log.Debug("coverage computed", zap.Int("cells", len(cells)), zap.Int("resolution", res))

	return Result{Cells: cells, Status: StatusOK, Estimate: estimate}
}
