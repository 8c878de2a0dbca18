// Package grid holds the set of cells currently visible in a viewport.
//
// A Model is rebuilt wholesale whenever its viewport changes or its zoom
// crosses into another resolution. Subscribers see a Reset event for every
// rebuild and a RowChanged event for single-property edits; there are no
// incremental diffs.
package grid

import (
	"maps"
	"math"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hexatlas/hexgrid/internal/coverage"
	"github.com/hexatlas/hexgrid/internal/geo"
	"github.com/hexatlas/hexgrid/internal/logging"
	"github.com/hexatlas/hexgrid/internal/metrics"
	"github.com/hexatlas/hexgrid/internal/resolution"
	"github.com/hexatlas/hexgrid/internal/spatial"
)

// DefaultZoom is the zoom a new model starts at.
const DefaultZoom = 5.0

// parallelThreshold is the cell count above which geometry is derived concurrently.
const parallelThreshold = 2048

// Cell is one visible cell with geometry derived at rebuild time.
type Cell struct {
	ID         spatial.CellID `json:"h3_index"`
	Center     geo.Coord      `json:"center"`
	Boundary   []geo.Coord    `json:"boundary"` // closed: first vertex repeated last
	Properties map[string]any `json:"properties"`
}

// Config contains model configuration.
type Config struct {
	Index       spatial.Index
	Computer    *coverage.Computer // defaults to an interactive computer over Index
	InitialZoom float64            // defaults to DefaultZoom
	Logger      *zap.Logger
}

// Model is the grid of visible cells for one viewer.
type Model struct {
	index    spatial.Index
	computer *coverage.Computer
	log      *zap.Logger

	mu       sync.RWMutex
	zoom     float64
	viewport geo.Rect
	res      int
	cells    []Cell
	rows     map[spatial.CellID]int

	subsMu  sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// NewModel creates an empty model at the initial zoom.
func NewModel(cfg Config) *Model {
	log := logging.OrNop(cfg.Logger).Named("grid")
	if cfg.Computer == nil {
		cfg.Computer = coverage.NewComputer(coverage.Config{
			Index:  cfg.Index,
			Limit:  coverage.InteractiveLimit,
			Path:   "interactive",
			Logger: cfg.Logger,
		})
	}
	if cfg.InitialZoom == 0 {
		cfg.InitialZoom = DefaultZoom
	}
	return &Model{
		index:    cfg.Index,
		computer: cfg.Computer,
		log:      log,
		zoom:     cfg.InitialZoom,
		res:      resolution.ForZoom(cfg.InitialZoom),
		rows:     make(map[spatial.CellID]int),
		subs:     make(map[int]func(Event)),
	}
}

// Subscribe registers fn for model events and returns a function that removes it.
// Events are delivered on the goroutine that caused them, after the model lock is released.
func (m *Model) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		delete(m.subs, id)
		m.subsMu.Unlock()
	}
}

func (m *Model) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	m.subsMu.Lock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subsMu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// Zoom returns the current zoom.
func (m *Model) Zoom() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.zoom
}

// Resolution returns the resolution derived from the current zoom.
func (m *Model) Resolution() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.res
}

// Viewport returns the current viewport.
func (m *Model) Viewport() geo.Rect {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewport
}

// Count returns the number of visible cells.
func (m *Model) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cells)
}

// SetZoom updates the zoom and rebuilds if the resolution changes.
func (m *Model) SetZoom(zoom float64) {
	m.mu.Lock()
	if fuzzyEqual(m.zoom, zoom) {
		m.mu.Unlock()
		return
	}
	m.zoom = zoom
	events := []Event{{Kind: ZoomChanged, Zoom: zoom}}

	if res := resolution.ForZoom(zoom); res != m.res {
		m.res = res
		events = append(events, Event{Kind: ResolutionChanged, Resolution: res})
		events = m.rebuildLocked(events)
	}
	m.mu.Unlock()

	m.emit(events)
}

// SetViewport updates the viewport and rebuilds if it changed.
func (m *Model) SetViewport(r geo.Rect) {
	m.mu.Lock()
	if m.viewport == r {
		m.mu.Unlock()
		return
	}
	m.viewport = r
	events := m.rebuildLocked([]Event{{Kind: ViewportChanged}})
	m.mu.Unlock()

	m.emit(events)
}

// SetViewportFromCenter sets a viewport of the given angular size centered on c.
// Invalid centers are ignored.
func (m *Model) SetViewportFromCenter(c geo.Coord, widthDeg, heightDeg float64) {
	if !c.IsValid() {
		return
	}
	m.SetViewport(geo.RectFromCenter(c, widthDeg, heightDeg))
}

// Rebuild recomputes the cells for the current viewport and resolution.
func (m *Model) Rebuild() {
	m.mu.Lock()
	events := m.rebuildLocked(nil)
	m.mu.Unlock()

	m.emit(events)
}

func (m *Model) rebuildLocked(events []Event) []Event {
	events = append(events, Event{Kind: UpdateStarted})
	metrics.GridRebuilds.Inc()

	m.cells = nil
	m.rows = make(map[spatial.CellID]int)

	if m.viewport.IsValid() && !m.viewport.IsEmpty() {
		ids := m.computer.Cover(m.viewport, m.res)
		m.cells = m.buildCells(ids)
		m.rows = make(map[spatial.CellID]int, len(ids))
		for i, id := range ids {
			m.rows[id] = i
		}
	}

	m.log.Debug("grid rebuilt",
		zap.Int("cells", len(m.cells)),
		zap.Int("resolution", m.res),
		zap.Bool("viewport_valid", m.viewport.IsValid()))

	return append(events,
		Event{Kind: Reset, Count: len(m.cells), Resolution: m.res},
		Event{Kind: CountChanged, Count: len(m.cells)},
		Event{Kind: UpdateFinished, Count: len(m.cells)},
	)
}

func (m *Model) buildCells(ids []spatial.CellID) []Cell {
	cells := make([]Cell, len(ids))
	if len(ids) < parallelThreshold {
		for i, id := range ids {
			cells[i] = m.deriveCell(id)
		}
		return cells
	}

	workers := runtime.GOMAXPROCS(0)
	chunk := (len(ids) + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < len(ids); start += chunk {
		start, end := start, min(start+chunk, len(ids))
		g.Go(func() error {
			for i := start; i < end; i++ {
				cells[i] = m.deriveCell(ids[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return cells
}

func (m *Model) deriveCell(id spatial.CellID) Cell {
	cell := Cell{ID: id, Properties: map[string]any{}}

	center, err := m.index.CellToCenter(id)
	if err != nil {
		m.log.Warn("cell center failed", zap.Stringer("cell", id), zap.Error(err))
	}
	cell.Center = center

	ring, err := spatial.ClosedBoundary(m.index, id)
	if err != nil {
		m.log.Warn("cell boundary failed", zap.Stringer("cell", id), zap.Error(err))
	}
	cell.Boundary = ring
	return cell
}

// Cells returns a snapshot of the visible cells.
func (m *Model) Cells() []Cell {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Cell, len(m.cells))
	for i, c := range m.cells {
		c.Properties = maps.Clone(c.Properties)
		out[i] = c
	}
	return out
}

// Cell returns a snapshot of one visible cell.
func (m *Model) Cell(id spatial.CellID) (Cell, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[id]
	if !ok {
		return Cell{}, false
	}
	c := m.cells[row]
	c.Properties = maps.Clone(c.Properties)
	return c, true
}

// CellAt returns the visible cell containing c at the current resolution.
func (m *Model) CellAt(c geo.Coord) (Cell, bool) {
	id, err := m.index.CoordinateToCell(c, m.Resolution())
	if err != nil {
		return Cell{}, false
	}
	return m.Cell(id)
}

// SetProperty sets a property on a visible cell. Absent cells are ignored;
// the return value reports whether the cell was present.
func (m *Model) SetProperty(id spatial.CellID, key string, value any) bool {
	m.mu.Lock()
	row, ok := m.rows[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.cells[row].Properties[key] = value
	m.mu.Unlock()

	m.emit([]Event{{Kind: RowChanged, Row: row, Cell: id, Key: key}})
	return true
}

// Property returns a property of a visible cell.
func (m *Model) Property(id spatial.CellID, key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, false
	}
	v, ok := m.cells[row].Properties[key]
	return v, ok
}

// SetPropertyHex is SetProperty with a hexadecimal cell identifier.
func (m *Model) SetPropertyHex(cell, key string, value any) (bool, error) {
	id, err := spatial.ParseCellID(cell)
	if err != nil {
		return false, err
	}
	return m.SetProperty(id, key, value), nil
}

// PropertyHex is Property with a hexadecimal cell identifier.
func (m *Model) PropertyHex(cell, key string) (any, bool, error) {
	id, err := spatial.ParseCellID(cell)
	if err != nil {
		return nil, false, err
	}
	v, ok := m.Property(id, key)
	return v, ok, nil
}

func fuzzyEqual(a, b float64) bool {
	return math.Abs(a-b)*1e12 <= math.Min(math.Abs(a), math.Abs(b))
}
