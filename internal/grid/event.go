package grid

import "github.com/hexatlas/hexgrid/internal/spatial"

// EventKind identifies a model notification.
type EventKind int

const (
	ZoomChanged EventKind = iota
	ViewportChanged
	ResolutionChanged
	UpdateStarted
	Reset
	CountChanged
	UpdateFinished
	RowChanged
)

var eventNames = [...]string{
	ZoomChanged:       "zoom_changed",
	ViewportChanged:   "viewport_changed",
	ResolutionChanged: "resolution_changed",
	UpdateStarted:     "update_started",
	Reset:             "reset",
	CountChanged:      "count_changed",
	UpdateFinished:    "update_finished",
	RowChanged:        "row_changed",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is a model notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind       EventKind
	Zoom       float64
	Resolution int
	Count      int
	Row        int
	Cell       spatial.CellID
	Key        string
}
