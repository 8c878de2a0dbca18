package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hexatlas/hexgrid/internal/geo"
	"github.com/hexatlas/hexgrid/internal/grid"
	"github.com/hexatlas/hexgrid/internal/spatial"
)

type viewportBody struct {
	North float64 `json:"north"`
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
}

func viewportOf(r geo.Rect) viewportBody {
	return viewportBody{North: r.North(), West: r.West(), South: r.South(), East: r.East()}
}

type gridState struct {
	Session    string       `json:"session"`
	Zoom       float64      `json:"zoom"`
	Resolution int          `json:"resolution"`
	Viewport   viewportBody `json:"viewport"`
	Count      int          `json:"count"`
}

func stateOf(id string, m *grid.Model) gridState {
	return gridState{
		Session:    id,
		Zoom:       m.Zoom(),
		Resolution: m.Resolution(),
		Viewport:   viewportOf(m.Viewport()),
		Count:      m.Count(),
	}
}

func sessionsHandler(registry *SessionRegistry, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := []SessionInfo{}
		if registry != nil {
			sessions = registry.Sessions()
		}
		if title == "" {
			title = "hexgrid"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"title":    title,
			"sessions": sessions,
		})
	}
}

func sessionDeleteHandler(registry *SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, id := getSession(r)
		registry.Remove(id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func gridHandler(w http.ResponseWriter, r *http.Request) {
	m, id := getSession(r)
	writeJSON(w, http.StatusOK, stateOf(id, m))
}

func zoomHandler(w http.ResponseWriter, r *http.Request) {
	m, id := getSession(r)
	var req struct {
		Zoom *float64 `json:"zoom"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Zoom == nil {
		http.Error(w, "zoom is required", http.StatusBadRequest)
		return
	}
	m.SetZoom(*req.Zoom)
	writeJSON(w, http.StatusOK, stateOf(id, m))
}

// viewportHandler accepts any rectangle; an invalid one leaves the grid empty.
func viewportHandler(w http.ResponseWriter, r *http.Request) {
	m, id := getSession(r)
	var req viewportBody
	if !decodeBody(w, r, &req) {
		return
	}
	m.SetViewport(geo.NewRect(req.North, req.West, req.South, req.East))
	writeJSON(w, http.StatusOK, stateOf(id, m))
}

func viewportCenterHandler(w http.ResponseWriter, r *http.Request) {
	m, id := getSession(r)
	var req struct {
		Lat    float64 `json:"lat"`
		Lng    float64 `json:"lng"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	m.SetViewportFromCenter(geo.Coord{Lat: req.Lat, Lng: req.Lng}, req.Width, req.Height)
	writeJSON(w, http.StatusOK, stateOf(id, m))
}

func gridCellsHandler(w http.ResponseWriter, r *http.Request) {
	m, _ := getSession(r)
	cells := m.Cells()
	if cells == nil {
		cells = []grid.Cell{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resolution": m.Resolution(),
		"count":      len(cells),
		"cells":      cells,
	})
}

func propertyHandler(w http.ResponseWriter, r *http.Request) {
	m, _ := getSession(r)
	cell, key := chi.URLParam(r, "cell"), chi.URLParam(r, "key")

	v, ok, err := m.PropertyHex(cell, key)
	if errors.Is(err, spatial.ErrInvalidCell) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ok {
		http.Error(w, "property not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cell": cell, "key": key, "value": v})
}

func propertyUpdateHandler(w http.ResponseWriter, r *http.Request) {
	m, _ := getSession(r)
	cell, key := chi.URLParam(r, "cell"), chi.URLParam(r, "key")

	var req struct {
		Value any `json:"value"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ok, err := m.SetPropertyHex(cell, key, req.Value)
	if errors.Is(err, spatial.ErrInvalidCell) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ok {
		http.Error(w, "cell not in grid", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cell": cell, "key": key, "value": req.Value})
}
