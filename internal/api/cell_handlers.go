package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/hexatlas/hexgrid/internal/cache"
	"github.com/hexatlas/hexgrid/internal/coverage"
	"github.com/hexatlas/hexgrid/internal/geo"
	"github.com/hexatlas/hexgrid/internal/resolution"
	"github.com/hexatlas/hexgrid/internal/spatial"
	"github.com/hexatlas/hexgrid/internal/store"
	"github.com/hexatlas/hexgrid/pkg/colormap"
)

// maxNeighborK bounds the disk radius accepted by the neighbors endpoint.
const maxNeighborK = 10

type cellGeometry struct {
	Cell       spatial.CellID `json:"h3_index"`
	Resolution int            `json:"resolution"`
	Center     geo.Coord      `json:"center"`
	Boundary   []geo.Coord    `json:"boundary"`
}

func cellHandler(ix spatial.Index, cm *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := getCell(r)
		key := cache.CellKey(id.String())
		if cm != nil {
			if data, ok := cm.GetQuery(key); ok {
				w.Header().Set("Content-Type", "application/json")
				w.Write(data)
				return
			}
		}

		center, err := ix.CellToCenter(id)
		if err != nil {
			http.Error(w, "invalid cell: "+err.Error(), http.StatusBadRequest)
			return
		}
		boundary, err := spatial.ClosedBoundary(ix, id)
		if err != nil {
			http.Error(w, "invalid cell: "+err.Error(), http.StatusBadRequest)
			return
		}
		data, err := json.Marshal(cellGeometry{
			Cell:       id,
			Resolution: ix.CellResolution(id),
			Center:     center,
			Boundary:   boundary,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if cm != nil {
			cm.SetQuery(key, data)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func cellDataHandler(st *store.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, st.Data(getCell(r)))
	}
}

func cellDataUpdateHandler(st *store.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Properties map[string]any `json:"properties"`
			Value      float64        `json:"value"`
			Color      *colormap.Hex  `json:"color"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		id := getCell(r)
		st.SetData(id, store.Record{Properties: req.Properties, Value: req.Value, Color: req.Color})
		writeJSON(w, http.StatusOK, st.Data(id))
	}
}

func clearDataHandler(st *store.Manager, cm *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st.Clear()
		if cm != nil {
			cm.ResetTiles()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func aggregateHandler(st *store.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Value *float64 `json:"value"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Value == nil {
			http.Error(w, "value is required", http.StatusBadRequest)
			return
		}
		id := getCell(r)
		st.Aggregate(id, *req.Value)
		writeJSON(w, http.StatusOK, map[string]any{"h3_index": id, "value": *req.Value})
	}
}

func aggregatedHandler(st *store.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := getCell(r)
		writeJSON(w, http.StatusOK, map[string]any{"h3_index": id, "total": st.Aggregated(id)})
	}
}

func neighborsHandler(ix spatial.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		k, err := queryInt(r, "k", 1)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if k < 1 || k > maxNeighborK {
			http.Error(w, "k must be between 1 and 10", http.StatusBadRequest)
			return
		}
		id := getCell(r)
		cells, err := spatial.Neighbors(ix, id, k)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if cells == nil {
			cells = []spatial.CellID{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"h3_index": id, "k": k, "neighbors": cells})
	}
}

func lookupHandler(ix spatial.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lat, err := queryFloat(r, "lat")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lng, err := queryFloat(r, "lng")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, err := queryResolution(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c := geo.Coord{Lat: lat, Lng: lng}
		if !c.IsValid() {
			http.Error(w, "coordinate out of range", http.StatusBadRequest)
			return
		}
		id, err := ix.CoordinateToCell(c, res)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"h3_index": id, "resolution": res})
	}
}

// queryResolution reads an explicit resolution or derives one from zoom.
func queryResolution(r *http.Request) (int, error) {
	q := r.URL.Query()
	if q.Get("resolution") != "" {
		res, err := queryInt(r, "resolution", 0)
		if err != nil {
			return 0, err
		}
		if res < 0 || res > spatial.MaxResolution {
			return 0, errors.New("resolution out of range")
		}
		return res, nil
	}
	zoom, err := queryFloat(r, "zoom")
	if err != nil {
		return 0, errors.New("zoom or resolution is required")
	}
	return resolution.ForZoom(zoom), nil
}

func queryRect(r *http.Request) (geo.Rect, error) {
	var edges [4]float64
	for i, name := range []string{"north", "west", "south", "east"} {
		v, err := queryFloat(r, name)
		if err != nil {
			return geo.Rect{}, err
		}
		edges[i] = v
	}
	return geo.NewRect(edges[0], edges[1], edges[2], edges[3]), nil
}

type coverageResponse struct {
	Resolution int              `json:"resolution"`
	Status     coverage.Status  `json:"status"`
	Estimate   int64            `json:"estimate,omitempty"`
	Cached     bool             `json:"cached"`
	Count      int              `json:"count"`
	Cells      []spatial.CellID `json:"cells"`
}

// coverageHandler serves coverages through the store cache. Empty results
// are explained by re-running the estimate on computer.
func coverageHandler(st *store.Manager, computer *coverage.Computer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rect, err := queryRect(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, err := queryResolution(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := coverageResponse{Resolution: res, Cached: st.Cached(rect, res)}
		cells, err := st.Coverage(r.Context(), rect, res)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if len(cells) == 0 {
			cells = []spatial.CellID{}
			switch {
			case !rect.IsValid() || rect.IsEmpty():
				resp.Status = coverage.StatusInvalidViewport
			case computer != nil:
				d := computer.CoverDetailed(rect, res)
				resp.Status, resp.Estimate = d.Status, d.Estimate
			}
		}
		resp.Cells = cells
		resp.Count = len(cells)
		writeJSON(w, http.StatusOK, resp)
	}
}

type cacheState struct {
	Enabled      bool           `json:"enabled"`
	Size         int            `json:"size"`
	Entries      int            `json:"entries"`
	Computations int64          `json:"computations"`
	Generation   uint64         `json:"generation"`
	Tiles        map[string]any `json:"tiles,omitempty"`
}

func cacheStateOf(st *store.Manager, cm *cache.Manager) cacheState {
	s := cacheState{
		Enabled:      st.CacheEnabled(),
		Size:         st.CacheSize(),
		Entries:      st.CachedEntries(),
		Computations: st.Computations(),
		Generation:   st.Generation(),
	}
	if cm != nil {
		s.Tiles = cm.Stats()
	}
	return s
}

func cacheHandler(st *store.Manager, cm *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cacheStateOf(st, cm))
	}
}

func cacheUpdateHandler(st *store.Manager, cm *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Enabled *bool `json:"enabled"`
			Size    *int  `json:"size"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Size != nil && *req.Size < 0 {
			http.Error(w, "size must not be negative", http.StatusBadRequest)
			return
		}
		if req.Enabled != nil {
			st.SetCacheEnabled(*req.Enabled)
		}
		if req.Size != nil {
			st.SetCacheSize(*req.Size)
		}
		writeJSON(w, http.StatusOK, cacheStateOf(st, cm))
	}
}

func colorHandler(defaultColormap string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var vals [3]float64
		for i, name := range []string{"value", "min", "max"} {
			v, err := queryFloat(r, name)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			vals[i] = v
		}

		name := r.URL.Query().Get("colormap")
		if name == "" {
			name = defaultColormap
		}
		cmap, ok := colormap.ByName(name)
		if !ok && r.URL.Query().Get("colormap") != "" {
			http.Error(w, "unknown colormap", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"color": colormap.ValueToColorIn(cmap, vals[0], vals[1], vals[2]),
		})
	}
}
