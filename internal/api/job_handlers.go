package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hexatlas/hexgrid/internal/jobs"
	"github.com/hexatlas/hexgrid/internal/jobstore"
	"github.com/hexatlas/hexgrid/internal/resolution"
	"github.com/hexatlas/hexgrid/internal/spatial"
)

type jobSubmitRequest struct {
	North      float64  `json:"north"`
	West       float64  `json:"west"`
	South      float64  `json:"south"`
	East       float64  `json:"east"`
	Resolution *int     `json:"resolution"`
	Zoom       *float64 `json:"zoom"`
}

func jobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		http.Error(w, "job not found", http.StatusNotFound)
	case errors.Is(err, jobs.ErrNotReady):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, jobs.ErrInvalidParams):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, jobs.ErrStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func jobSubmitHandler(jm *jobs.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		var req jobSubmitRequest
		if !decodeBody(w, r, &req) {
			return
		}

		params := jobstore.JobParams{
			North: req.North,
			West:  req.West,
			South: req.South,
			East:  req.East,
			Zoom:  req.Zoom,
		}
		switch {
		case req.Resolution != nil:
			params.Resolution = *req.Resolution
		case req.Zoom != nil:
			params.Resolution = resolution.ForZoom(*req.Zoom)
		default:
			http.Error(w, "zoom or resolution is required", http.StatusBadRequest)
			return
		}

		job, err := jm.Submit(params)
		if err != nil {
			jobError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

func jobListHandler(jm *jobs.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		limit, err := queryInt(r, "limit", 50)
		if err != nil || limit <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		list, err := jm.List(limit)
		if err != nil {
			jobError(w, err)
			return
		}
		if list == nil {
			list = []*jobstore.Job{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
	}
}

func jobStatusHandler(jm *jobs.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		job, err := jm.Get(chi.URLParam(r, "job_id"))
		if err != nil {
			jobError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func jobResultHandler(jm *jobs.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		jobID := chi.URLParam(r, "job_id")
		cells, err := jm.Result(jobID)
		if err != nil {
			jobError(w, err)
			return
		}
		if cells == nil {
			cells = []spatial.CellID{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id": jobID,
			"count":  len(cells),
			"cells":  cells,
		})
	}
}

func jobDeleteHandler(jm *jobs.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		if err := jm.Delete(chi.URLParam(r, "job_id")); err != nil {
			jobError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
