// Package api provides HTTP handlers for the hexgrid server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/hexatlas/hexgrid/internal/cache"
	"github.com/hexatlas/hexgrid/internal/coverage"
	"github.com/hexatlas/hexgrid/internal/events"
	"github.com/hexatlas/hexgrid/internal/grid"
	"github.com/hexatlas/hexgrid/internal/jobs"
	"github.com/hexatlas/hexgrid/internal/logging"
	"github.com/hexatlas/hexgrid/internal/metrics"
	"github.com/hexatlas/hexgrid/internal/service"
	"github.com/hexatlas/hexgrid/internal/spatial"
	"github.com/hexatlas/hexgrid/internal/store"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Sessions    *SessionRegistry
	Store       *store.Manager
	Index       spatial.Index
	Computer    *coverage.Computer // explains empty coverages; usually the pool's computer
	Jobs        *jobs.Manager
	Tiles       *service.TileService
	Cache       *cache.Manager
	Hub         *events.Hub
	Colormap    string
	Title       string
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	log := logging.OrNop(cfg.Logger).Named("http")
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/tiles/{z}/{x}/{y}.png", tileHandler(cfg.Tiles, log))

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", sessionsHandler(cfg.Sessions, cfg.Title))

		r.Route("/cells/{cell}", func(r chi.Router) {
			r.Use(cellMiddleware)
			r.Get("/", cellHandler(cfg.Index, cfg.Cache))
			r.Get("/data", cellDataHandler(cfg.Store))
			r.Put("/data", cellDataUpdateHandler(cfg.Store))
			r.Get("/aggregate", aggregatedHandler(cfg.Store))
			r.Post("/aggregate", aggregateHandler(cfg.Store))
			r.Get("/neighbors", neighborsHandler(cfg.Index))
		})
		r.Delete("/data", clearDataHandler(cfg.Store, cfg.Cache))
		r.Get("/lookup", lookupHandler(cfg.Index))
		r.Get("/coverage", coverageHandler(cfg.Store, cfg.Computer))
		r.Get("/cache", cacheHandler(cfg.Store, cfg.Cache))
		r.Put("/cache", cacheUpdateHandler(cfg.Store, cfg.Cache))
		r.Get("/color", colorHandler(cfg.Colormap))

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", jobListHandler(cfg.Jobs))
			r.Post("/coverage", jobSubmitHandler(cfg.Jobs))
			r.Get("/{job_id}", jobStatusHandler(cfg.Jobs))
			r.Get("/{job_id}/result", jobResultHandler(cfg.Jobs))
			r.Delete("/{job_id}", jobDeleteHandler(cfg.Jobs))
		})
	})

	// Session-scoped routes: /s/{session}/...
	r.Route("/s/{session}", func(r chi.Router) {
		r.Use(sessionMiddleware(cfg.Sessions))
		r.Delete("/", sessionDeleteHandler(cfg.Sessions))

		r.Route("/api", func(r chi.Router) {
			r.Get("/events", eventsHandler(cfg.Hub, cfg.Sessions))
			r.Get("/grid", gridHandler)
			r.Put("/grid/zoom", zoomHandler)
			r.Put("/grid/viewport", viewportHandler)
			r.Put("/grid/viewport/center", viewportCenterHandler)
			r.Get("/grid/cells", gridCellsHandler)
			r.Get("/grid/cells/{cell}/properties/{key}", propertyHandler)
			r.Put("/grid/cells/{cell}/properties/{key}", propertyUpdateHandler)
		})
	})

	return r
}

type ctxKey string

const (
	sessionKey   ctxKey = "session"
	sessionIDKey ctxKey = "session_id"
	cellKey      ctxKey = "cell"
)

var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// sessionMiddleware resolves the session model. Read-only requests need an
// existing session; PUT creates it on first use.
func sessionMiddleware(registry *SessionRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if registry == nil {
				http.Error(w, "sessions not configured", http.StatusNotImplemented)
				return
			}
			id := chi.URLParam(r, "session")
			if !sessionPattern.MatchString(id) {
				http.Error(w, "invalid session name", http.StatusBadRequest)
				return
			}

			var model *grid.Model
			if r.Method == http.MethodPut {
				model = registry.Get(id)
			} else {
				m, ok := registry.Lookup(id)
				if !ok {
					http.Error(w, "session not found", http.StatusNotFound)
					return
				}
				model = m
			}

			ctx := context.WithValue(r.Context(), sessionKey, model)
			ctx = context.WithValue(ctx, sessionIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getSession(r *http.Request) (*grid.Model, string) {
	model, _ := r.Context().Value(sessionKey).(*grid.Model)
	id, _ := r.Context().Value(sessionIDKey).(string)
	return model, id
}

// cellMiddleware parses the {cell} path parameter.
func cellMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := spatial.ParseCellID(chi.URLParam(r, "cell"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), cellKey, id)))
	})
}

func getCell(r *http.Request) spatial.CellID {
	id, _ := r.Context().Value(cellKey).(spatial.CellID)
	return id
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

var errMissingParam = errors.New("missing parameter")

func queryFloat(r *http.Request, name string) (float64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, fmt.Errorf("%w: %s", errMissingParam, name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func tileHandler(svc *service.TileService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			http.Error(w, "tiles not configured", http.StatusNotImplemented)
			return
		}
		z, err := strconv.Atoi(chi.URLParam(r, "z"))
		if err != nil {
			http.Error(w, "invalid z", http.StatusBadRequest)
			return
		}
		x, err := strconv.Atoi(chi.URLParam(r, "x"))
		if err != nil {
			http.Error(w, "invalid x", http.StatusBadRequest)
			return
		}
		y, err := strconv.Atoi(chi.URLParam(r, "y"))
		if err != nil {
			http.Error(w, "invalid y", http.StatusBadRequest)
			return
		}

		data, err := svc.Tile(r.Context(), z, x, y)
		if errors.Is(err, service.ErrInvalidTile) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			// Return empty tile on error
			log.Warn("tile failed", zap.Int("z", z), zap.Int("x", x), zap.Int("y", y), zap.Error(err))
			data, _ = svc.EmptyTile()
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}
