package api

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/hexatlas/hexgrid/internal/coverage"
	"github.com/hexatlas/hexgrid/internal/events"
	"github.com/hexatlas/hexgrid/internal/grid"
	"github.com/hexatlas/hexgrid/internal/logging"
	"github.com/hexatlas/hexgrid/internal/metrics"
	"github.com/hexatlas/hexgrid/internal/spatial"
)

// DefaultMaxSessions bounds the registry when no limit is configured.
const DefaultMaxSessions = 256

// SessionInfo describes a grid session for the API response.
type SessionInfo struct {
	ID         string  `json:"id"`
	Zoom       float64 `json:"zoom"`
	Resolution int     `json:"resolution"`
	Count      int     `json:"count"`
}

type session struct {
	model       *grid.Model
	unsubscribe func()
}

// RegistryConfig contains configuration for the session registry.
type RegistryConfig struct {
	Index            spatial.Index
	InitialZoom      float64
	InteractiveLimit int // coverage ceiling of every session; defaults to coverage.InteractiveLimit
	MaxSessions      int
	Publisher        events.Publisher
	Logger           *zap.Logger
}

// SessionRegistry holds one grid model per named session. Sessions are
// created on first use; the least recently used one is dropped when the
// registry is full.
type SessionRegistry struct {
	cfg      RegistryConfig
	computer *coverage.Computer
	log      *zap.Logger

	mu       sync.Mutex
	sessions *lru.Cache[string, *session]
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry(cfg RegistryConfig) (*SessionRegistry, error) {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	computer := coverage.NewComputer(coverage.Config{
		Index:  cfg.Index,
		Limit:  cfg.InteractiveLimit,
		Path:   "interactive",
		Logger: cfg.Logger,
	})
	r := &SessionRegistry{
		cfg:      cfg,
		computer: computer,
		log:      logging.OrNop(cfg.Logger).Named("sessions"),
	}
	sessions, err := lru.NewWithEvict[string, *session](cfg.MaxSessions, func(id string, s *session) {
		s.unsubscribe()
		metrics.Sessions.Dec()
		r.log.Debug("session released", zap.String("session", id))
	})
	if err != nil {
		return nil, err
	}
	r.sessions = sessions
	return r, nil
}

// Get returns the model of a session, creating it if needed.
func (r *SessionRegistry) Get(id string) *grid.Model {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions.Get(id); ok {
		return s.model
	}

	model := grid.NewModel(grid.Config{
		Index:       r.cfg.Index,
		Computer:    r.computer,
		InitialZoom: r.cfg.InitialZoom,
		Logger:      logging.OrNop(r.cfg.Logger).With(zap.String("session", id)),
	})
	s := &session{model: model, unsubscribe: func() {}}
	if r.cfg.Publisher != nil {
		s.unsubscribe = model.Subscribe(bridge(id, r.cfg.Publisher))
	}
	r.sessions.Add(id, s)
	metrics.Sessions.Inc()
	r.log.Debug("session created", zap.String("session", id))
	return model
}

// Lookup returns the model of an existing session and marks it recently used.
func (r *SessionRegistry) Lookup(id string) (*grid.Model, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions.Get(id)
	if !ok {
		return nil, false
	}
	return s.model, true
}

// Remove drops a session. It reports whether the session existed.
func (r *SessionRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.Remove(id)
}

// Sessions returns info for all sessions sorted by ID.
func (r *SessionRegistry) Sessions() []SessionInfo {
	r.mu.Lock()
	ids := r.sessions.Keys()
	models := make([]*grid.Model, 0, len(ids))
	for _, id := range ids {
		s, _ := r.sessions.Peek(id)
		models = append(models, s.model)
	}
	r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(ids))
	for i, id := range ids {
		m := models[i]
		infos = append(infos, SessionInfo{
			ID:         id,
			Zoom:       m.Zoom(),
			Resolution: m.Resolution(),
			Count:      m.Count(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// bridge republishes grid notifications as session-scoped events.
func bridge(id string, pub events.Publisher) func(grid.Event) {
	return func(ev grid.Event) {
		data := map[string]any{}
		switch ev.Kind {
		case grid.ZoomChanged:
			data["zoom"] = ev.Zoom
		case grid.ResolutionChanged:
			data["resolution"] = ev.Resolution
		case grid.Reset, grid.CountChanged:
			data["count"] = ev.Count
		case grid.RowChanged:
			data["row"] = ev.Row
			data["cell"] = ev.Cell
			data["key"] = ev.Key
		}
		pub.Publish(events.Event{
			Type:    events.Type(ev.Kind.String()),
			Session: id,
			Time:    time.Now(),
			Data:    data,
		})
	}
}
