// Package jobs runs pollable coverage jobs on the store's worker pool and
// persists their state and results.
package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hexatlas/hexgrid/internal/geo"
	"github.com/hexatlas/hexgrid/internal/jobstore"
	"github.com/hexatlas/hexgrid/internal/logging"
	"github.com/hexatlas/hexgrid/internal/spatial"
)

var (
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("job manager stopped")
	// ErrInvalidParams is returned for viewports that cannot be covered.
	ErrInvalidParams = errors.New("invalid job parameters")
	// ErrNotReady is returned when asking for the result of an unfinished job.
	ErrNotReady = errors.New("job result not ready")
)

// Coverer computes coverages asynchronously, calling cb exactly once.
type Coverer interface {
	CoverageAsync(r geo.Rect, res int, cb func([]spatial.CellID))
}

// Config contains configuration for the job manager.
type Config struct {
	SQLitePath    string
	RetentionDays int // days to keep finished jobs (default 7)
	CleanupPeriod time.Duration
	Logger        *zap.Logger
}

// Manager manages coverage jobs with SQLite persistence.
type Manager struct {
	cfg     Config
	store   *jobstore.Store
	coverer Coverer
	log     *zap.Logger

	mu       sync.RWMutex
	stopped  bool
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager opens the job database.
func NewManager(cfg Config, coverer Coverer) (*Manager, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = time.Hour
	}

	store, err := jobstore.NewStore(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:     cfg,
		store:   store,
		coverer: coverer,
		log:     logging.OrNop(cfg.Logger).Named("jobs"),
		stopCh:  make(chan struct{}),
	}, nil
}

// Store returns the underlying store for direct access.
func (m *Manager) Store() *jobstore.Store {
	return m.store
}

// Start fails jobs left unfinished by a previous process and starts the cleaner.
func (m *Manager) Start() {
	n, err := m.store.MarkUnfinishedAsFailed("server restarted")
	if err != nil {
		m.log.Error("failed to recover unfinished jobs", zap.Error(err))
	} else if n > 0 {
		m.log.Info("marked unfinished jobs as failed", zap.Int64("jobs", n))
	}

	go m.cleaner()
}

// Stop rejects new jobs, waits for in-flight ones and closes the store.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		m.mu.Unlock()

		close(m.stopCh)
		m.wg.Wait()
		if err := m.store.Close(); err != nil {
			m.log.Warn("failed to close job store", zap.Error(err))
		}
	})
}

func (m *Manager) cleaner() {
	ticker := time.NewTicker(m.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *Manager) cleanup() {
	retention := time.Duration(m.cfg.RetentionDays) * 24 * time.Hour
	deleted, err := m.store.DeleteExpiredJobs(retention)
	if err != nil {
		m.log.Warn("cleanup failed", zap.Error(err))
	} else if deleted > 0 {
		m.log.Info("cleaned up expired jobs", zap.Int64("jobs", deleted))
	}
}

// Submit creates a job and starts its computation.
func (m *Manager) Submit(params jobstore.JobParams) (*jobstore.Job, error) {
	rect := geo.NewRect(params.North, params.West, params.South, params.East)
	if !rect.IsValid() || rect.IsEmpty() {
		return nil, fmt.Errorf("%w: viewport", ErrInvalidParams)
	}
	if params.Resolution < 0 || params.Resolution > spatial.MaxResolution {
		return nil, fmt.Errorf("%w: resolution %d", ErrInvalidParams, params.Resolution)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return nil, ErrStopped
	}

	job := &jobstore.Job{
		ID:        uuid.NewString(),
		Status:    jobstore.JobStatusQueued,
		Params:    params,
		CreatedAt: time.Now(),
	}
	if err := m.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if err := m.store.UpdateJobStarted(job.ID); err != nil {
		m.log.Warn("failed to mark job started", zap.String("job", job.ID), zap.Error(err))
	}

	m.wg.Add(1)
	m.coverer.CoverageAsync(rect, params.Resolution, func(cells []spatial.CellID) {
		defer m.wg.Done()
		m.finish(job.ID, cells)
	})

	m.log.Debug("job submitted", zap.String("job", job.ID), zap.Int("resolution", params.Resolution))
	return job, nil
}

func (m *Manager) finish(id string, cells []spatial.CellID) {
	if err := m.store.SaveResult(id, cells); err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			// deleted while computing
			return
		}
		m.log.Warn("failed to save job result", zap.String("job", id), zap.Error(err))
		if err := m.store.UpdateJobStatus(id, jobstore.JobStatusFailed, err.Error()); err != nil {
			m.log.Warn("failed to mark job failed", zap.String("job", id), zap.Error(err))
		}
		return
	}
	m.log.Debug("job completed", zap.String("job", id), zap.Int("cells", len(cells)))
}

// Get returns a job by ID.
func (m *Manager) Get(id string) (*jobstore.Job, error) {
	return m.store.GetJob(id)
}

// List returns recent jobs.
func (m *Manager) List(limit int) ([]*jobstore.Job, error) {
	return m.store.ListJobs(limit)
}

// Result returns the cells of a completed job.
func (m *Manager) Result(id string) ([]spatial.CellID, error) {
	job, err := m.store.GetJob(id)
	if err != nil {
		return nil, err
	}
	if job.Status != jobstore.JobStatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReady, id, job.Status)
	}
	return m.store.Result(id)
}

// Delete removes a job record. A running computation still finishes; its
// result is discarded.
func (m *Manager) Delete(id string) error {
	return m.store.DeleteJob(id)
}
