// Package compute runs coverage computations off the caller's goroutine.
package compute

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/hexatlas/hexgrid/internal/coverage"
	"github.com/hexatlas/hexgrid/internal/geo"
	"github.com/hexatlas/hexgrid/internal/logging"
	"github.com/hexatlas/hexgrid/internal/metrics"
	"github.com/hexatlas/hexgrid/internal/spatial"
)

// ErrPoolStopped is returned when a task is submitted after Stop.
var ErrPoolStopped = errors.New("compute pool stopped")

// Task is one coverage computation. Done is called exactly once with the
// resulting cells, which are nil when the computation produced nothing.
type Task struct {
	Viewport   geo.Rect
	Resolution int
	Done       func([]spatial.CellID)
}

// PoolConfig contains configuration for the pool.
type PoolConfig struct {
	Index     spatial.Index
	Workers   int // defaults to runtime.NumCPU()
	QueueSize int // defaults to 4 * Workers
	Limit     int // coverage ceiling; defaults to coverage.BackgroundLimit
	Logger    *zap.Logger
}

// Pool executes tasks on a fixed set of workers.
type Pool struct {
	computer *coverage.Computer
	log      *zap.Logger
	queue    chan Task

	mu       sync.RWMutex
	stopped  bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPool creates a pool and starts its workers.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4 * cfg.Workers
	}
	if cfg.Limit <= 0 {
		cfg.Limit = coverage.BackgroundLimit
	}

	p := &Pool{
		computer: coverage.NewComputer(coverage.Config{
			Index:  cfg.Index,
			Limit:  cfg.Limit,
			Path:   "background",
			Logger: cfg.Logger,
		}),
		log:   logging.OrNop(cfg.Logger).Named("compute"),
		queue: make(chan Task, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.log.Debug("pool started", zap.Int("workers", cfg.Workers), zap.Int("queue", cfg.QueueSize))
	return p
}

// Computer returns the coverage computer tasks run against.
func (p *Pool) Computer() *coverage.Computer { return p.computer }

// Submit enqueues t, blocking while the queue is full. After Stop the task's
// callback is invoked with nil and ErrPoolStopped is returned.
func (p *Pool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.deliver(t, nil)
		return ErrPoolStopped
	}
	metrics.TasksSubmitted.Inc()
	metrics.TaskQueueDepth.Inc()
	p.queue <- t
	return nil
}

// SubmitFuture enqueues a computation and returns a future for its result.
func (p *Pool) SubmitFuture(r geo.Rect, res int) (*Future, error) {
	f := newFuture()
	err := p.Submit(Task{Viewport: r, Resolution: res, Done: f.resolve})
	return f, err
}

// Stop rejects new tasks and waits until every accepted task has delivered its callback.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()

		p.wg.Wait()
		p.log.Debug("pool stopped")
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		metrics.TaskQueueDepth.Dec()
		p.run(t)
	}
}

func (p *Pool) run(t Task) {
	var cells []spatial.CellID
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("coverage task panicked", zap.Any("panic", r), zap.Int("resolution", t.Resolution))
			cells = nil
		}
		p.deliver(t, cells)
	}()

	cells = p.computer.Cover(t.Viewport, t.Resolution)
	if len(cells) == 0 {
		cells = nil
	}
}

func (p *Pool) deliver(t Task, cells []spatial.CellID) {
	metrics.TasksCompleted.Inc()
	if t.Done == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task callback panicked", zap.Any("panic", r))
		}
	}()
	t.Done(cells)
}

// Future is the single-fire result of a submitted computation.
type Future struct {
	once  sync.Once
	done  chan struct{}
	cells []spatial.CellID
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(cells []spatial.CellID) {
	f.once.Do(func() {
		f.cells = cells
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available or ctx is done.
func (f *Future) Wait(ctx context.Context) ([]spatial.CellID, error) {
	select {
	case <-f.done:
		return f.cells, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
