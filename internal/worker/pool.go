package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropsignal/fleetpoller/internal/notify"
	"github.com/dropsignal/fleetpoller/internal/watch"
)

// Pool runs one worker per proxy unit, capped at the rotation length: extra
// units idle rather than contend for the same slots.
type Pool struct {
	workers []*Worker
	logger  *zap.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once
}

// NewPool sizes and builds the worker set. Every worker shares the same run
// ID so downstream consumers can group one process run's events.
func NewPool(units []watch.ProxyUnit, deps Deps, cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	runID := notify.UUIDToBytes(uuid.New())

	n := len(units)
	if targets := deps.Queue.Len(); targets < n {
		n = targets
	}
	workers := make([]*Worker, 0, n)
	for i := range n {
		workers = append(workers, newWorker(i+1, units[i], deps, cfg, runID, logger))
	}
	return &Pool{workers: workers, logger: logger}
}

// Size reports how many workers the pool runs.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start launches every worker. It is an error to start a pool twice.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for _, w := range p.workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(runCtx)
		}()
	}
	p.logger.Info("worker pool started", zap.Int("workers", len(p.workers)))
}

// Stop signals every worker to finish its current target and waits for all of
// them to exit. Safe to call more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		cancel := p.cancel
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		p.wg.Wait()
		p.logger.Info("worker pool stopped")
	})
}

// States snapshots every worker for reporting surfaces.
func (p *Pool) States() []State {
	states := make([]State, 0, len(p.workers))
	for _, w := range p.workers {
		states = append(states, w.snapshot())
	}
	return states
}
