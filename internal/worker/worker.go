// Package worker implements the poll execution loop: one worker per proxy
// unit, each pulling targets from the shared queue through a pinned session.
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropsignal/fleetpoller/internal/hash/sha256"
	"github.com/dropsignal/fleetpoller/internal/metrics"
	"github.com/dropsignal/fleetpoller/internal/notify"
	"github.com/dropsignal/fleetpoller/internal/schedule"
	"github.com/dropsignal/fleetpoller/internal/watch"
)

// Config controls worker pacing.
type Config struct {
	// ExecTimeout bounds a single target check (default 30s).
	ExecTimeout time.Duration
	// ItemDelay is the pause after each processed target (default 500ms).
	ItemDelay time.Duration
	// IdleDelay is the pause before re-polling an empty queue (default 200ms).
	IdleDelay time.Duration
	// CaptureContentType labels stored diagnostic snapshots.
	CaptureContentType string
}

func (c Config) withDefaults() Config {
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 30 * time.Second
	}
	if c.ItemDelay <= 0 {
		c.ItemDelay = 500 * time.Millisecond
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = 200 * time.Millisecond
	}
	if c.CaptureContentType == "" {
		c.CaptureContentType = "text/html; charset=utf-8"
	}
	return c
}

// Deps carries the collaborators shared by every worker in a pool. Captures
// and Emitter are optional; a nil capture store disables snapshot persistence.
type Deps struct {
	Queue        *schedule.Queue
	Executor     watch.Executor
	Observations watch.ObservationStore
	Captures     watch.CaptureStore
	Emitter      notify.Emitter
	Clock        watch.Clock
}

// State is a point-in-time snapshot of one worker, for reporting surfaces.
type State struct {
	ID        int    `json:"id"`
	UnitID    string `json:"unit_id"`
	Region    string `json:"region"`
	Busy      bool   `json:"busy"`
	Target    string `json:"target,omitempty"`
	Processed int64  `json:"processed"`
}

// Worker polls targets through a single proxy unit. The session opened at
// startup is reused for every target the worker processes.
type Worker struct {
	id     int
	unit   watch.ProxyUnit
	deps   Deps
	cfg    Config
	runID  [16]byte
	logger *zap.Logger

	mu        sync.Mutex
	busy      bool
	current   string
	processed int64
}

func newWorker(id int, unit watch.ProxyUnit, deps Deps, cfg Config, runID [16]byte, logger *zap.Logger) *Worker {
	return &Worker{
		id:     id,
		unit:   unit,
		deps:   deps,
		cfg:    cfg,
		runID:  runID,
		logger: logger.With(zap.Int("worker", id), zap.String("unit_id", unit.ID)),
	}
}

// run blocks, consuming queue items until the context finishes. Target-level
// failures are logged and never stop the loop.
func (w *Worker) run(ctx context.Context) {
	session, err := w.deps.Executor.NewSession(ctx, &w.unit)
	if err != nil {
		w.logger.Error("session open failed, worker exiting", zap.Error(err))
		return
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			w.logger.Warn("session close failed", zap.Error(err))
		}
	}()

	w.logger.Info("worker started", zap.String("region", w.unit.Region))
	for ctx.Err() == nil {
		target, ok := w.deps.Queue.Next()
		if !ok {
			if !sleep(ctx, w.cfg.IdleDelay) {
				return
			}
			continue
		}
		w.process(ctx, session, target)
		if !sleep(ctx, w.cfg.ItemDelay) {
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, session watch.Session, target watch.Target) {
	started := w.deps.Clock.Now()
	w.setBusy(target.Key())
	metrics.IncBusyWorkers()
	defer func() {
		metrics.DecBusyWorkers()
		w.setIdle()
	}()

	w.emit(notify.Event{
		RunID:  w.runID,
		TS:     started,
		Kind:   notify.KindCheckStarted,
		Group:  target.Group,
		Target: target.Key(),
		UnitID: w.unit.ID,
		Region: w.unit.Region,
	})

	result, snapshot, err := session.Execute(ctx, target, w.cfg.ExecTimeout)
	note := ""
	switch {
	case err != nil:
		note = err.Error()
		w.logger.Error("check failed", zap.String("target", target.Key()), zap.Error(err))
		metrics.ObserveTarget(string(target.Group), "error")
	case result == nil:
		w.captureSnapshot(ctx, target, snapshot)
		metrics.ObserveTarget(string(target.Group), "nodata")
	default:
		w.applyResult(ctx, target, result)
		metrics.ObserveTarget(string(target.Group), "ok")
	}

	w.emit(notify.Event{
		RunID:  w.runID,
		TS:     w.deps.Clock.Now(),
		Kind:   notify.KindCheckFinished,
		Group:  target.Group,
		Target: target.Key(),
		UnitID: w.unit.ID,
		Region: w.unit.Region,
		Dur:    w.deps.Clock.Now().Sub(started),
		Note:   note,
	})
}

// applyResult reclassifies the target's priority tier and persists the
// observation only when it differs from the last one on record.
func (w *Worker) applyResult(ctx context.Context, target watch.Target, result *watch.StructuredResult) {
	tier, reason := classify(result)
	w.deps.Queue.SetPriority(target, tier, reason)

	obs := watch.Observation{
		Target:    target.Key(),
		Group:     target.Group,
		Slots:     result.Slots,
		Available: result.Available(),
		CheckedAt: w.deps.Clock.Now(),
	}
	last, found, err := w.deps.Observations.Last(ctx, target.Group, target.Key())
	if err != nil {
		w.logger.Warn("last observation lookup failed", zap.String("target", target.Key()), zap.Error(err))
	}
	if found && err == nil && last.Equal(obs) {
		return
	}
	if err := w.deps.Observations.Save(ctx, obs); err != nil {
		w.logger.Error("observation save failed", zap.String("target", target.Key()), zap.Error(err))
		return
	}
	metrics.ObserveObservationChange(string(target.Group))
	w.emit(notify.Event{
		RunID:     w.runID,
		TS:        obs.CheckedAt,
		Kind:      notify.KindChange,
		Group:     target.Group,
		Target:    target.Key(),
		UnitID:    w.unit.ID,
		Region:    w.unit.Region,
		Slots:     obs.Slots,
		Available: obs.Available,
	})
}

// classify maps a structured result to its priority tier.
func classify(result *watch.StructuredResult) (watch.Tier, string) {
	switch {
	case result.Purchasable && result.Listed:
		return watch.Tier1, "purchasable and listed"
	case result.Purchasable:
		return watch.Tier2, "purchasable"
	case result.Listed:
		return watch.Tier3, "listed"
	default:
		return watch.TierNone, "no signal"
	}
}

// captureSnapshot stores raw page content for targets that yielded no data,
// so empty extractions can be diagnosed offline.
func (w *Worker) captureSnapshot(ctx context.Context, target watch.Target, snapshot []byte) {
	if w.deps.Captures == nil || len(snapshot) == 0 {
		return
	}
	path := capturePath(target, w.deps.Clock.Now())
	uri, err := w.deps.Captures.Put(ctx, path, w.cfg.CaptureContentType, snapshot)
	if err != nil {
		w.logger.Warn("snapshot capture failed", zap.String("target", target.Key()), zap.Error(err))
		return
	}
	w.logger.Info("empty result captured", zap.String("target", target.Key()), zap.String("uri", uri))
}

func capturePath(target watch.Target, ts time.Time) string {
	group := strings.Trim(string(target.Group), "/")
	if group == "" {
		group = "ungrouped"
	}
	return fmt.Sprintf("%s/%s/%d.html", group, sha256.DigestString(target.Key()), ts.UnixMilli())
}

func (w *Worker) emit(evt notify.Event) {
	if w.deps.Emitter != nil {
		w.deps.Emitter.Emit(evt)
	}
}

func (w *Worker) setBusy(target string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy = true
	w.current = target
}

func (w *Worker) setIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy = false
	w.current = ""
	w.processed++
}

// snapshot returns the worker's current State.
func (w *Worker) snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return State{
		ID:        w.id,
		UnitID:    w.unit.ID,
		Region:    w.unit.Region,
		Busy:      w.busy,
		Target:    w.current,
		Processed: w.processed,
	}
}

// sleep pauses for d, returning false if the context finished first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
