// Package refresh keeps cache services fresh in the background. One
// runner drives one cache service at a fixed interval; the manager owns
// the runner goroutines and joins them on shutdown.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RefreshFunc force-refreshes one cache service.
type RefreshFunc func(ctx context.Context) error

// Runner periodically invokes a refresh function.
type Runner struct {
	name     string
	interval time.Duration
	fn       RefreshFunc
	logger   *slog.Logger
}

// NewRunner creates a refresh runner. The first refresh fires after one
// interval, not at start: startup freshness is the warmup's job.
func NewRunner(name string, interval time.Duration, fn RefreshFunc, logger *slog.Logger) *Runner {
	return &Runner{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With("runner", name),
	}
}

// Run loops until the context is canceled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			r.logger.Info("refresh runner stopped")
			return
		}
	}
}

// RunOnce performs one refresh. A failed refresh is logged and the loop
// continues; the cache keeps serving its previous data.
func (r *Runner) RunOnce(ctx context.Context) {
	start := time.Now()
	if err := r.fn(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("refresh failed", "error", err, "elapsed", time.Since(start))
		return
	}
	r.logger.Info("refreshed", "elapsed", time.Since(start))
}

// Manager supervises a set of runners.
type Manager struct {
	logger  *slog.Logger
	runners []*Runner

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates an empty runner manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger.With("component", "refresh")}
}

// Add registers a runner. Must be called before Start.
func (m *Manager) Add(name string, interval time.Duration, fn RefreshFunc) {
	m.runners = append(m.runners, NewRunner(name, interval, fn, m.logger))
}

// Start launches every registered runner on its own goroutine.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	for _, runner := range m.runners {
		m.wg.Add(1)
		go func(r *Runner) {
			defer m.wg.Done()
			r.Run(runCtx)
		}(runner)
	}
	m.logger.Info("refresh runners started", "count", len(m.runners))
}

// Stop cancels every runner and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
}
