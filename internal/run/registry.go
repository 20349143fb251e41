package run

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"exportalpha/internal/engine"
)

var (
	ErrRunActive  = errors.New("run: a run is already active")
	ErrNoRun      = errors.New("run: no run exists")
	ErrNotRunning = errors.New("run: no run is in flight")
)

// Run is one backtest occupying the single-run slot.
type Run struct {
	ID        string             `json:"run_id"`
	Sim       *engine.Simulation `json:"-"`
	StartedAt time.Time          `json:"started_at"`
}

// Registry owns the at-most-one-active-run invariant. The current run's
// record survives completion so its results stay readable until the next
// Begin or an explicit Reset.
type Registry struct {
	Logger *zap.Logger

	mu      sync.Mutex
	current *Run
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{Logger: logger}
}

// Begin claims the run slot and launches the simulation on its own
// goroutine. Rejected while a previous run is still initializing or
// running.
func (r *Registry) Begin(ctx context.Context, sim *engine.Simulation) (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil && r.current.Sim.Active() {
		return nil, ErrRunActive
	}

	run := &Run{
		ID:        uuid.NewString(),
		Sim:       sim,
		StartedAt: time.Now().UTC(),
	}
	// Claim before the goroutine starts: the slot must read as occupied the
	// moment Begin returns, not when the goroutine gets scheduled.
	sim.Claim()
	r.current = run

	go func() {
		if err := sim.Init(ctx); err != nil {
			return
		}
		sim.Run(ctx)
	}()

	r.Logger.Info("run started", zap.String("run_id", run.ID))
	return run, nil
}

// Current returns the run occupying the slot, completed or not.
func (r *Registry) Current() (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil, ErrNoRun
	}
	return r.current, nil
}

// Stop flags the active run. The run ends at the next tick boundary; the
// tick in flight is not interrupted.
func (r *Registry) Stop() (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil || !r.current.Sim.Active() {
		return nil, ErrNotRunning
	}
	r.current.Sim.RequestStop()
	r.Logger.Info("run stop requested", zap.String("run_id", r.current.ID))
	return r.current, nil
}

// Reset vacates the slot. Rejected while a run is active, so a detached
// pass can never overlap a fresh one.
func (r *Registry) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.current.Sim.Active() {
		return ErrRunActive
	}
	r.current = nil
	return nil
}
