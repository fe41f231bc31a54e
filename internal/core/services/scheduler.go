package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"clawbounty.market/internal/core/logger"
)

const (
	DefaultRefreshInterval = 300 * time.Second
	DefaultSweepInterval   = 3600 * time.Second
	DefaultRestartDelay    = 30 * time.Second
)

// Scheduler runs the long-lived background loops and restarts any loop that
// returns an error or panics.
type Scheduler struct {
	bounties        *BountyService
	registry        *RegistryService
	refreshInterval time.Duration
	sweepInterval   time.Duration
	restartDelay    time.Duration
	now             func() time.Time

	wg sync.WaitGroup
}

type SchedulerOption func(*Scheduler)

func WithRefreshInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.refreshInterval = d }
}

func WithSweepInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.sweepInterval = d }
}

func WithRestartDelay(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.restartDelay = d }
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(bounties *BountyService, registry *RegistryService, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		bounties:        bounties,
		registry:        registry,
		refreshInterval: DefaultRefreshInterval,
		sweepInterval:   DefaultSweepInterval,
		restartDelay:    DefaultRestartDelay,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the refresh and expiry loops. They stop when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s.registry != nil {
		s.Go(ctx, "registry-refresh", s.refreshLoop)
	}
	if s.bounties != nil {
		s.Go(ctx, "bounty-expiry", s.sweepLoop)
	}
}

// Go runs fn under Supervise in its own goroutine.
func (s *Scheduler) Go(ctx context.Context, name string, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Supervise(ctx, name, fn)
	}()
}

// Wait blocks until every loop started with Go has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Supervise calls fn until ctx is done. A failed or panicking run is logged
// and restarted after the restart delay; there is no retry limit.
func (s *Scheduler) Supervise(ctx context.Context, name string, fn func(context.Context) error) {
	for {
		err := runGuarded(ctx, fn)
		if ctx.Err() != nil {
			logger.Info("Background task stopped", "task", name)
			return
		}
		if err == nil {
			logger.Warn("Background task exited, restarting", "task", name, "delay", s.restartDelay)
		} else {
			logger.Error("Background task crashed, restarting", "task", name, "error", err, "delay", s.restartDelay)
		}

		t := time.NewTimer(s.restartDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			logger.Info("Background task stopped", "task", name)
			return
		case <-t.C:
		}
	}
}

func runGuarded(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.registry.Refresh(ctx); err != nil {
				logger.WarnContext(ctx, "Scheduled registry refresh failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		if _, err := s.bounties.ExpireSweep(ctx, s.now()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
