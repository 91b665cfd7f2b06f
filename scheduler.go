package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// RunScheduler schedules plan runs, either once or on an interval.
type RunScheduler interface {
	Start(ctx context.Context) error
	Stop() error
	RegisterCallback(func() error)
	WaitForShutdown(ctx context.Context) error
	Stopped() bool
}

// IntervalScheduler implements RunScheduler. The registered callback
// always runs once synchronously inside Start; in continuous mode a
// single goroutine then re-runs it on every tick until Stop or context
// cancellation. Errors from periodic runs are logged, never fatal.
type IntervalScheduler struct {
	interval time.Duration
	runOnce  bool
	log      log.Logger

	callback func() error

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
	ticking sync.WaitGroup
}

// NewIntervalScheduler creates a scheduler. interval is ignored when
// runOnce is set.
func NewIntervalScheduler(interval time.Duration, runOnce bool, logger log.Logger) *IntervalScheduler {
	return &IntervalScheduler{
		interval: interval,
		runOnce:  runOnce,
		log:      logger.New("component", "scheduler"),
		stop:     make(chan struct{}),
	}
}

// RegisterCallback sets the callback invoked for each scheduled run.
// Must be called before Start.
func (s *IntervalScheduler) RegisterCallback(callback func() error) {
	s.callback = callback
}

// Start performs the initial run and, in continuous mode, launches the
// ticker goroutine. The initial run's error is returned to the caller;
// later runs only log theirs.
func (s *IntervalScheduler) Start(ctx context.Context) error {
	if s.callback == nil {
		return errors.New("callback must be registered before starting scheduler")
	}

	if s.runOnce {
		s.log.Info("Running plan once")
		err := s.callback()
		s.markStopped()
		return err
	}

	s.log.Info("Running plan on interval", "interval", s.interval)
	if err := s.callback(); err != nil {
		s.markStopped()
		return err
	}

	s.ticking.Add(1)
	go s.tick(ctx)
	return nil
}

func (s *IntervalScheduler) tick(ctx context.Context) {
	defer s.ticking.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.Stopped() {
				return
			}
			s.log.Info("Running scheduled plan execution")
			if err := s.callback(); err != nil {
				s.log.Error("Scheduled execution failed", "error", err)
			}
		case <-s.stop:
			return
		case <-ctx.Done():
			s.markStopped()
			return
		}
	}
}

// markStopped flips the stopped flag and releases the ticker goroutine.
// Safe to call more than once.
func (s *IntervalScheduler) markStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stop)
}

// Stop ends periodic runs. Idempotent; a run already in flight is not
// interrupted.
func (s *IntervalScheduler) Stop() error {
	s.markStopped()
	return nil
}

// Stopped reports whether the scheduler has finished or been stopped.
func (s *IntervalScheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// WaitForShutdown blocks until the ticker goroutine has exited or the
// context expires.
func (s *IntervalScheduler) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.ticking.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.log.Warn("Timed out waiting for scheduler to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
