package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riskeye/internal/alert"
)

const (
	defaultInterval     = 30 * time.Second
	defaultCycleTimeout = 2 * time.Minute
	monitorName         = "sonic"
)

// CycleRunner runs one orchestration cycle. *alert.Orchestrator implements it.
type CycleRunner interface {
	RunCycle(ctx context.Context) (alert.CycleReport, error)
}

// Settings exposes the live monitor toggles. *monitorcfg.Resolver
// implements it.
type Settings interface {
	MonitorEnabled(name string) bool
	LoopInterval() time.Duration
}

// Stats are cumulative counters of a scheduler.
type Stats struct {
	Cycles     uint64             `json:"cycles"`
	Skipped    uint64             `json:"skipped"`
	TimedOut   uint64             `json:"timed_out"`
	Failed     uint64             `json:"failed"`
	LastReport *alert.CycleReport `json:"last_report,omitempty"`
	LastRun    time.Time          `json:"last_run"`
}

// Scheduler runs cycles one at a time. The interval is re-read after every
// cycle so config reloads take effect without a restart. A storage failure
// halts scheduling until an operator intervenes.
type Scheduler struct {
	runner       CycleRunner
	settings     Settings
	cycleTimeout time.Duration
	logger       *zap.Logger

	mutex  sync.RWMutex
	stats  Stats
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(runner CycleRunner, settings Settings, cycleTimeout time.Duration, logger *zap.Logger) *Scheduler {
	if cycleTimeout <= 0 {
		cycleTimeout = defaultCycleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:       runner,
		settings:     settings,
		cycleTimeout: cycleTimeout,
		logger:       logger.Named("scheduler"),
		done:         make(chan struct{}),
	}
}

// Start runs the first cycle immediately and keeps scheduling in the
// background until Stop, ctx cancellation or a storage failure.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mutex.Lock()
	s.cancel = cancel
	s.mutex.Unlock()

	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.mutex.Lock()
			s.err = err
			s.mutex.Unlock()
			s.logger.Error("scheduling halted", zap.Error(err))
			return
		}

		timer := time.NewTimer(s.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
		}
	}
}

// RunOnce runs a single cycle with the cycle timeout applied. Only a
// storage failure is returned; everything else is logged.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.settings != nil && !s.settings.MonitorEnabled(monitorName) {
		s.mutex.Lock()
		s.stats.Skipped++
		s.mutex.Unlock()
		s.logger.Debug("monitor disabled, cycle skipped")
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	report, err := s.runner.RunCycle(cctx)

	s.mutex.Lock()
	s.stats.Cycles++
	s.stats.LastRun = time.Now()
	s.stats.LastReport = &report
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		s.stats.TimedOut++
	default:
		s.stats.Failed++
	}
	s.mutex.Unlock()

	switch {
	case err == nil:
		return nil
	case alert.IsStorageError(err):
		return err
	case ctx.Err() != nil:
		s.logger.Info("cycle cancelled", zap.Error(err))
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("cycle timed out", zap.Duration("timeout", s.cycleTimeout), zap.Error(err))
		return nil
	default:
		s.logger.Error("cycle failed", zap.Error(err))
		return nil
	}
}

func (s *Scheduler) interval() time.Duration {
	if s.settings == nil {
		return defaultInterval
	}
	if d := s.settings.LoopInterval(); d > 0 {
		return d
	}
	return defaultInterval
}

// Stop cancels the in-flight cycle and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mutex.RLock()
	cancel := s.cancel
	s.mutex.RUnlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.done
}

// Done is closed when scheduling ends.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Err returns the storage failure that halted scheduling, if any.
func (s *Scheduler) Err() error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.err
}

func (s *Scheduler) Stats() Stats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := s.stats
	if out.LastReport != nil {
		r := *out.LastReport
		out.LastReport = &r
	}
	return out
}
