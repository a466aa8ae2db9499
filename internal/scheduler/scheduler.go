package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"tracked-mail-relay-go/internal/config"
	"tracked-mail-relay-go/internal/lock"
	"tracked-mail-relay-go/internal/service/eventsync"
)

// ErrDraining is returned for syncs requested after Wait has been called
var ErrDraining = errors.New("scheduler is shutting down")

// Syncer runs one event sync
type Syncer interface {
	Run(ctx context.Context) (*eventsync.Report, error)
}

// Scheduler triggers the event sync periodically
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	config    *config.SchedulerConfig
	syncer    Syncer
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	draining  bool
	mu        sync.RWMutex

	lastReport *eventsync.Report
	lastErr    error
	reportMu   sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.SchedulerConfig, syncer Syncer) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		config: cfg,
		syncer: syncer,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if s.draining {
		return ErrDraining
	}

	// Schedule the job to run every N minutes
	schedule := fmt.Sprintf("0 */%d * * * *", s.config.IntervalMinutes)

	entryID, err := s.cron.AddFunc(schedule, s.syncEvents)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	// Cancel context to stop any running sync
	s.cancel()

	ctx := s.cron.Stop()
	s.cron.Remove(s.entryID)

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) syncEvents() {
	s.mu.Lock()
	if !s.isRunning || s.draining {
		s.mu.Unlock()
		logrus.Info("Scheduler not running, skipping sync cycle")
		return
	}
	s.wg.Add(1)
	ctx := s.ctx
	s.mu.Unlock()
	defer s.wg.Done()

	if _, err := s.run(ctx); err != nil && !errors.Is(err, lock.ErrLocked) {
		logrus.Errorf("Scheduled event sync failed: %v", err)
	}
}

// track registers an in-flight sync unless Wait has started draining
func (s *Scheduler) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Scheduler) run(ctx context.Context) (*eventsync.Report, error) {
	logrus.Info("Starting event sync cycle")
	report, err := s.syncer.Run(ctx)

	if !errors.Is(err, lock.ErrLocked) {
		s.reportMu.Lock()
		s.lastReport, s.lastErr = report, err
		s.reportMu.Unlock()
	}
	return report, err
}

// RunOnce runs the event sync once (for manual triggering)
func (s *Scheduler) RunOnce(ctx context.Context) (*eventsync.Report, error) {
	if !s.track() {
		return nil, ErrDraining
	}
	defer s.wg.Done()

	logrus.Info("Running event sync once")
	return s.run(ctx)
}

// LastResult returns the outcome of the most recent completed sync
func (s *Scheduler) LastResult() (*eventsync.Report, error) {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()
	return s.lastReport, s.lastErr
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	if !s.IsRunning() {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Next
}

// GetLastRun returns the time of the last run
func (s *Scheduler) GetLastRun() time.Time {
	if !s.IsRunning() {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Prev
}

// Wait refuses further syncs and waits for in-flight ones to finish
func (s *Scheduler) Wait() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.wg.Wait()
}
