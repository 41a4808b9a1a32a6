// Package scheduler runs the background entitlement jobs using gocron v2.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

// Revalidator re-checks the current user's entitlement with the authority.
type Revalidator interface {
	Revalidate(ctx context.Context) (entitlement.View, error)
}

// SchedulerManager owns the single gocron scheduler of the client process.
type SchedulerManager struct {
	scheduler gocron.Scheduler
	logger    logger.Interface

	started   bool
	startedMu sync.RWMutex
}

// NewSchedulerManager creates a new SchedulerManager instance.
func NewSchedulerManager(log logger.Interface) (*SchedulerManager, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, err
	}

	return &SchedulerManager{
		scheduler: scheduler,
		logger:    log,
	}, nil
}

// ========================================
// Entitlement Jobs
// ========================================

// RegisterRevalidationJob re-checks the entitlement every interval. The
// first run happens one interval after start; the orchestrator already
// checks on start.
func (m *SchedulerManager) RegisterRevalidationJob(interval, timeout time.Duration, revalidator Revalidator) error {
	if interval <= 0 {
		return errors.New("revalidation interval must be positive")
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}

	_, err := m.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			m.revalidate(ctx, revalidator)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("entitlement", "revalidate"),
		gocron.WithName("entitlement-revalidate"),
	)
	if err != nil {
		return err
	}

	m.logger.Infow("registered entitlement revalidation job", "interval", interval)
	return nil
}

func (m *SchedulerManager) revalidate(ctx context.Context, revalidator Revalidator) {
	m.logger.Debugw("entitlement revalidation started")

	startTime := time.Now()
	view, err := revalidator.Revalidate(ctx)
	if err != nil {
		m.logger.Warnw("entitlement revalidation failed",
			"error", err,
			"status", view.Status,
			"duration", time.Since(startTime),
		)
		return
	}

	m.logger.Debugw("entitlement revalidated",
		"status", view.Status,
		"source", view.Source,
		"duration", time.Since(startTime),
	)
}

// ========================================
// Scheduler Lifecycle Methods
// ========================================

// Start starts the scheduler and all registered jobs.
func (m *SchedulerManager) Start() {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()

	if m.started {
		return
	}

	m.scheduler.Start()
	m.started = true
	m.logger.Infow("scheduler manager started", "job_count", len(m.scheduler.Jobs()))
}

// Stop gracefully stops the scheduler.
// It waits for all running jobs to complete before returning.
func (m *SchedulerManager) Stop() error {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()

	if !m.started {
		return nil
	}

	m.logger.Infow("stopping scheduler manager")

	err := m.scheduler.Shutdown()
	m.started = false

	if err != nil {
		m.logger.Errorw("scheduler manager shutdown with error", "error", err)
		return err
	}

	m.logger.Infow("scheduler manager stopped")
	return nil
}

// IsStarted returns whether the scheduler is running.
func (m *SchedulerManager) IsStarted() bool {
	m.startedMu.RLock()
	defer m.startedMu.RUnlock()
	return m.started
}

// Jobs returns all registered jobs for inspection.
func (m *SchedulerManager) Jobs() []gocron.Job {
	return m.scheduler.Jobs()
}
