package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Scheduler handles automatic refreshes of remote profiles whose update
// interval has elapsed.
type Scheduler struct {
	scheduler gocron.Scheduler
	manager   *Manager
	logger    *zap.Logger
	running   bool
}

// NewScheduler creates a new profile refresh scheduler
func NewScheduler(manager *Manager, logger *zap.Logger) (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: scheduler,
		manager:   manager,
		logger:    logger.Named("refresh"),
	}, nil
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() {
			s.refreshDue(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create refresh job: %w", err)
	}

	s.scheduler.Start()
	s.running = true

	// Run initial check
	go s.refreshDue(ctx)

	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	if !s.running {
		return fmt.Errorf("scheduler is not running")
	}

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}

	s.running = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	return s.running
}

func (s *Scheduler) refreshDue(ctx context.Context) {
	results, err := s.manager.RefreshAll(ctx, true)
	if err != nil {
		s.logger.Error("failed to refresh due profiles", zap.Error(err))
		return
	}

	for _, result := range results {
		if result.Err != nil {
			s.logger.Warn("profile refresh failed",
				zap.String("name", result.Name), zap.Error(result.Err))
		} else {
			s.logger.Info("profile refreshed on schedule", zap.String("name", result.Name))
		}
	}
}
