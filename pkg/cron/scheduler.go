package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a named unit of background work. A job receives a context that
// is cancelled when the scheduler stops.
type Job struct {
	Name     string
	Schedule string // cron expression or @every duration
	Run      func(ctx context.Context) error
}

// Scheduler runs registered jobs on their schedules
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs do not run until Start.
func NewScheduler(logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		logger: logger.With().Str("component", "scheduler").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob registers a job with the scheduler
func (s *Scheduler) AddJob(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.Name)
	}

	_, err := s.cron.AddFunc(job.Schedule, func() {
		start := time.Now()
		if err := job.Run(s.ctx); err != nil {
			s.logger.Error().
				Err(err).
				Str("job", job.Name).
				Msg("Background job failed")
			return
		}
		s.logger.Debug().
			Str("job", job.Name).
			Dur("duration", time.Since(start)).
			Msg("Background job completed")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.Name, err)
	}

	s.logger.Info().
		Str("job", job.Name).
		Str("schedule", job.Schedule).
		Msg("Scheduled background job")

	return nil
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to finish
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// Entries returns the number of registered jobs
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
