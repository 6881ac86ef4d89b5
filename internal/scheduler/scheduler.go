package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Scheduler runs housekeeping jobs for the review engine. Reviews themselves
// are never pushed by a timer; "due" is computed at query time.
type Scheduler struct {
	scheduler *gocron.Scheduler
	sweeper   Sweeper
	interval  time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// Sweeper drops review sessions nobody touched for too long
type Sweeper interface {
	SweepExpired(now time.Time) int
}

// New creates a new scheduler instance
func New(sweeper Sweeper, interval time.Duration, log zerolog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		sweeper:   sweeper,
		interval:  interval,
		log:       log.With().Str("component", "scheduler").Logger(),
		now:       time.Now,
	}
}

// Start begins running all scheduled jobs
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Every(s.interval).Do(s.sweep); err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}

	// Start the scheduler in a non-blocking manner
	s.scheduler.StartAsync()
	s.log.Info().Dur("interval", s.interval).Msg("session sweeper started")
	return nil
}

// Stop terminates all scheduled jobs
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.scheduler.Clear()
}

// IsRunning reports whether the job loop is active
func (s *Scheduler) IsRunning() bool {
	return s.scheduler.IsRunning()
}

func (s *Scheduler) sweep() {
	n := s.sweeper.SweepExpired(s.now())
	s.log.Debug().Int("dropped", n).Msg("session sweep finished")
}

// RunManualSweep forces a sweep outside the schedule
func (s *Scheduler) RunManualSweep() int {
	return s.sweeper.SweepExpired(s.now())
}
