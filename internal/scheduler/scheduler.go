// Package scheduler runs the periodic maintenance jobs.
package scheduler

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper is the part of the server the idle sweep needs.
type Sweeper interface {
	SweepIdleRooms(maxIdle time.Duration)
}

type Scheduler struct {
	cron *cron.Cron
}

func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(),
	}
}

// Start registers the room sweep on the given cron spec and starts the
// scheduler.
func (s *Scheduler) Start(spec string, target Sweeper, maxIdle time.Duration) error {
	_, err := s.cron.AddFunc(spec, func() {
		target.SweepIdleRooms(maxIdle)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("scheduler started sweep_spec=%q idle_minutes=%.0f", spec, maxIdle.Minutes())
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("scheduler stopped")
}
