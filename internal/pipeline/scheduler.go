package pipeline

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/ignite/engagement-sync/internal/pkg/distlock"
)

// Scheduler launches one pipeline run per day at a fixed UTC hour and
// serves manual triggers from the API. A distributed lock keeps multiple
// instances from running the batch concurrently; cancellation mid-run is
// not supported, the current run simply finishes.
type Scheduler struct {
	runner  *Runner
	lock    distlock.Lock
	hourUTC int

	running atomic.Bool
	now     func() time.Time
}

func NewScheduler(runner *Runner, lock distlock.Lock, hourUTC int) *Scheduler {
	return &Scheduler{runner: runner, lock: lock, hourUTC: hourUTC, now: time.Now}
}

// Start blocks until ctx is done, firing the batch at the configured hour.
func (s *Scheduler) Start(ctx context.Context) {
	for {
		next := s.nextRun()
		log.Printf("[Scheduler] next run at %s", next.Format(time.RFC3339))
		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(s.now())):
			if !s.TriggerRun(ctx) {
				log.Printf("[Scheduler] skipping scheduled run: another run is in progress")
			}
		}
	}
}

// TriggerRun starts a run in the background if none is in flight. Returns
// false when this instance is already running or another instance holds the
// lock.
func (s *Scheduler) TriggerRun(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}

	if s.lock != nil {
		acquired, err := s.lock.TryAcquire(ctx)
		if err != nil {
			log.Printf("[Scheduler] acquiring run lock: %v", err)
		}
		if !acquired {
			s.running.Store(false)
			return false
		}
	}

	go func() {
		defer s.running.Store(false)
		defer func() {
			if s.lock != nil {
				if err := s.lock.Release(context.Background()); err != nil {
					log.Printf("[Scheduler] releasing run lock: %v", err)
				}
			}
		}()
		s.runner.Run(context.Background())
	}()
	return true
}

func (s *Scheduler) nextRun() time.Time {
	now := s.now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
