package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Job is one recurring task. Next returns the first fire time strictly
// after the given instant; Run does the work. The scheduler owns no
// domain logic.
type Job struct {
	Name string
	Next func(after time.Time) time.Time
	Run  func(ctx context.Context)
}

// Scheduler fires jobs on wall-clock triggers from a single ticker loop.
// A job that is still running when its next trigger arrives is skipped,
// never overlapped. Stop prevents any further firing and waits for
// in-flight runs.
type Scheduler struct {
	log  *zap.SugaredLogger
	tick time.Duration

	mu   sync.Mutex
	jobs []*scheduledJob

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

type scheduledJob struct {
	Job
	nextAt  time.Time
	running atomic.Bool
}

func New(log *zap.SugaredLogger, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Scheduler{
		log:  log.With("component", "scheduler"),
		tick: tick,
	}
}

func (s *Scheduler) Add(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &scheduledJob{Job: j})
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	now := time.Now()
	s.mu.Lock()
	for _, j := range s.jobs {
		j.nextAt = j.Next(now)
		s.log.Infow("job scheduled", "job", j.Name, "next_at", j.nextAt)
	}
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop cancels the loop and blocks until running jobs finish. No job
// fires after Stop returns.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fireDue(ctx, now)
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if now.Before(j.nextAt) {
			continue
		}
		j.nextAt = j.Next(now)

		if !j.running.CompareAndSwap(false, true) {
			s.log.Warnw("job still running, skipping tick", "job", j.Name)
			continue
		}

		runID := uuid.NewString()[:8]
		s.wg.Add(1)
		go func(j *scheduledJob) {
			defer s.wg.Done()
			defer j.running.Store(false)

			if ctx.Err() != nil {
				return
			}
			start := time.Now()
			s.log.Infow("job start", "job", j.Name, "run_id", runID)
			j.Run(ctx)
			s.log.Infow("job done", "job", j.Name, "run_id", runID, "took", time.Since(start))
		}(j)
	}
}

// DailyAt fires once a day at the given hour (local time of the process).
func DailyAt(hour int) func(time.Time) time.Time {
	return func(after time.Time) time.Time {
		next := time.Date(after.Year(), after.Month(), after.Day(), hour, 0, 0, 0, after.Location())
		if !next.After(after) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
}

// WeeklyAt fires once a week on the given weekday at the given hour.
func WeeklyAt(day time.Weekday, hour int) func(time.Time) time.Time {
	return func(after time.Time) time.Time {
		next := time.Date(after.Year(), after.Month(), after.Day(), hour, 0, 0, 0, after.Location())
		days := (int(day) - int(after.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, days)
		if !next.After(after) {
			next = next.AddDate(0, 0, 7)
		}
		return next
	}
}

// Every fires on a fixed interval.
func Every(d time.Duration) func(time.Time) time.Time {
	return func(after time.Time) time.Time {
		return after.Add(d)
	}
}
