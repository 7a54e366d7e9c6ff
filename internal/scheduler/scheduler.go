// Package scheduler runs spec.md §4.7's three independent periodic jobs on
// top of github.com/robfig/cron/v3, the dependency the teacher's go.mod
// declares for its own automation service.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/factorial-io/scotty-sub002/internal/logging"
)

// Job is one periodic unit of work. Errors are logged, not propagated —
// spec.md §7: "Periodic jobs log and continue on error."
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each Job on its own cron entry, skipping an overlapping
// tick rather than queuing it (spec.md §4.7: "single-threaded per kind").
type Scheduler struct {
	cron *cron.Cron
	log  *logging.Logger
	jobs []*runningJob
}

type runningJob struct {
	job     Job
	running atomic.Bool
	mu      sync.Mutex
	lastRun time.Time
}

func New(log *logging.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log,
	}
}

// Register schedules job to run at its configured interval. It must be
// called before Start.
func (s *Scheduler) Register(ctx context.Context, job Job) error {
	rj := &runningJob{job: job}
	s.jobs = append(s.jobs, rj)

	spec := "@every " + job.Interval.String()
	_, err := s.cron.AddFunc(spec, func() {
		s.tick(ctx, rj)
	})
	return err
}

func (s *Scheduler) tick(ctx context.Context, rj *runningJob) {
	if !rj.running.CompareAndSwap(false, true) {
		s.log.WithContext(ctx).WithField("job", rj.job.Name).Debug("tick skipped, previous run still in flight")
		return
	}
	defer rj.running.Store(false)

	rj.mu.Lock()
	rj.lastRun = time.Now()
	rj.mu.Unlock()

	if err := rj.job.Run(ctx); err != nil {
		s.log.WithContext(ctx).WithField("job", rj.job.Name).WithError(err).Warn("scheduler job failed")
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop blocks until in-flight jobs finish or the context expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
