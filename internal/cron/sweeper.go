package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
)

const (
	defaultInterval = time.Minute
	// cycleMargin is kept free at the end of a lease so the release lands
	// before the lease can expire under us.
	cycleMargin = 5 * time.Second
)

// Job is one task the sweeper runs each cycle.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type SweeperParams struct {
	Logger   *logger.Logger
	Jobs     []Job
	Lock     Lock
	Metrics  *metrics.SweeperMetrics
	Interval time.Duration
	// LeaseTTL bounds one cycle; zero leaves cycles unbounded.
	LeaseTTL time.Duration
}

// Sweeper runs its jobs on a fixed cadence. Only the instance holding the
// leader lock runs a cycle, and a cycle ends before its lease does.
type Sweeper struct {
	logg     *logger.Logger
	jobs     []Job
	lock     Lock
	metrics  *metrics.SweeperMetrics
	interval time.Duration
	budget   time.Duration
}

// JobReport is the outcome of one job in one cycle.
type JobReport struct {
	Job  string
	Took time.Duration
	Err  error
}

// CycleReport is empty when the cycle was skipped.
type CycleReport struct {
	Ran  bool
	Jobs []JobReport
}

func NewSweeper(params SweeperParams) (*Sweeper, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	jobs := make([]Job, 0, len(params.Jobs))
	for _, job := range params.Jobs {
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	budget := params.LeaseTTL
	if budget > 2*cycleMargin {
		budget -= cycleMargin
	}
	return &Sweeper{
		logg:     params.Logger,
		jobs:     jobs,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		budget:   budget,
	}, nil
}

// Run sweeps immediately, then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil {
			s.logg.Error(ctx, "sweep cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep runs one cycle. A failing or panicking job is reported and the
// remaining jobs still run.
func (s *Sweeper) Sweep(ctx context.Context) (CycleReport, error) {
	leading, err := s.lock.Acquire(ctx)
	if err != nil {
		s.metrics.IncCycle(metrics.CycleLockFailed)
		return CycleReport{}, fmt.Errorf("acquire sweeper lock: %w", err)
	}
	if !leading {
		s.metrics.IncCycle(metrics.CycleLockHeld)
		holder, _ := s.lock.Holder(ctx)
		s.logg.Debug(s.logg.WithField(ctx, "leader", holder), "sweep skipped, another instance leads")
		return CycleReport{}, nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "release sweeper lock", relErr)
		}
	}()
	s.metrics.IncCycle(metrics.CycleRan)

	cycleCtx := ctx
	if s.budget > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.budget)
		defer cancel()
	}

	report := CycleReport{Ran: true, Jobs: make([]JobReport, 0, len(s.jobs))}
	for _, job := range s.jobs {
		report.Jobs = append(report.Jobs, s.runJob(cycleCtx, job))
	}
	return report, nil
}

func (s *Sweeper) runJob(ctx context.Context, job Job) JobReport {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	start := time.Now()
	err := runGuarded(jobCtx, job)
	took := time.Since(start)
	s.metrics.ObserveJob(job.Name(), took, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "sweeper job failed", err)
	} else {
		s.logg.Debug(jobCtx, "sweeper job done")
	}
	return JobReport{Job: job.Name(), Took: took, Err: err}
}

func runGuarded(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}
