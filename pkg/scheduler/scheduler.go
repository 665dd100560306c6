package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	pkgErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultStopTimeout = 2 * time.Minute

type SchedulerConfig struct {
	// StopTimeout bounds how long Shutdown waits for a running job.
	StopTimeout time.Duration
	Location    *time.Location
}

// Scheduler runs cron jobs with at most one instance of each job at a time.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]gocron.Job
}

func NewScheduler(cfg *SchedulerConfig, l *zap.Logger) (*Scheduler, error) {
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	s, err := gocron.NewScheduler(
		gocron.WithLocation(location),
		gocron.WithStopTimeout(stopTimeout),
	)
	if err != nil {
		return nil, pkgErrors.Wrap(err, "failed to create scheduler")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		logger:    l,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]gocron.Job),
	}, nil
}

// AddCronJob registers fn under name with a five field cron expression. A run that comes due while
// the previous one is still going is skipped. fn's context is cancelled once Shutdown gives up waiting.
func (s *Scheduler) AddCronJob(name string, expression string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return pkgErrors.Errorf("job '%s' already registered", name)
	}

	job, err := s.scheduler.NewJob(
		gocron.CronJob(expression, false),
		gocron.NewTask(func() {
			s.runJob(name, fn)
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return pkgErrors.Wrapf(err, "invalid schedule '%s' for job '%s'", expression, name)
	}
	s.jobs[name] = job
	s.logger.Sugar().Infow("Scheduled job", zap.String("job", name), zap.String("schedule", expression))
	return nil
}

func (s *Scheduler) runJob(name string, fn func(ctx context.Context) error) {
	start := time.Now()
	s.logger.Sugar().Infow("Running job", zap.String("job", name))
	if err := fn(s.ctx); err != nil {
		s.logger.Sugar().Errorw("Job failed",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	s.logger.Sugar().Infow("Job finished", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
}

// RunNow triggers a registered job outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return pkgErrors.Errorf("unknown job '%s'", name)
	}
	return job.RunNow()
}

func (s *Scheduler) NextRun(name string) (time.Time, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, pkgErrors.Errorf("unknown job '%s'", name)
	}
	return job.NextRun()
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Shutdown stops scheduling and waits for running jobs up to the stop timeout. Jobs still running
// after that see their context cancelled.
func (s *Scheduler) Shutdown() error {
	err := s.scheduler.Shutdown()
	s.cancel()
	if errors.Is(err, gocron.ErrStopJobsTimedOut) || errors.Is(err, gocron.ErrStopSchedulerTimedOut) {
		s.logger.Sugar().Warnw("Timed out waiting for running jobs", zap.Error(err))
		return nil
	}
	return err
}
