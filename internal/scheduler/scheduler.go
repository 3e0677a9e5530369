package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/industry-data-aggregation/internal/industry"
)

// Registry resolves source ids to adapters.
type Registry interface {
	Adapter(id string) (industry.Adapter, bool)
}

// Sweeper drops expired cache entries.
type Sweeper interface {
	Sweep() int
}

// Report summarises one warming run.
type Report struct {
	Warmed  int
	Failed  int
	Swept   int
	Elapsed time.Duration
}

// Scheduler periodically refreshes configured dataset queries so searches
// and pass-through fetches hit a warm cache, then sweeps expired entries.
type Scheduler struct {
	scheduler *gocron.Scheduler
	registry  Registry
	sweeper   Sweeper
	jobs      []industry.DatasetQuery
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler. Each job names its source in SourceID.
func New(registry Registry, sweeper Sweeper, jobs []industry.DatasetQuery, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		registry:  registry,
		sweeper:   sweeper,
		jobs:      jobs,
		interval:  interval,
		timeout:   time.Minute,
		logger:    logger.Named("scheduler"),
	}
}

// Start schedules the warming job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	interval := s.interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	_, err := s.scheduler.Every(interval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("cache warmer started", zap.Duration("interval", interval), zap.Int("jobs", len(s.jobs)))
	return nil
}

// RunOnce warms every job concurrently and sweeps the cache. A failing job
// is logged and counted; it never stops the others.
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	started := time.Now()
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report Report
	)
	for _, job := range s.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.warm(ctx, job)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				s.logger.Warn("warm failed", zap.String("source", job.SourceID),
					zap.String("dataflow", job.Dataflow), zap.String("key", job.Key), zap.Error(err))
				return
			}
			report.Warmed++
		}()
	}
	wg.Wait()

	if s.sweeper != nil {
		report.Swept = s.sweeper.Sweep()
	}
	report.Elapsed = time.Since(started)
	s.logger.Info("warm run complete", zap.Int("warmed", report.Warmed), zap.Int("failed", report.Failed),
		zap.Int("swept", report.Swept), zap.Duration("elapsed", report.Elapsed))
	return report
}

func (s *Scheduler) warm(ctx context.Context, job industry.DatasetQuery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = industry.NewSourceError(job.SourceID, industry.CodeServerError, fmt.Sprintf("warm job failed unexpectedly: %v", r))
		}
	}()

	a, ok := s.registry.Adapter(job.SourceID)
	if !ok {
		return industry.NewSourceError(job.SourceID, industry.CodeUnknownSource, "source is not registered")
	}
	if !a.IsAvailable() {
		return industry.NewSourceError(a.ID(), industry.CodeCredentialMissing, "source is not configured with the credential it requires")
	}
	_, err = a.FetchDataset(ctx, job)
	return err
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
