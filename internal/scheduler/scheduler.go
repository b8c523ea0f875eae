// Package scheduler runs interval jobs that keep the upstream caches warm.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scott-c-hughes/polymarket-terminal/internal/aggregator"
)

// ErrJobNotFound is returned by RunJobNow for an unknown job name.
var ErrJobNotFound = errors.New("job not found")

// DefaultTick is how often due jobs are checked.
const DefaultTick = time.Second

// Job represents a scheduled job.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Handler  func(ctx context.Context) error

	LastRun      time.Time
	NextRun      time.Time
	LastDuration time.Duration
	LastError    string
	Runs         int
	running      bool
}

// JobStatus is the public view of a job.
type JobStatus struct {
	Name         string    `json:"name"`
	Interval     string    `json:"interval"`
	LastRun      time.Time `json:"last_run"`
	NextRun      time.Time `json:"next_run"`
	LastDuration string    `json:"last_duration"`
	LastError    string    `json:"last_error,omitempty"`
	Runs         int       `json:"runs"`
	Running      bool      `json:"running"`
}

// Warmer refreshes one aggregator source.
type Warmer interface {
	Refresh(ctx context.Context, source string) error
}

// Scheduler manages interval jobs.
type Scheduler struct {
	tick time.Duration
	now  func() time.Time

	jobs    []*Job
	jobsMux sync.RWMutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new scheduler.
func NewScheduler(tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		tick:   tick,
		now:    time.Now,
		jobs:   make([]*Job, 0),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterWarmJobs adds one job per cached feed, each running at its
// source's TTL.
func (s *Scheduler) RegisterWarmJobs(w Warmer, ttls aggregator.TTLs) {
	feeds := []struct {
		source   string
		interval time.Duration
	}{
		{aggregator.SourceNews, ttls.News},
		{aggregator.SourcePrices, ttls.Prices},
		{aggregator.SourceTelegram, ttls.Telegram},
		{aggregator.SourceX, ttls.X},
	}

	for _, f := range feeds {
		source := f.source
		s.AddJob(&Job{
			Name:     "warm-" + source,
			Interval: f.interval,
			Handler: func(ctx context.Context) error {
				return w.Refresh(ctx, source)
			},
		})
	}
}

// AddJob adds a job to the scheduler. The first run is one interval away.
func (s *Scheduler) AddJob(job *Job) {
	s.jobsMux.Lock()
	defer s.jobsMux.Unlock()

	if job.Interval <= 0 {
		job.Interval = time.Minute
	}
	if job.Timeout <= 0 {
		job.Timeout = job.Interval
	}
	job.NextRun = s.now().Add(job.Interval)
	s.jobs = append(s.jobs, job)

	log.Info().
		Str("job", job.Name).
		Dur("interval", job.Interval).
		Time("next_run", job.NextRun).
		Msg("Job registered")
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	log.Info().Int("jobs", len(s.jobs)).Msg("Starting scheduler")

	s.wg.Add(1)
	go s.jobLoop()
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	log.Info().Msg("Stopping scheduler")
	s.cancel()
	s.wg.Wait()
}

// jobLoop checks and runs scheduled jobs.
func (s *Scheduler) jobLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkAndRunJobs()
		}
	}
}

// checkAndRunJobs runs any jobs that are due and not already running.
func (s *Scheduler) checkAndRunJobs() {
	now := s.now()

	s.jobsMux.Lock()
	defer s.jobsMux.Unlock()

	for _, job := range s.jobs {
		if job.running || now.Before(job.NextRun) {
			continue
		}
		job.NextRun = now.Add(job.Interval)
		s.startLocked(job)
	}
}

// startLocked launches a job. jobsMux must be held.
func (s *Scheduler) startLocked(job *Job) {
	if s.ctx.Err() != nil {
		return
	}
	job.running = true
	s.wg.Add(1)
	go s.runJob(job)
}

// runJob executes a job.
func (s *Scheduler) runJob(job *Job) {
	defer s.wg.Done()

	log.Debug().Str("job", job.Name).Msg("Running job")

	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout)
	defer cancel()

	start := s.now()
	err := job.Handler(ctx)
	elapsed := s.now().Sub(start)

	s.jobsMux.Lock()
	job.running = false
	job.LastRun = start
	job.LastDuration = elapsed
	job.Runs++
	job.LastError = ""
	if err != nil {
		job.LastError = err.Error()
	}
	s.jobsMux.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("job", job.Name).Msg("Job failed")
	} else {
		log.Debug().Str("job", job.Name).Dur("took", elapsed).Msg("Job completed")
	}
}

// RunJobNow runs a specific job immediately by name. A job that is already
// running is left alone.
func (s *Scheduler) RunJobNow(name string) error {
	s.jobsMux.Lock()
	defer s.jobsMux.Unlock()

	for _, job := range s.jobs {
		if job.Name == name {
			if !job.running {
				s.startLocked(job)
			}
			return nil
		}
	}

	return ErrJobNotFound
}

// GetJobStatus returns the status of all jobs.
func (s *Scheduler) GetJobStatus() []JobStatus {
	s.jobsMux.RLock()
	defer s.jobsMux.RUnlock()

	status := make([]JobStatus, len(s.jobs))
	for i, job := range s.jobs {
		status[i] = JobStatus{
			Name:         job.Name,
			Interval:     job.Interval.String(),
			LastRun:      job.LastRun,
			NextRun:      job.NextRun,
			LastDuration: job.LastDuration.String(),
			LastError:    job.LastError,
			Runs:         job.Runs,
			Running:      job.running,
		}
	}
	return status
}
