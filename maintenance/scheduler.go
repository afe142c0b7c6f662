// Package maintenance runs the advisory background jobs: sweeping expired
// passkey challenges and archiving lapsed emergency grants. Nothing in
// careauth depends on these jobs for correctness; expiry is always checked
// at read time.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MrEthical07/careauth/logger"
)

// ChallengeSweeper removes expired passkey challenges. *careauth.Engine
// implements it.
type ChallengeSweeper interface {
	SweepPasskeyChallenges(ctx context.Context) (int, error)
}

// GrantArchiver moves lapsed emergency grants out of the live table.
// *careauth.Engine implements it.
type GrantArchiver interface {
	ArchiveExpiredGrants(ctx context.Context) (int, error)
}

// Config holds cron specs. Specs accept an optional seconds field and the
// @every descriptors.
type Config struct {
	ChallengeSweep string        `yaml:"challenge_sweep"`
	GrantArchive   string        `yaml:"grant_archive"`
	JobTimeout     time.Duration `yaml:"job_timeout"`
}

func DefaultConfig() Config {
	return Config{
		ChallengeSweep: "@every 5m",
		GrantArchive:   "@every 1h",
		JobTimeout:     time.Minute,
	}
}

// Job is one scheduled unit of work. Run reports how many records it
// touched.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) (int, error)
}

// Scheduler wraps a cron instance. Runs of the same job never overlap.
type Scheduler struct {
	cron    *cron.Cron
	log     logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	jobs    map[string]Job
	running bool
}

// New builds a Scheduler with the sweep and archive jobs registered for
// whichever of sweeper and archiver is non-nil.
func New(cfg Config, sweeper ChallengeSweeper, archiver GrantArchiver, log logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	s := &Scheduler{
		log:     log.With(logger.String("component", "maintenance")),
		timeout: cfg.JobTimeout,
		jobs:    make(map[string]Job),
	}
	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if sweeper != nil && cfg.ChallengeSweep != "" {
		if err := s.Add(Job{Name: "passkey_challenge_sweep", Spec: cfg.ChallengeSweep, Run: sweeper.SweepPasskeyChallenges}); err != nil {
			return nil, err
		}
	}
	if archiver != nil && cfg.GrantArchive != "" {
		if err := s.Add(Job{Name: "emergency_grant_archive", Spec: cfg.GrantArchive, Run: archiver.ArchiveExpiredGrants}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("maintenance: job needs a name and a run func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("maintenance: job %q already registered", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { _, _ = s.run(context.Background(), job) }); err != nil {
		return fmt.Errorf("maintenance: job %q: %w", job.Name, err)
	}
	s.jobs[job.Name] = job
	return nil
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.log.Info("maintenance scheduler started", logger.Int("jobs", len(s.jobs)))
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("maintenance scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("maintenance scheduler stop timed out", logger.Error(ctx.Err()))
		return ctx.Err()
	}
}

// RunNow runs the named job synchronously, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("maintenance: unknown job %q", name)
	}
	return s.run(ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		s.log.Error("maintenance job failed",
			logger.String("job", job.Name),
			logger.Error(err),
		)
		return n, err
	}
	s.log.Info("maintenance job finished",
		logger.String("job", job.Name),
		logger.Int("affected", n),
		logger.Duration("duration", time.Since(start)),
	)
	return n, nil
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error("cron: "+msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, logger.Any(key, kv[i+1]))
	}
	return fields
}
