package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptoscan/internal/application/scan"
	"github.com/sawpanic/cryptoscan/internal/models"
)

// Parser accepts standard five-field specs, an optional leading seconds field and descriptors like @every 5m
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ErrUnknownJob is returned by RunNow for an unregistered job name
var ErrUnknownJob = errors.New("unknown job")

// Job is one periodic scan
type Job struct {
	Name           string `yaml:"name" json:"name"`
	Schedule       string `yaml:"schedule" json:"schedule"`
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	Market         string `yaml:"market" json:"market"`
	Interval       string `yaml:"interval" json:"interval"`
	Lookback       int    `yaml:"lookback" json:"lookback"`
	MaxPerExchange int    `yaml:"max_per_exchange" json:"maxPerExchange"`
}

// Options converts the job to scan options
func (j Job) Options() scan.Options {
	return scan.Options{
		Market:         models.Market(j.Market),
		Interval:       models.Interval(j.Interval),
		Lookback:       j.Lookback,
		MaxPerExchange: j.MaxPerExchange,
	}
}

// Validate checks the job name, cron spec and scan options
func (j Job) Validate() error {
	if j.Name == "" {
		return errors.New("job name is required")
	}
	if _, err := Parser.Parse(j.Schedule); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", j.Name, j.Schedule, err)
	}
	if _, err := j.Options().Normalize(); err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	return nil
}

// Runner executes a scan pass
type Runner interface {
	ScanOnce(ctx context.Context, opts scan.Options) (*models.ScanResult, error)
}

// Publisher receives every successful scheduled result
type Publisher interface {
	Publish(job string, result *models.ScanResult)
}

// JobStatus reports the last and next run of a job
type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Next      time.Time `json:"next,omitempty"`
	LastRun   time.Time `json:"lastRun,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	Runs      int       `json:"runs"`
}

type entry struct {
	job     Job
	id      cron.EntryID
	lastRun time.Time
	lastErr error
	runs    int
}

// Scheduler runs registered scan jobs on their cron schedules
type Scheduler struct {
	cron      *cron.Cron
	runner    Runner
	publisher Publisher
	timeout   time.Duration

	mu      sync.Mutex
	jobs    map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New creates a scheduler. Each run is bounded by timeout (0 means no bound).
func New(runner Runner, publisher Publisher, timeout time.Duration) *Scheduler {
	logger := cronLogger{log.Logger.With().Str("component", "scheduler").Logger()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runner:    runner,
		publisher: publisher,
		timeout:   timeout,
		jobs:      make(map[string]*entry),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register adds a job. Disabled jobs are kept for RunNow but never scheduled.
func (s *Scheduler) Register(job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	e := &entry{job: job}
	if job.Enabled {
		name := job.Name
		id, err := s.cron.AddFunc(job.Schedule, func() {
			_, _ = s.run(s.ctx, name)
		})
		if err != nil {
			return fmt.Errorf("register job %s: %w", job.Name, err)
		}
		e.id = id
	}
	s.jobs[job.Name] = e
	log.Info().Str("job", job.Name).Str("schedule", job.Schedule).Bool("enabled", job.Enabled).Msg("scan job registered")
	return nil
}

// Start begins firing jobs
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop halts the schedule, cancels in-flight runs and waits for them to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.cancel()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
}

// RunNow executes job name immediately and publishes the result
func (s *Scheduler) RunNow(ctx context.Context, name string) (*models.ScanResult, error) {
	return s.run(ctx, name)
}

func (s *Scheduler) run(ctx context.Context, name string) (*models.ScanResult, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := s.runner.ScanOnce(ctx, e.job.Options())

	s.mu.Lock()
	e.lastRun = start
	e.lastErr = err
	e.runs++
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("job", name).Dur("duration", time.Since(start)).Msg("scheduled scan failed")
		return nil, err
	}
	if s.publisher != nil {
		s.publisher.Publish(name, result)
	}
	log.Info().
		Str("job", name).
		Int("universe", result.UniverseCount).
		Int("candidates", result.CandidatesCount).
		Dur("duration", time.Since(start)).
		Msg("scheduled scan finished")
	return result, nil
}

// Status lists every registered job in name order
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, e := range s.jobs {
		st := JobStatus{Name: e.job.Name, Schedule: e.job.Schedule, LastRun: e.lastRun, Runs: e.runs}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		if e.id != 0 {
			st.Next = s.cron.Entry(e.id).Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger routes cron's internal logging through zerolog
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
