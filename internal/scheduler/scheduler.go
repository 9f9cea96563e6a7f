package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"notifybridge/internal/metrics"
)

const defaultSkipLogInterval = 5 * time.Minute

// Job represents one loop body run by the scheduler.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// State is the run state of a registered loop.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Config holds scheduler settings.
type Config struct {
	// SkipLogInterval limits how often skipped ticks are logged per loop.
	SkipLogInterval time.Duration

	Metrics *metrics.LoopMetrics
	Logger  *slog.Logger
}

type loop struct {
	job      Job
	interval time.Duration
	running  atomic.Bool

	mu          sync.Mutex
	skipped     int
	lastSkipLog time.Time
}

// Scheduler runs each registered job on its own interval. The first run
// starts immediately; a tick that arrives while the previous run of the
// same job is still in progress is dropped.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	loops    map[string]*loop
	runCtx   context.Context
	stopped  bool
	inflight sync.WaitGroup
}

// New creates an empty scheduler.
func New(cfg Config) *Scheduler {
	if cfg.SkipLogInterval <= 0 {
		cfg.SkipLogInterval = defaultSkipLogInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		logger: logger,
		loops:  make(map[string]*loop),
	}
}

// Add registers a job. Names must be unique and intervals positive.
func (s *Scheduler) Add(job Job, interval time.Duration) error {
	if job == nil {
		return fmt.Errorf("job required")
	}
	if interval <= 0 {
		return fmt.Errorf("%s: interval must be positive", job.Name())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return fmt.Errorf("%s: scheduler already running", job.Name())
	}
	if _, ok := s.loops[job.Name()]; ok {
		return fmt.Errorf("%s: already registered", job.Name())
	}
	s.loops[job.Name()] = &loop{job: job, interval: interval}
	return nil
}

// Names returns the registered loop names in lexical order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.loops))
	for name := range s.loops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run starts every loop and blocks until ctx is cancelled. It returns after
// all in-flight runs have finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.runCtx != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.runCtx = ctx
	loops := make([]*loop, 0, len(s.loops))
	for _, l := range s.loops {
		loops = append(loops, l)
	}
	s.mu.Unlock()

	var tickers sync.WaitGroup
	for _, l := range loops {
		tickers.Add(1)
		go func(l *loop) {
			defer tickers.Done()
			s.tickLoop(ctx, l)
		}(l)
		s.logger.Info("loop started", "loop", l.job.Name(), "interval", l.interval)
	}

	<-ctx.Done()
	tickers.Wait()

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.inflight.Wait()

	s.logger.Info("scheduler stopped")
	return nil
}

// Trigger starts a run of the named loop now, outside its cadence.
// It returns false when the loop is unknown, already running or the
// scheduler is not running.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	l, ok := s.loops[name]
	ctx := s.runCtx
	s.mu.Unlock()
	if !ok || ctx == nil {
		return false
	}
	started, _ := s.fire(ctx, l)
	return started
}

// State reports whether the named loop is currently running.
func (s *Scheduler) State(name string) (State, bool) {
	s.mu.Lock()
	l, ok := s.loops[name]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	if l.running.Load() {
		return StateRunning, true
	}
	return StateIdle, true
}

func (s *Scheduler) tickLoop(ctx context.Context, l *loop) {
	s.tick(ctx, l)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, l)
		}
	}
}

// tick fires a scheduled run. Only ticks count as skips; a manual trigger
// on a busy loop is simply refused.
func (s *Scheduler) tick(ctx context.Context, l *loop) {
	if _, busy := s.fire(ctx, l); busy {
		s.skip(l)
	}
}

// fire starts a run unless one is in flight, in which case busy is true.
func (s *Scheduler) fire(ctx context.Context, l *loop) (started, busy bool) {
	if !l.running.CompareAndSwap(false, true) {
		return false, true
	}

	s.mu.Lock()
	if s.stopped || ctx.Err() != nil {
		s.mu.Unlock()
		l.running.Store(false)
		return false, false
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		defer l.running.Store(false)
		s.runOnce(ctx, l)
	}()
	return true, false
}

func (s *Scheduler) runOnce(ctx context.Context, l *loop) {
	name := l.job.Name()
	start := time.Now()

	err := safeRun(ctx, l.job)
	duration := time.Since(start)
	s.cfg.Metrics.ObserveDuration(name, duration)

	if err != nil {
		s.cfg.Metrics.IncRun(name, "failure")
		s.logger.Error("loop run failed",
			"loop", name,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return
	}
	s.cfg.Metrics.IncRun(name, "success")
	s.logger.Debug("loop run complete", "loop", name, "duration_ms", duration.Milliseconds())
}

func (s *Scheduler) skip(l *loop) {
	s.cfg.Metrics.IncSkipped(l.job.Name())

	l.mu.Lock()
	defer l.mu.Unlock()
	l.skipped++
	now := time.Now()
	if now.Sub(l.lastSkipLog) < s.cfg.SkipLogInterval {
		return
	}
	s.logger.Warn("tick skipped, previous run still in progress",
		"loop", l.job.Name(),
		"skipped", l.skipped,
	)
	l.skipped = 0
	l.lastSkipLog = now
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}
