package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the logging interface used by Recurring.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Task is one unit of periodic work.
type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f TaskFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Config holds configuration for a Recurring.
type Config struct {
	// Name identifies the task in log lines.
	Name string

	// Interval is the time between the start of consecutive runs.
	Interval time.Duration

	// Task is the work to run.
	Task Task
}

// Stats is a point-in-time view of a Recurring's history.
type Stats struct {
	Runs     uint64
	Failures uint64
	LastRun  time.Time
}

// Recurring runs a Task immediately and then once per Interval.
type Recurring struct {
	name     string
	interval time.Duration
	task     Task
	logger   Logger

	runs     atomic.Uint64
	failures atomic.Uint64
	lastRun  atomic.Int64 // unix nanos

	started  atomic.Bool
	done     chan struct{} // closed by Stop
	exited   chan struct{} // closed when the loop returns
	stopOnce sync.Once
}

// New creates a Recurring. Call Start to begin running.
func New(cfg Config) (*Recurring, error) {
	if cfg.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if cfg.Task == nil {
		return nil, ErrNoTask
	}
	name := cfg.Name
	if name == "" {
		name = "recurring"
	}

	return &Recurring{
		name:     name,
		interval: cfg.Interval,
		task:     cfg.Task,
		logger:   noopLogger{},
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}, nil
}

// SetLogger sets the logger. Call before Start.
func (r *Recurring) SetLogger(logger Logger) {
	r.logger = logger
}

// Start launches the loop in a new goroutine. The first run happens
// immediately, without waiting for the interval.
func (r *Recurring) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	go r.loop(ctx)
	return nil
}

// Stop ends the loop and waits for any in-flight run to finish.
// Safe to call multiple times, and before Start.
func (r *Recurring) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	if r.started.Load() {
		<-r.exited
	}
}

// Done returns a channel closed once the loop has exited.
func (r *Recurring) Done() <-chan struct{} {
	return r.exited
}

// Stats returns run counters.
func (r *Recurring) Stats() Stats {
	var last time.Time
	if ns := r.lastRun.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Runs:     r.runs.Load(),
		Failures: r.failures.Load(),
		LastRun:  last,
	}
}

func (r *Recurring) loop(ctx context.Context) {
	defer close(r.exited)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("recurring task started", "task", r.name, "interval", r.interval)
	defer r.logger.Info("recurring task stopped", "task", r.name)

	r.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

// runOnce executes the task, converting a panic into a logged failure.
func (r *Recurring) runOnce(ctx context.Context) {
	start := time.Now()
	r.lastRun.Store(start.UnixNano())
	r.runs.Add(1)

	if err := r.safeRun(ctx); err != nil {
		r.failures.Add(1)
		r.logger.Error("recurring task failed", "task", r.name, "error", err)
		return
	}

	if elapsed := time.Since(start); elapsed > r.interval {
		r.logger.Warn("recurring task overran interval",
			"task", r.name, "elapsed", elapsed, "interval", r.interval)
	}
}

func (r *Recurring) safeRun(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, p)
		}
	}()
	return r.task.Run(ctx)
}
