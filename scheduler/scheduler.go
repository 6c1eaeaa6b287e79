// Package scheduler runs the server's periodic maintenance tasks, such as
// closing idle audit sessions.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownTask is returned by RunNow for a name that is not registered.
var ErrUnknownTask = errors.New("scheduler: unknown task")

// TaskFn is the function signature for scheduled tasks. The context is
// cancelled when the scheduler stops or the run exceeds its interval.
type TaskFn func(ctx context.Context) error

// Status describes one registered task.
type Status struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval_ns"`
	Runs     int           `json:"runs"`
	Failures int           `json:"failures"`
	LastRun  *time.Time    `json:"last_run,omitempty"`
	LastErr  string        `json:"last_error,omitempty"`
}

// Scheduler manages periodic tasks.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

type task struct {
	fn     TaskFn
	ticker *time.Ticker
	stopCh chan struct{}
	// run serializes ticks and manual runs of the same task.
	run    sync.Mutex
	status Status
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  make(map[string]*task),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddTicker registers a task to run on a fixed interval.
// If a task with the same name exists, it is replaced.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tasks[name]; ok {
		close(old.stopCh)
		delete(s.tasks, name)
	}

	t := &task{
		fn:     fn,
		ticker: time.NewTicker(interval),
		stopCh: make(chan struct{}),
		status: Status{Name: name, Interval: interval},
	}
	s.tasks[name] = t

	go func() {
		defer t.ticker.Stop()
		for {
			select {
			case <-t.ticker.C:
				s.execute(t)
			case <-t.stopCh:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

func (s *Scheduler) execute(t *task) (err error) {
	t.run.Lock()
	defer t.run.Unlock()

	s.mu.Lock()
	name, interval := t.status.Name, t.status.Interval
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, interval)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler task panicked", zap.String("task", name), zap.Any("recover", r))
			err = errors.New("task panicked")
		}
		now := time.Now()
		s.mu.Lock()
		t.status.Runs++
		t.status.LastRun = &now
		t.status.LastErr = ""
		if err != nil {
			t.status.Failures++
			t.status.LastErr = err.Error()
		}
		s.mu.Unlock()
	}()
	if err = t.fn(ctx); err != nil {
		s.logger.Warn("scheduler task failed", zap.String("task", name), zap.Error(err))
	}
	return err
}

// RunNow runs a registered task immediately, outside its schedule, and
// returns its error.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownTask
	}
	return s.execute(t)
}

// Remove stops and removes a task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		close(t.stopCh)
		delete(s.tasks, name)
	}
}

// Stop stops all tasks and cancels running ones.
func (s *Scheduler) Stop() {
	s.cancel()
}

// ListTickers returns the status of all registered tasks, by name.
func (s *Scheduler) ListTickers() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
