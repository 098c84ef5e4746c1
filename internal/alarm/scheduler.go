// Package alarm runs delayed and recurring background tasks with bounded,
// jittered retries. Tasks that keep failing are written to the dead-letter log.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/constants"
	"github.com/enflame-media/syncrelay/internal/database"
	"github.com/enflame-media/syncrelay/internal/logger"
	"github.com/enflame-media/syncrelay/internal/metrics"
)

// ErrSchedulerStopped is returned when scheduling after Shutdown.
var ErrSchedulerStopped = errors.New("alarm scheduler stopped")

// Task is a unit of background work.
type Task struct {
	// ID identifies the task for Cancel. A random ID is assigned when empty.
	ID string
	// Context labels the task in logs, metrics and dead-letter entries.
	Context string
	// Interval re-arms the task after each cycle when positive.
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts time for the scheduler.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// panicError wraps a recovered task panic together with its stack.
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("task panicked: %v", p.value)
}

type pending struct {
	task  Task
	state *api.AlarmRetryState
	timer Timer
}

// Scheduler arms tasks on timers and retries failed runs with exponential backoff.
// It is safe for concurrent use.
type Scheduler struct {
	cfg         Config
	deadLetters database.DeadLetterRepository
	metrics     *metrics.Metrics
	logger      *slog.Logger
	clock       Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	tasks   map[string]*pending
	stopped bool
	running sync.WaitGroup
}

// New creates a scheduler. deadLetters and m may be nil.
func New(cfg Config, deadLetters database.DeadLetterRepository, m *metrics.Metrics, log *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:         cfg,
		deadLetters: deadLetters,
		metrics:     m,
		logger:      log,
		clock:       realClock{},
		ctx:         ctx,
		cancel:      cancel,
		tasks:       make(map[string]*pending),
	}
}

// Schedule runs task once after delay. Scheduling an ID that is already
// pending replaces the earlier alarm. Returns the task ID.
func (s *Scheduler) Schedule(task Task, delay time.Duration) (string, error) {
	if err := validate(&task); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return "", ErrSchedulerStopped
	}
	s.armLocked(task, s.freshState(task, delay), delay)
	return task.ID, nil
}

// ScheduleRecurring runs task every interval until cancelled.
func (s *Scheduler) ScheduleRecurring(task Task, interval time.Duration) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("recurring alarm %q needs a positive interval", task.Context)
	}
	task.Interval = interval
	return s.Schedule(task, interval)
}

// ScheduleRetry re-arms task after the backoff delay for state.Attempt and
// advances the attempt counter. Returns the chosen delay in milliseconds.
func (s *Scheduler) ScheduleRetry(task Task, state *api.AlarmRetryState) (int64, error) {
	if err := validate(&task); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0, ErrSchedulerStopped
	}
	return s.retryLocked(task, state), nil
}

// DeadLetter records a task that exhausted its retries. The entry is returned
// even when persisting it fails.
func (s *Scheduler) DeadLetter(ctx context.Context, state *api.AlarmRetryState, cause error) *api.AlarmDeadLetterEntry {
	entry := &api.AlarmDeadLetterEntry{
		ID:                  uuid.NewString(),
		OriginalScheduledAt: state.OriginalScheduledAt,
		DeadLetteredAt:      s.clock.Now(),
		Attempts:            state.Attempt,
		Context:             state.Context,
	}
	if cause != nil {
		entry.FinalError = cause.Error()
		var p *panicError
		if errors.As(cause, &p) {
			entry.Stack = string(p.stack)
		}
	}

	s.metrics.AlarmDeadLettered(state.Context)
	reqLogger := logger.DeriveRequestLogger(ctx, s.logger)
	reqLogger.Error("alarm task dead-lettered", "context", map[string]any{
		"dead_letter_id": entry.ID,
		"task_context":   entry.Context,
		"attempts":       entry.Attempts,
		"error":          entry.FinalError,
	})

	if s.deadLetters == nil {
		return entry
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.StorageCallTimeout)
	defer cancel()
	if err := s.deadLetters.SaveDeadLetter(saveCtx, entry); err != nil {
		reqLogger.Error("failed to persist dead letter", "context", map[string]any{
			"dead_letter_id": entry.ID,
			"error":          err.Error(),
		})
	}
	return entry
}

// Cancel stops a pending task. A run already in progress finishes but is not
// retried or re-armed. Reports whether the task was known.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.tasks[id]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(s.tasks, id)
	return true
}

// Pending returns the number of armed tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown stops all timers and waits for running tasks or ctx expiry.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for id, p := range s.tasks {
		p.timer.Stop()
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func validate(task *Task) error {
	if task.Run == nil {
		return fmt.Errorf("alarm %q has no run function", task.Context)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	return nil
}

func (s *Scheduler) freshState(task Task, delay time.Duration) *api.AlarmRetryState {
	return &api.AlarmRetryState{
		OriginalScheduledAt: s.clock.Now().Add(delay),
		Context:             task.Context,
	}
}

func (s *Scheduler) armLocked(task Task, state *api.AlarmRetryState, delay time.Duration) {
	if old, ok := s.tasks[task.ID]; ok {
		old.timer.Stop()
	}
	p := &pending{task: task, state: state}
	p.timer = s.clock.AfterFunc(delay, func() { s.fire(p) })
	s.tasks[task.ID] = p
}

func (s *Scheduler) retryLocked(task Task, state *api.AlarmRetryState) int64 {
	delayMs := CalculateBackoffDelay(state.Attempt, &s.cfg)
	state.Attempt++
	s.armLocked(task, state, time.Duration(delayMs)*time.Millisecond)
	s.metrics.AlarmRetried(state.Context)
	return delayMs
}

// current reports whether p is still the armed alarm for its ID.
func (s *Scheduler) current(p *pending) bool {
	return !s.stopped && s.tasks[p.task.ID] == p
}

func (s *Scheduler) fire(p *pending) {
	s.mu.Lock()
	if !s.current(p) {
		s.mu.Unlock()
		return
	}
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	err := s.run(p.task)

	// Decide the follow-up under the lock so a Cancel during the run wins.
	s.mu.Lock()
	if !s.current(p) {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, p.task.ID)

	var delayMs int64
	exhausted := false
	switch {
	case err == nil:
		s.rearmLocked(p.task)
	case p.state.Attempt >= s.cfg.MaxRetries:
		exhausted = true
		p.state.LastError = err.Error()
		s.rearmLocked(p.task)
	default:
		p.state.LastError = err.Error()
		delayMs = s.retryLocked(p.task, p.state)
	}
	s.mu.Unlock()

	switch {
	case exhausted:
		s.DeadLetter(s.ctx, p.state, err)
	case err != nil:
		s.logger.Warn("alarm task failed, retrying", "context", map[string]any{
			"task_id":      p.task.ID,
			"task_context": p.task.Context,
			"attempt":      p.state.Attempt,
			"delay_ms":     delayMs,
			"error":        err.Error(),
		})
	}
}

// rearmLocked schedules the next cycle of a recurring task with a fresh retry state.
func (s *Scheduler) rearmLocked(task Task) {
	if task.Interval <= 0 {
		return
	}
	s.armLocked(task, s.freshState(task, task.Interval), task.Interval)
}

func (s *Scheduler) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return task.Run(s.ctx)
}
