// Package scheduling runs the server's housekeeping tasks (job reaping,
// workspace rescans, history pruning) on cron or fixed-interval schedules.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remotedev/internal/domain"
)

// ScheduledAction identifies a type of scheduled action.
type ScheduledAction string

const (
	ActionJobReap       ScheduledAction = "job_reap"
	ActionProjectRescan ScheduledAction = "project_rescan"
	ActionHistoryPrune  ScheduledAction = "history_prune"
)

// DefaultTaskTimeout bounds a single run when the task sets no timeout.
const DefaultTaskTimeout = 5 * time.Minute

// ScheduledTask defines a recurring task.
type ScheduledTask struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *", descriptor "@every 5m" or duration "30m"
	Action   ScheduledAction
	Timeout  time.Duration // per run (default: 5m)
}

// TaskStatus reports a task's schedule and its most recent run.
type TaskStatus struct {
	Name      string          `json:"name"`
	Action    ScheduledAction `json:"action"`
	Schedule  string          `json:"schedule"`
	Runs      int             `json:"runs"`
	Skipped   int             `json:"skipped"`
	LastRun   *time.Time      `json:"lastRun,omitempty"`
	LastError string          `json:"lastError,omitempty"`
	Next      *time.Time      `json:"next,omitempty"`
}

type task struct {
	def     ScheduledTask
	fn      func(ctx context.Context) error
	entryID cron.EntryID
	running sync.Mutex // held for the duration of a run; overlapping runs are skipped

	// guarded by Scheduler.mu
	runs      int
	skipped   int
	lastRun   time.Time
	lastError string
}

// Scheduler runs registered actions on their schedules. A run that would
// overlap the previous run of the same task is skipped.
type Scheduler struct {
	cron    *cron.Cron
	actions map[ScheduledAction]func(ctx context.Context) error
	tasks   map[string]*task
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	logger = logger.With(slog.String("component", "scheduler"))
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cronLogger{logger}), cron.WithChain(cron.Recover(cronLogger{logger}))),
		actions: make(map[ScheduledAction]func(ctx context.Context) error),
		tasks:   make(map[string]*task),
		logger:  logger,
	}
}

// RegisterAction registers a handler for a scheduled action type.
func (s *Scheduler) RegisterAction(action ScheduledAction, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddTask schedules a task. Names are unique.
func (s *Scheduler) AddTask(def ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if def.Name == "" {
		return domain.NewSubSystemError("scheduler", "Scheduler.AddTask", domain.ErrInvalidInput, "empty task name")
	}
	if _, exists := s.tasks[def.Name]; exists {
		return domain.NewSubSystemError("scheduler", "Scheduler.AddTask", domain.ErrResourceBusy, "task "+def.Name+" already scheduled")
	}
	fn, ok := s.actions[def.Action]
	if !ok {
		return domain.NewSubSystemError("scheduler", "Scheduler.AddTask", domain.ErrInvalidInput,
			fmt.Sprintf("unknown action %q for task %q", def.Action, def.Name))
	}
	schedule, err := ParseSchedule(def.Schedule)
	if err != nil {
		return domain.NewSubSystemError("scheduler", "Scheduler.AddTask", domain.ErrInvalidInput,
			fmt.Sprintf("task %q: %v", def.Name, err))
	}
	if def.Timeout <= 0 {
		def.Timeout = DefaultTaskTimeout
	}

	t := &task{def: def, fn: fn}
	t.entryID = s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(t) }))
	s.tasks[def.Name] = t

	s.logger.Info("task scheduled", "task", def.Name, "schedule", def.Schedule, "action", string(def.Action))
	return nil
}

// RunNow runs the named task immediately and returns its error. It fails
// with ErrResourceBusy when the task is already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return domain.NewSubSystemError("scheduler", "Scheduler.RunNow", domain.ErrNotFound, name)
	}
	if !t.running.TryLock() {
		return domain.NewSubSystemError("scheduler", "Scheduler.RunNow", domain.ErrResourceBusy, "task "+name+" is running")
	}
	defer t.running.Unlock()
	return s.run(ctx, t)
}

// Tasks returns the status of every scheduled task ordered by name.
func (s *Scheduler) Tasks() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		st := TaskStatus{
			Name:      t.def.Name,
			Action:    t.def.Action,
			Schedule:  t.def.Schedule,
			Runs:      t.runs,
			Skipped:   t.skipped,
			LastError: t.lastError,
		}
		if !t.lastRun.IsZero() {
			last := t.lastRun
			st.LastRun = &last
		}
		if s.started {
			if next := s.cron.Entry(t.entryID).Next; !next.IsZero() {
				st.Next = &next
			}
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b TaskStatus) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Start begins running the scheduler. Tasks stop receiving a live context
// once ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop signals the scheduler to stop and waits for running tasks to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.started = false
	s.ctx = nil
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) fire(t *task) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	if !t.running.TryLock() {
		s.mu.Lock()
		t.skipped++
		s.mu.Unlock()
		s.logger.Debug("task still running, skipped", "task", t.def.Name)
		return
	}
	defer t.running.Unlock()
	_ = s.run(ctx, t)
}

func (s *Scheduler) run(ctx context.Context, t *task) error {
	taskCtx, cancel := context.WithTimeout(ctx, t.def.Timeout)
	defer cancel()

	start := time.Now()
	err := t.fn(taskCtx)

	s.mu.Lock()
	t.runs++
	t.lastRun = start
	t.lastError = ""
	if err != nil {
		t.lastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("task failed", "task", t.def.Name, "error", err, "duration", time.Since(start))
	} else {
		s.logger.Debug("task completed", "task", t.def.Name, "duration", time.Since(start))
	}
	return err
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts a five-field cron expression, a descriptor such as
// "@hourly" or "@every 5m", or a positive Go duration.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	if sched, err := cronParser.Parse(schedule); err == nil {
		return sched, nil
	}
	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay(dur), nil
}

// constantDelay fires at a fixed interval. Unlike cron.Every it keeps
// sub-second precision.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }

// cronLogger routes the cron library's logging into slog.
type cronLogger struct{ logger *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
