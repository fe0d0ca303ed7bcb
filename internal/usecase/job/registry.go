// Package job tracks asynchronous work submitted by remote callers under a
// correlation id.
package job

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"remotedev/internal/domain"
	"remotedev/internal/infra/tracer"
)

// DefaultRetention is how long terminal jobs stay visible before reaping.
const DefaultRetention = time.Hour

// Executor performs the work of a job. key is the job id and is the
// registration key the executor must use with the process runner so that
// Cancel can reach the spawned process.
type Executor func(ctx context.Context, key string) (string, error)

// Canceller terminates the process registered under key.
type Canceller interface {
	Cancel(key string) error
}

// Meta describes a job for listings.
type Meta struct {
	ProjectPath string
	Command     string
	Args        []string
}

// Config holds configuration for the Registry.
type Config struct {
	Retention time.Duration // terminal jobs older than this are reaped (default: 1h)
}

type entry struct {
	job    domain.Job
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry stores every job's lifecycle state. All transitions of one job
// and their events happen under mu, so subscribers observe them in order.
type Registry struct {
	mu        sync.Mutex
	jobs      map[string]*entry
	config    Config
	canceller Canceller
	archive   domain.JobArchive
	bus       domain.EventBus
	logger    *slog.Logger
	wg        sync.WaitGroup
	now       func() time.Time
	start     func(run func()) // launches an execution; a goroutine outside tests
}

// Option customises a Registry.
type Option func(*Registry)

// WithArchive hands every terminal job to a.
func WithArchive(a domain.JobArchive) Option {
	return func(r *Registry) { r.archive = a }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a Registry. canceller is usually the process runner.
func NewRegistry(cfg Config, canceller Canceller, bus domain.EventBus, logger *slog.Logger, opts ...Option) *Registry {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	r := &Registry{
		jobs:      make(map[string]*entry),
		config:    cfg,
		canceller: canceller,
		bus:       bus,
		logger:    logger.With(slog.String("component", "job")),
		now:       time.Now,
		start:     func(run func()) { go run() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit stores a pending job and starts exec in the background. The id is
// returned before exec runs.
func (r *Registry) Submit(ctx context.Context, kind domain.JobKind, meta Meta, exec Executor) (string, error) {
	if exec == nil {
		return "", domain.NewSubSystemError("job", "Registry.Submit", domain.ErrInvalidInput, "nil executor")
	}

	id := ulid.Make().String()
	now := r.now()
	// The job outlives the request that submitted it.
	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	e := &entry{
		job: domain.Job{
			ID:          id,
			Kind:        kind,
			Status:      domain.JobPending,
			ProjectPath: meta.ProjectPath,
			Command:     meta.Command,
			Args:        meta.Args,
			SubmittedAt: now,
			UpdatedAt:   now,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	r.jobs[id] = e
	r.publishLocked(ctx, e.job)
	r.mu.Unlock()

	r.wg.Add(1)
	r.start(func() { r.execute(execCtx, e, exec) })

	r.logger.Info("job submitted", "job_id", id, "kind", string(kind))
	return id, nil
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, domain.NewSubSystemError("job", "Registry.Get", domain.ErrNotFound, id)
	}
	return e.job, nil
}

// List returns a snapshot of all jobs ordered by submission time.
func (r *Registry) List() []domain.Job {
	r.mu.Lock()
	out := make([]domain.Job, 0, len(r.jobs))
	for _, e := range r.jobs {
		out = append(out, e.job)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.Job) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Await blocks until the job is terminal or ctx is done.
func (r *Registry) Await(ctx context.Context, id string) (domain.Job, error) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return domain.Job{}, domain.NewSubSystemError("job", "Registry.Await", domain.ErrNotFound, id)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return e.job, nil
}

// Cancel moves a pending or running job to error with the cancellation
// message and terminates its process. Unknown and terminal jobs fail with
// NotFound and are left untouched. The state change does not wait for the
// process to exit.
func (r *Registry) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok || e.job.Status.IsTerminal() {
		r.mu.Unlock()
		return domain.NewSubSystemError("job", "Registry.Cancel", domain.ErrNotFound, id)
	}

	// Kill and state change form one critical section so a natural exit
	// cannot slip in between. The job context goes first so an executor
	// that has not launched yet cannot register a process after the kill.
	e.cancel()
	if r.canceller != nil {
		if err := r.canceller.Cancel(id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("cancel process failed", "job_id", id, "error", err)
		}
	}
	if e.job.Status == domain.JobPending {
		// Observers always see running before a terminal state.
		r.transitionLocked(ctx, e, domain.JobRunning)
	}
	r.finishLocked(ctx, e, "", errors.New(domain.CancelledByUser))
	snapshot := e.job
	r.mu.Unlock()

	r.archiveJob(ctx, snapshot)
	r.logger.Info("job cancelled", "job_id", id)
	return nil
}

// Reap deletes terminal jobs whose last update is older than the retention
// window. Pending and running jobs are never reaped.
func (r *Registry) Reap(_ context.Context) int {
	cutoff := r.now().Add(-r.config.Retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.jobs {
		if e.job.Status.IsTerminal() && e.job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("reaped jobs", "count", removed)
	}
	return removed
}

// Close waits for in-flight executions to return or ctx to expire.
func (r *Registry) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- internal ---

func (r *Registry) execute(ctx context.Context, e *entry, exec Executor) {
	defer r.wg.Done()
	defer e.cancel()

	id := e.job.ID
	ctx, span := tracer.StartSpan(ctx, "job.execute", trace.WithAttributes(
		tracer.StringAttr("job.id", id),
		tracer.StringAttr("job.kind", string(e.job.Kind)),
	))
	defer span.End()

	r.mu.Lock()
	if !r.transitionLocked(ctx, e, domain.JobRunning) {
		// Cancelled before it started.
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	result, err := exec(ctx, id)
	if err != nil {
		tracer.RecordError(span, err)
	} else {
		tracer.SetOK(span)
	}

	r.mu.Lock()
	if e.job.Status.IsTerminal() {
		// Cancel already recorded the outcome.
		r.mu.Unlock()
		return
	}
	r.finishLocked(ctx, e, result, err)
	snapshot := e.job
	r.mu.Unlock()

	r.archiveJob(ctx, snapshot)
	if err != nil {
		r.logger.Warn("job failed", "job_id", id, "error", err)
	} else {
		r.logger.Info("job completed", "job_id", id, "duration_ms", snapshot.DurationMs)
	}
}

func (r *Registry) finishLocked(ctx context.Context, e *entry, result string, err error) {
	status := domain.JobCompleted
	if err != nil {
		status = domain.JobError
	}
	if !e.job.Status.CanTransition(status) {
		return
	}
	now := r.now()
	if err != nil {
		e.job.Error = err.Error()
		e.job.Result = ""
	} else {
		e.job.Result = result
	}
	e.job.DurationMs = now.Sub(e.job.SubmittedAt).Milliseconds()
	r.transitionLocked(ctx, e, status)
	close(e.done)
}

// transitionLocked applies next if the state machine allows it and
// publishes the change.
func (r *Registry) transitionLocked(ctx context.Context, e *entry, next domain.JobStatus) bool {
	if !e.job.Status.CanTransition(next) {
		return false
	}
	e.job.Status = next
	e.job.UpdatedAt = r.now()
	r.publishLocked(ctx, e.job)
	return true
}

func (r *Registry) publishLocked(ctx context.Context, job domain.Job) {
	if r.bus == nil {
		return
	}
	evt, err := domain.NewEvent(domain.EventJobUpdated, job.ProjectPath, job)
	if err != nil {
		r.logger.Error("marshal job event", "job_id", job.ID, "error", err)
		return
	}
	r.bus.Publish(ctx, evt)
}

func (r *Registry) archiveJob(ctx context.Context, job domain.Job) {
	if r.archive == nil {
		return
	}
	if err := r.archive.Archive(context.WithoutCancel(ctx), job); err != nil {
		r.logger.Warn("archive job failed", "job_id", job.ID, "error", err)
	}
}
