// Package process spawns and supervises OS processes on behalf of remote
// callers. Every live process is registered under a caller-supplied key so
// that it can be cancelled later.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"remotedev/internal/domain"
)

// StartedMessage is the acknowledgement returned for fire-and-forget runs.
const StartedMessage = "Process started"

// ErrCancelled is returned by Handle.Wait when the process was cancelled.
var ErrCancelled = fmt.Errorf("process cancelled: %w", domain.ErrExecution)

// RunnerConfig holds configuration for the Runner.
type RunnerConfig struct {
	OutputBufferMax int           // max bytes retained per output stream (default: 1MB)
	KillGrace       time.Duration // time between SIGTERM and SIGKILL (default: 5s)
}

// RunSpec describes one process invocation.
type RunSpec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string  // appended to the server's environment
	Wait    bool      // false means fire-and-forget
	Stdout  io.Writer // optional tee of standard output
}

// Result is the outcome of a process that exited with code zero.
type Result struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr,omitempty"`
	ExitCode  int    `json:"exitCode"`
	Truncated bool   `json:"truncated,omitempty"` // older output was dropped
}

// ExitError reports a process that ran and exited with a non-zero code.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("Command failed with code %d: %s", e.Code, strings.TrimSpace(e.Stderr))
}

func (e *ExitError) Unwrap() error { return domain.ErrExecution }

// LaunchError reports a process that could not be started at all.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("Command execution failed: %s", e.Err)
}

func (e *LaunchError) Unwrap() []error { return []error{domain.ErrExecution, e.Err} }

// ProcessInfo is a summary of a registered live process.
type ProcessInfo struct {
	Key       string    `json:"key"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	Args      []string  `json:"args,omitempty"`
	Dir       string    `json:"workingDirectory,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// Handle is a spawned process. Done closes once the process has exited and
// its registration is gone.
type Handle struct {
	info      ProcessInfo
	wait      bool
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	stdout    *ringBuffer
	stderr    *ringBuffer
	done      chan struct{}
	cancelled atomic.Bool

	result Result
	err    error
}

// Key returns the registration key.
func (h *Handle) Key() string { return h.info.Key }

// PID returns the OS process id.
func (h *Handle) PID() int { return h.info.PID }

// Done is closed when the process exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Stdout returns the standard output captured so far.
func (h *Handle) Stdout() string { return h.stdout.String() }

// Err returns the exit error once Done is closed, nil before that.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait resolves the handle. For fire-and-forget runs it returns the
// started acknowledgement immediately. Otherwise it blocks until the
// process exits or ctx is done; ctx expiry does not stop the process.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	if !h.wait {
		return Result{Stdout: StartedMessage}, nil
	}
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Runner spawns processes and tracks the live ones by key.
type Runner struct {
	mu      sync.Mutex
	entries map[string]*Handle
	config  RunnerConfig
	logger  *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.OutputBufferMax <= 0 {
		cfg.OutputBufferMax = 1024 * 1024
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	return &Runner{
		entries: make(map[string]*Handle),
		config:  cfg,
		logger:  logger.With(slog.String("component", "process")),
	}
}

// Run spawns spec.Command and registers it under key. A launch failure is
// returned as *LaunchError and nothing is registered.
func (r *Runner) Run(ctx context.Context, key string, spec RunSpec) (*Handle, error) {
	if key == "" {
		return nil, domain.NewSubSystemError("process", "Runner.Run", domain.ErrInvalidInput, "empty key")
	}
	if spec.Command == "" {
		return nil, domain.NewSubSystemError("process", "Runner.Run", domain.ErrInvalidInput, "empty command")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// Checked under the lock: a Cancel for key that already ran has also
	// cancelled ctx, so nothing can register after it.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := r.entries[key]; ok {
		return nil, domain.NewSubSystemError("process", "Runner.Run", domain.ErrResourceBusy, key)
	}

	// Detached context so the process outlives the request that started it.
	cmdCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(cmdCtx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Cancel = func() error { return terminate(cmd.Process) }
	cmd.WaitDelay = r.config.KillGrace

	stdoutBuf := newRingBuffer(r.config.OutputBufferMax)
	stderrBuf := newRingBuffer(r.config.OutputBufferMax)
	if spec.Stdout != nil {
		cmd.Stdout = io.MultiWriter(stdoutBuf, spec.Stdout)
	} else {
		cmd.Stdout = stdoutBuf
	}
	cmd.Stderr = stderrBuf

	if err := cmd.Start(); err != nil {
		cancel()
		r.logger.Warn("process launch failed", "key", key, "command", spec.Command, "error", err)
		return nil, &LaunchError{Command: spec.Command, Err: err}
	}

	h := &Handle{
		info: ProcessInfo{
			Key:       key,
			PID:       cmd.Process.Pid,
			Command:   spec.Command,
			Args:      spec.Args,
			Dir:       spec.Dir,
			StartedAt: time.Now(),
		},
		wait:   spec.Wait,
		cmd:    cmd,
		cancel: cancel,
		stdout: stdoutBuf,
		stderr: stderrBuf,
		done:   make(chan struct{}),
	}
	r.entries[key] = h

	go r.waitForCompletion(h)

	r.logger.Info("process started", "key", key, "pid", h.info.PID, "command", spec.Command)
	return h, nil
}

// Cancel sends a termination signal to the process registered under key
// and removes the registration. It does not wait for the process to exit.
func (r *Runner) Cancel(key string) error {
	r.mu.Lock()
	h, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
		// Mark before signalling so waitForCompletion reports ErrCancelled.
		h.cancelled.Store(true)
	}
	r.mu.Unlock()

	if !ok {
		return domain.NewSubSystemError("process", "Runner.Cancel", domain.ErrProcessNotFound, key)
	}
	h.cancel()
	r.logger.Info("process cancelled", "key", key, "pid", h.info.PID)
	return nil
}

// Active returns the live registrations ordered by start time.
func (r *Runner) Active() []ProcessInfo {
	r.mu.Lock()
	out := make([]ProcessInfo, 0, len(r.entries))
	for _, h := range r.entries {
		out = append(out, h.info)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b ProcessInfo) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// IsActive reports whether key has a live registration.
func (r *Runner) IsActive(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// Shutdown cancels every live process and waits for them to exit or for
// ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.entries))
	for key, h := range r.entries {
		h.cancelled.Store(true)
		delete(r.entries, key)
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			r.logger.Warn("shutdown timed out waiting for process", "key", h.info.Key, "pid", h.info.PID)
			return
		}
	}
}

// --- internal ---

func (r *Runner) waitForCompletion(h *Handle) {
	err := h.cmd.Wait()
	h.cancel()

	h.result = Result{
		Stdout:    h.stdout.String(),
		Stderr:    h.stderr.String(),
		Truncated: h.stdout.Truncated() || h.stderr.Truncated(),
	}
	var exitErr *exec.ExitError
	switch {
	case h.cancelled.Load():
		h.result.ExitCode = -1
		h.err = ErrCancelled
	case err == nil:
	case errors.As(err, &exitErr):
		h.result.ExitCode = exitErr.ExitCode()
		h.err = &ExitError{Code: exitErr.ExitCode(), Stderr: h.result.Stderr}
	default:
		h.result.ExitCode = -1
		h.err = &LaunchError{Command: h.info.Command, Err: err}
	}

	r.mu.Lock()
	if cur, ok := r.entries[h.info.Key]; ok && cur == h {
		delete(r.entries, h.info.Key)
	}
	r.mu.Unlock()
	close(h.done)

	r.logger.Info("process finished", "key", h.info.Key, "pid", h.info.PID, "exit_code", h.result.ExitCode)
}

// terminate asks p to exit. Windows has no SIGTERM, so it kills outright.
func terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	if runtime.GOOS == "windows" {
		return p.Kill()
	}
	if err := p.Signal(syscall.SIGTERM); err != nil {
		return p.Kill()
	}
	return nil
}
