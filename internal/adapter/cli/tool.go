// Package cli drives the editor's command-line tool and arbitrary project
// commands through the process runner.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"

	"remotedev/internal/domain"
	"remotedev/internal/infra/tracer"
	"remotedev/internal/usecase/job"
	"remotedev/internal/usecase/process"
)

// OpeningMessage is returned by Open once the editor has been launched.
const OpeningMessage = "Opening in Cursor..."

// Default circuit breaker settings.
const (
	defaultMaxFailures uint32        = 5
	defaultTimeout     time.Duration = 30 * time.Second
)

// Runner spawns processes.
type Runner interface {
	Run(ctx context.Context, key string, spec process.RunSpec) (*process.Handle, error)
}

// PromptRequest asks the CLI to run a prompt against a project.
type PromptRequest struct {
	ProjectPath  string   `json:"projectPath"`
	Prompt       string   `json:"prompt"`
	Context      string   `json:"context,omitempty"`
	Files        []string `json:"files,omitempty"`
	OpenInEditor bool     `json:"openInCursor,omitempty"`
}

// CommandRequest runs an arbitrary command for a project.
type CommandRequest struct {
	ProjectPath      string   `json:"projectPath"`
	Command          string   `json:"command"`
	Args             []string `json:"args,omitempty"`
	WorkingDirectory string   `json:"workingDirectory,omitempty"`
}

// OpenRequest opens a project, optionally at a file position.
type OpenRequest struct {
	ProjectPath string `json:"projectPath"`
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty"`
	Column      int    `json:"column,omitempty"`
}

// Config holds configuration for the Tool.
type Config struct {
	Path        string        // CLI executable, absolute or on PATH
	MaxFailures uint32        // consecutive launch failures before the breaker opens (default: 5)
	Timeout     time.Duration // open duration before a probe is allowed (default: 30s)
}

// Tool builds job executors for the CLI. Launches go through a circuit
// breaker so a broken installation fails fast instead of spawning
// repeatedly. Only launch failures count; a non-zero exit is the
// command's own result.
type Tool struct {
	path    string
	runner  Runner
	breaker *gobreaker.CircuitBreaker[*process.Handle]
	logger  *slog.Logger
}

// New creates a Tool.
func New(cfg Config, runner Runner, logger *slog.Logger) *Tool {
	logger = logger.With(slog.String("component", "cli"))
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	cb := gobreaker.NewCircuitBreaker[*process.Handle](gobreaker.Settings{
		Name:        "cli-launch",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			var launch *process.LaunchError
			return !errors.As(err, &launch)
		},
	})

	return &Tool{path: cfg.Path, runner: runner, breaker: cb, logger: logger}
}

// Path returns the configured CLI executable.
func (t *Tool) Path() string { return t.path }

// Available reports whether the CLI executable can be found.
func (t *Tool) Available() bool {
	if strings.ContainsRune(t.path, filepath.Separator) {
		info, err := os.Stat(t.path)
		return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
	}
	_, err := exec.LookPath(t.path)
	return err == nil
}

// Prompt validates req and returns the job metadata and executor that run
// the prompt through the CLI.
func (t *Tool) Prompt(req PromptRequest) (job.Meta, job.Executor, error) {
	const op = "Tool.Prompt"
	if strings.TrimSpace(req.Prompt) == "" {
		return job.Meta{}, nil, domain.NewSubSystemError("cli", op, domain.ErrInvalidInput, "prompt is required")
	}
	if err := requireDir(op, req.ProjectPath); err != nil {
		return job.Meta{}, nil, err
	}
	if !t.Available() {
		return job.Meta{}, nil, domain.NewSubSystemError("cli", op, domain.ErrCLIUnavailable, t.path)
	}

	args := []string{"--command", req.Prompt}
	if req.Context != "" {
		args = append(args, "--context", req.Context)
	}
	if len(req.Files) > 0 {
		args = append(args, "--files", strings.Join(req.Files, ","))
	}
	if req.OpenInEditor {
		args = append(args, "--open")
	}
	args = append(args, req.ProjectPath)

	spec := process.RunSpec{Command: t.path, Args: args, Dir: req.ProjectPath, Wait: true}
	meta := job.Meta{ProjectPath: req.ProjectPath, Command: t.path, Args: args}
	return meta, t.executor("cli.prompt", spec), nil
}

// Command validates req and returns the job metadata and executor for an
// arbitrary command. The command runs in WorkingDirectory, or the project
// root when that is empty.
func (t *Tool) Command(req CommandRequest) (job.Meta, job.Executor, error) {
	const op = "Tool.Command"
	if strings.TrimSpace(req.Command) == "" {
		return job.Meta{}, nil, domain.NewSubSystemError("cli", op, domain.ErrInvalidInput, "command is required")
	}
	if err := requireDir(op, req.ProjectPath); err != nil {
		return job.Meta{}, nil, err
	}
	dir := req.WorkingDirectory
	if dir == "" {
		dir = req.ProjectPath
	} else if err := requireDir(op, dir); err != nil {
		return job.Meta{}, nil, err
	}

	spec := process.RunSpec{Command: req.Command, Args: req.Args, Dir: dir, Wait: true}
	meta := job.Meta{ProjectPath: req.ProjectPath, Command: req.Command, Args: req.Args}
	return meta, t.executor("cli.command", spec), nil
}

// Open launches the editor without waiting for it.
func (t *Tool) Open(ctx context.Context, req OpenRequest) (string, error) {
	const op = "Tool.Open"
	if err := requireDir(op, req.ProjectPath); err != nil {
		return "", err
	}
	if !t.Available() {
		return "", domain.NewSubSystemError("cli", op, domain.ErrCLIUnavailable, t.path)
	}

	args := []string{req.ProjectPath}
	if req.File != "" {
		args = append(args, req.File)
		if req.Line > 0 {
			args = append(args, "--line", strconv.Itoa(req.Line))
		}
		if req.Column > 0 {
			args = append(args, "--column", strconv.Itoa(req.Column))
		}
	}

	spec := process.RunSpec{Command: t.path, Args: args, Dir: req.ProjectPath}
	h, err := t.launch(ctx, "open:"+ulid.Make().String(), spec)
	if err != nil {
		return "", domain.NewSubSystemError("cli", op, err, "failed to open in editor")
	}
	if _, err := h.Wait(ctx); err != nil {
		return "", err
	}
	return OpeningMessage, nil
}

func (t *Tool) executor(spanName string, spec process.RunSpec) job.Executor {
	return func(ctx context.Context, key string) (string, error) {
		ctx, span := tracer.StartSpan(ctx, spanName, trace.WithAttributes(
			tracer.StringAttr("process.key", key),
			tracer.StringAttr("process.command", spec.Command),
		))
		defer span.End()

		h, err := t.launch(ctx, key, spec)
		if err != nil {
			tracer.RecordError(span, err)
			return "", err
		}
		span.SetAttributes(tracer.IntAttr("process.pid", h.PID()))

		res, err := h.Wait(ctx)
		if err != nil {
			tracer.RecordError(span, err)
			return "", err
		}
		if res.Truncated {
			span.SetAttributes(tracer.BoolAttr("process.output_truncated", true))
			t.logger.Warn("job output truncated", "job_id", key)
		}
		tracer.SetOK(span)
		return res.Stdout, nil
	}
}

func (t *Tool) launch(ctx context.Context, key string, spec process.RunSpec) (*process.Handle, error) {
	h, err := t.breaker.Execute(func() (*process.Handle, error) {
		return t.runner.Run(ctx, key, spec)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("command launches suspended after repeated failures: %w", domain.ErrUnavailable)
	}
	return h, err
}

func requireDir(op, path string) error {
	if path == "" || !filepath.IsAbs(path) {
		return domain.NewSubSystemError("cli", op, domain.ErrInvalidInput, "projectPath must be an absolute path")
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return domain.NewSubSystemError("cli", op, domain.ErrInvalidInput, "project path does not exist: "+path)
	}
	return nil
}
