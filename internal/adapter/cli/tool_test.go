package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotedev/internal/domain"
	"remotedev/internal/usecase/process"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

// fakeCLI writes an executable that echoes its arguments.
func fakeCLI(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cursor")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho \"$@\"\n"), 0o755))
	return path
}

func newRunner(t *testing.T) *process.Runner {
	t.Helper()
	r := process.NewRunner(process.RunnerConfig{KillGrace: 500 * time.Millisecond}, newTestLogger())
	t.Cleanup(func() { r.Shutdown(context.Background()) })
	return r
}

func TestPromptBuildsCLIArguments(t *testing.T) {
	skipWithoutShell(t)
	tool := New(Config{Path: fakeCLI(t)}, newRunner(t), newTestLogger())
	project := t.TempDir()

	meta, exec, err := tool.Prompt(PromptRequest{
		ProjectPath:  project,
		Prompt:       "add tests",
		Context:      "ctx",
		Files:        []string{"a.go", "b.go"},
		OpenInEditor: true,
	})
	require.NoError(t, err)
	assert.Equal(t, project, meta.ProjectPath)

	out, err := exec(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "--command add tests --context ctx --files a.go,b.go --open "+project, strings.TrimSpace(out))
}

func TestPromptValidation(t *testing.T) {
	project := t.TempDir()

	tool := New(Config{Path: filepath.Join(t.TempDir(), "missing-cli")}, newRunner(t), newTestLogger())
	_, _, err := tool.Prompt(PromptRequest{ProjectPath: project, Prompt: "x"})
	require.ErrorIs(t, err, domain.ErrCLIUnavailable)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.False(t, tool.Available())

	_, _, err = tool.Prompt(PromptRequest{ProjectPath: filepath.Join(project, "nope"), Prompt: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, _, err = tool.Prompt(PromptRequest{ProjectPath: project})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCommandRunsInWorkingDirectory(t *testing.T) {
	skipWithoutShell(t)
	tool := New(Config{Path: "cursor"}, newRunner(t), newTestLogger())
	project := t.TempDir()
	sub := filepath.Join(project, "web")
	require.NoError(t, os.Mkdir(sub, 0o755))

	_, exec, err := tool.Command(CommandRequest{ProjectPath: project, Command: "pwd", WorkingDirectory: sub})
	require.NoError(t, err)
	out, err := exec(context.Background(), "job-2")
	require.NoError(t, err)

	want, _ := filepath.EvalSymlinks(sub)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(out))
	assert.Equal(t, want, got)
}

func TestCommandFailureCarriesExitCode(t *testing.T) {
	skipWithoutShell(t)
	tool := New(Config{Path: "cursor"}, newRunner(t), newTestLogger())

	_, exec, err := tool.Command(CommandRequest{ProjectPath: t.TempDir(), Command: "sh", Args: []string{"-c", "echo bad >&2; exit 4"}})
	require.NoError(t, err)

	_, err = exec(context.Background(), "job-3")
	var exitErr *process.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 4, exitErr.Code)
	assert.Equal(t, "Command failed with code 4: bad", err.Error())
}

func TestOpenIsFireAndForget(t *testing.T) {
	skipWithoutShell(t)
	tool := New(Config{Path: fakeCLI(t)}, newRunner(t), newTestLogger())

	msg, err := tool.Open(context.Background(), OpenRequest{ProjectPath: t.TempDir(), File: "main.go", Line: 3, Column: 7})
	require.NoError(t, err)
	assert.Equal(t, OpeningMessage, msg)
}

// failingRunner always fails to launch.
type failingRunner struct{ calls int }

func (f *failingRunner) Run(context.Context, string, process.RunSpec) (*process.Handle, error) {
	f.calls++
	return nil, &process.LaunchError{Command: "ghost", Err: errors.New("exec: not found")}
}

func TestBreakerOpensAfterLaunchFailures(t *testing.T) {
	runner := &failingRunner{}
	tool := New(Config{Path: "cursor", MaxFailures: 2, Timeout: time.Minute}, runner, newTestLogger())

	_, exec, err := tool.Command(CommandRequest{ProjectPath: t.TempDir(), Command: "ghost"})
	require.NoError(t, err)

	for range 2 {
		_, err = exec(context.Background(), "k")
		assert.ErrorIs(t, err, domain.ErrExecution)
	}
	_, err = exec(context.Background(), "k")
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, 2, runner.calls, "open breaker must not reach the runner")
}
