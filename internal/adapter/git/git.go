// Package git drives the git binary for a project's working tree.
package git

import (
	"bytes"
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

	"remotedev/internal/domain"
)

// Default author recorded by Init.
const (
	DefaultAuthorName  = "Remote Dev"
	DefaultAuthorEmail = "remotedev@localhost"
)

// DefaultLogLimit bounds Log when no limit is given.
const DefaultLogLimit = 50

// Config holds configuration for the Service.
type Config struct {
	Binary      string // git executable (default: "git")
	AuthorName  string
	AuthorEmail string
}

// Service runs git commands inside project directories.
type Service struct {
	config Config
	bus    domain.EventBus
	logger *slog.Logger
}

// New creates a Service. bus may be nil.
func New(cfg Config, bus domain.EventBus, logger *slog.Logger) *Service {
	if cfg.Binary == "" {
		cfg.Binary = "git"
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = DefaultAuthorName
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = DefaultAuthorEmail
	}
	return &Service{config: cfg, bus: bus, logger: logger.With(slog.String("component", "git"))}
}

// LogQuery filters Log.
type LogQuery struct {
	Since  string
	Until  string
	Author string
	File   string
	Limit  int
}

// CommitRequest describes a commit. All stages every change; otherwise
// only Files are staged before committing.
type CommitRequest struct {
	Message string
	Files   []string
	All     bool
}

// Available reports whether the git binary can be found.
func (s *Service) Available() bool {
	_, err := exec.LookPath(s.config.Binary)
	return err == nil
}

// Status returns the working tree status.
func (s *Service) Status(ctx context.Context, projectPath string) ([]domain.GitFileStatus, error) {
	const op = "Git.Status"
	if err := requireRepo(op, projectPath); err != nil {
		return nil, err
	}
	out, err := s.run(ctx, projectPath, "status", "--porcelain=v1")
	if err != nil {
		return nil, failed(op, "Failed to get git status", err)
	}
	return parseStatus(out), nil
}

// Diff returns per-file diffs of the working tree, of one file, or of one
// commit when commit is set.
func (s *Service) Diff(ctx context.Context, projectPath, file, commit string) ([]domain.GitDiff, error) {
	const op = "Git.Diff"
	if err := requireRepo(op, projectPath); err != nil {
		return nil, err
	}
	args := []string{"diff"}
	switch {
	case commit != "":
		args = []string{"show", commit, "--pretty=format:"}
	case file != "":
		args = append(args, "--", file)
	}
	out, err := s.run(ctx, projectPath, args...)
	if err != nil {
		return nil, failed(op, "Failed to get git diff", err)
	}
	return parseDiff(out), nil
}

// Commit stages the requested files and records a commit.
func (s *Service) Commit(ctx context.Context, projectPath string, req CommitRequest) (domain.GitCommit, error) {
	const op = "Git.Commit"
	if err := requireRepo(op, projectPath); err != nil {
		return domain.GitCommit{}, err
	}
	if strings.TrimSpace(req.Message) == "" {
		return domain.GitCommit{}, domain.NewSubSystemError("git", op, domain.ErrInvalidInput, "message is required")
	}

	switch {
	case req.All:
		if _, err := s.run(ctx, projectPath, "add", "."); err != nil {
			return domain.GitCommit{}, failed(op, "Failed to commit", err)
		}
	case len(req.Files) > 0:
		if _, err := s.run(ctx, projectPath, append([]string{"add", "--"}, req.Files...)...); err != nil {
			return domain.GitCommit{}, failed(op, "Failed to commit", err)
		}
	}
	if _, err := s.run(ctx, projectPath, "commit", "-m", req.Message); err != nil {
		return domain.GitCommit{}, failed(op, "Failed to commit", err)
	}

	commits, err := s.Log(ctx, projectPath, LogQuery{Limit: 1})
	if err != nil || len(commits) == 0 {
		return domain.GitCommit{
			Message: req.Message,
			Author:  "Unknown",
			Date:    time.Now().UTC().Format(time.RFC3339),
		}, nil
	}
	s.publish(ctx, projectPath, "commit", commits[0].Hash)
	return commits[0], nil
}

// Log lists commits, newest first.
func (s *Service) Log(ctx context.Context, projectPath string, q LogQuery) ([]domain.GitCommit, error) {
	const op = "Git.Log"
	if err := requireRepo(op, projectPath); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLogLimit
	}
	args := []string{"log", "--max-count=" + strconv.Itoa(q.Limit), "--pretty=format:" + logFormat}
	if q.Since != "" {
		args = append(args, "--since="+q.Since)
	}
	if q.Until != "" {
		args = append(args, "--until="+q.Until)
	}
	if q.Author != "" {
		args = append(args, "--author="+q.Author)
	}
	if q.File != "" {
		args = append(args, "--", q.File)
	}
	out, err := s.run(ctx, projectPath, args...)
	if err != nil {
		return nil, failed(op, "Failed to get git log", err)
	}
	return parseLog(out), nil
}

// Branches lists local and remote-tracking branches.
func (s *Service) Branches(ctx context.Context, projectPath string) ([]string, error) {
	const op = "Git.Branches"
	if err := requireRepo(op, projectPath); err != nil {
		return nil, err
	}
	out, err := s.run(ctx, projectPath, "branch", "-a", "--format=%(refname:short)")
	if err != nil {
		return nil, failed(op, "Failed to get branches", err)
	}
	branches := []string{}
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// CurrentBranch returns the checked-out branch, including an unborn one.
func (s *Service) CurrentBranch(ctx context.Context, projectPath string) (string, error) {
	const op = "Git.CurrentBranch"
	if err := requireRepo(op, projectPath); err != nil {
		return "", err
	}
	out, err := s.run(ctx, projectPath, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		// Detached HEAD has no symbolic ref.
		out, err = s.run(ctx, projectPath, "rev-parse", "--short", "HEAD")
		if err != nil {
			return "", failed(op, "Failed to get current branch", err)
		}
	}
	return strings.TrimSpace(out), nil
}

// Checkout switches to an existing branch.
func (s *Service) Checkout(ctx context.Context, projectPath, branch string) error {
	return s.mutate(ctx, "Git.Checkout", projectPath, "checkout", branch, "Failed to checkout branch", "checkout", branch)
}

// CreateBranch creates branch and switches to it.
func (s *Service) CreateBranch(ctx context.Context, projectPath, branch string) error {
	return s.mutate(ctx, "Git.CreateBranch", projectPath, "branch", branch, "Failed to create branch", "checkout", "-b", branch)
}

// Pull fetches and merges from remote. remote defaults to origin.
func (s *Service) Pull(ctx context.Context, projectPath, remote, branch string) error {
	return s.mutate(ctx, "Git.Pull", projectPath, "pull", branch, "Failed to pull", remoteArgs("pull", remote, branch)...)
}

// Push sends commits to remote. remote defaults to origin.
func (s *Service) Push(ctx context.Context, projectPath, remote, branch string) error {
	return s.mutate(ctx, "Git.Push", projectPath, "push", branch, "Failed to push", remoteArgs("push", remote, branch)...)
}

// Init creates a repository and records the configured author locally.
func (s *Service) Init(ctx context.Context, projectPath string) error {
	const op = "Git.Init"
	if err := requireDir(op, projectPath); err != nil {
		return err
	}
	steps := [][]string{
		{"init"},
		{"config", "user.name", s.config.AuthorName},
		{"config", "user.email", s.config.AuthorEmail},
	}
	for _, args := range steps {
		if _, err := s.run(ctx, projectPath, args...); err != nil {
			return failed(op, "Failed to initialize git repository", err)
		}
	}
	s.logger.Info("repository initialised", "project", projectPath)
	s.publish(ctx, projectPath, "init", "")
	return nil
}

// --- internal ---

const logFormat = "%H%x1f%s%x1f%an%x1f%aI%x1f%ae%x1e"

func (s *Service) mutate(ctx context.Context, op, projectPath, action, ref, msg string, args ...string) error {
	if err := requireRepo(op, projectPath); err != nil {
		return err
	}
	if action != "pull" && action != "push" && strings.TrimSpace(ref) == "" {
		return domain.NewSubSystemError("git", op, domain.ErrInvalidInput, "branch is required")
	}
	if _, err := s.run(ctx, projectPath, args...); err != nil {
		return failed(op, msg, err)
	}
	s.publish(ctx, projectPath, action, ref)
	return nil
}

func remoteArgs(verb, remote, branch string) []string {
	if branch == "" {
		return []string{verb}
	}
	if remote == "" {
		remote = "origin"
	}
	return []string{verb, remote, branch}
}

func (s *Service) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, s.config.Binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	s.logger.Debug("git command", "args", args, "dir", dir, "duration", time.Since(start), "error", err)
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", errors.New(msg)
	}
	return stdout.String(), nil
}

type updatePayload struct {
	ProjectPath string    `json:"projectPath"`
	Action      string    `json:"action"`
	Ref         string    `json:"ref,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (s *Service) publish(ctx context.Context, projectPath, action, ref string) {
	if s.bus == nil {
		return
	}
	evt, err := domain.NewEvent(domain.EventGitUpdated, projectPath, updatePayload{
		ProjectPath: projectPath,
		Action:      action,
		Ref:         ref,
		Timestamp:   time.Now(),
	})
	if err != nil {
		s.logger.Error("marshal git event", "error", err)
		return
	}
	s.bus.Publish(ctx, evt)
}

func requireDir(op, projectPath string) error {
	if projectPath == "" || !filepath.IsAbs(projectPath) {
		return domain.NewSubSystemError("git", op, domain.ErrInvalidInput, "projectPath must be an absolute path")
	}
	info, err := os.Stat(projectPath)
	if err != nil || !info.IsDir() {
		return domain.NewSubSystemError("git", op, domain.ErrInvalidInput, "project directory does not exist: "+projectPath)
	}
	return nil
}

func requireRepo(op, projectPath string) error {
	if err := requireDir(op, projectPath); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(projectPath, ".git")); err != nil {
		return domain.NewSubSystemError("git", op, domain.ErrNotGitRepository, projectPath)
	}
	return nil
}

func failed(op, msg string, err error) error {
	return domain.NewSubSystemError("git", op, domain.ErrExecution, fmt.Sprintf("%s: %s", msg, err))
}
