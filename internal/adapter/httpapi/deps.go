package httpapi

import (
	"context"
	"net/http"

	"remotedev/internal/adapter/cli"
	"remotedev/internal/adapter/git"
	"remotedev/internal/domain"
	"remotedev/internal/usecase/devserver"
	"remotedev/internal/usecase/job"
	"remotedev/internal/usecase/portprobe"
	"remotedev/internal/usecase/process"
	"remotedev/internal/usecase/scheduling"
)

// Jobs is the job registry.
type Jobs interface {
	Submit(ctx context.Context, kind domain.JobKind, meta job.Meta, exec job.Executor) (string, error)
	Get(id string) (domain.Job, error)
	List() []domain.Job
	Cancel(ctx context.Context, id string) error
}

// CLI builds jobs for the editor tool.
type CLI interface {
	Prompt(req cli.PromptRequest) (job.Meta, job.Executor, error)
	Command(req cli.CommandRequest) (job.Meta, job.Executor, error)
	Open(ctx context.Context, req cli.OpenRequest) (string, error)
}

// Processes lists live processes.
type Processes interface {
	Active() []process.ProcessInfo
}

// History reads archived jobs.
type History interface {
	Recent(ctx context.Context, limit int) ([]domain.Job, error)
}

// DevServers manages development servers.
type DevServers interface {
	Detect(ctx context.Context, projectPath string) ([]domain.DevServer, error)
	Start(ctx context.Context, req devserver.StartRequest) (domain.DevServer, error)
	Stop(ctx context.Context, projectPath, id string) ([]domain.DevServer, error)
	List(projectPath string) []domain.DevServer
	Status(ctx context.Context, projectPath string) devserver.Status
	AvailablePorts(ctx context.Context) []int
}

// Ports checks individual ports.
type Ports interface {
	Check(ctx context.Context, port int, host string) portprobe.PortStatus
}

// Files reads and writes project files.
type Files interface {
	List(projectPath, dir string) ([]domain.FileInfo, error)
	Read(projectPath, file string) (domain.FileInfo, error)
	Write(projectPath, file, content string) (domain.FileInfo, error)
	Delete(projectPath, file string) error
	Mkdir(projectPath, dir string) (domain.FileInfo, error)
}

// Git drives a project's repository.
type Git interface {
	Status(ctx context.Context, projectPath string) ([]domain.GitFileStatus, error)
	Diff(ctx context.Context, projectPath, file, commit string) ([]domain.GitDiff, error)
	Commit(ctx context.Context, projectPath string, req git.CommitRequest) (domain.GitCommit, error)
	Log(ctx context.Context, projectPath string, q git.LogQuery) ([]domain.GitCommit, error)
	Branches(ctx context.Context, projectPath string) ([]string, error)
	CurrentBranch(ctx context.Context, projectPath string) (string, error)
	Checkout(ctx context.Context, projectPath, branch string) error
	CreateBranch(ctx context.Context, projectPath, branch string) error
	Pull(ctx context.Context, projectPath, remote, branch string) error
	Push(ctx context.Context, projectPath, remote, branch string) error
	Init(ctx context.Context, projectPath string) error
}

// Projects is the workspace catalogue.
type Projects interface {
	List() []domain.Project
	Get(path string) (domain.Project, error)
	Refresh(ctx context.Context, path string) (domain.Project, error)
	RefreshAll(ctx context.Context) ([]domain.Project, error)
}

// Watcher controls filesystem watches.
type Watcher interface {
	Watch(projectPath string) error
	Unwatch(projectPath string) error
	Watched() []string
}

// Scheduler runs housekeeping tasks.
type Scheduler interface {
	Tasks() []scheduling.TaskStatus
	RunNow(ctx context.Context, name string) error
}

// Deps are the services behind the routes. A nil service leaves its
// routes unmounted.
type Deps struct {
	Jobs       Jobs
	CLI        CLI
	Processes  Processes
	History    History
	DevServers DevServers
	Ports      Ports
	Files      Files
	Git        Git
	Projects   Projects
	Watcher    Watcher
	Scheduler  Scheduler
	WebSocket  http.Handler
}
