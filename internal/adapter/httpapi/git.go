package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"remotedev/internal/adapter/git"
)

type commitRequest struct {
	ProjectPath string   `json:"projectPath"`
	Message     string   `json:"message"`
	Files       []string `json:"files"`
	All         bool     `json:"all"`
}

type branchRequest struct {
	ProjectPath string `json:"projectPath"`
	Branch      string `json:"branch"`
}

type remoteRequest struct {
	ProjectPath string `json:"projectPath"`
	Remote      string `json:"remote"`
	Branch      string `json:"branch"`
}

type projectRequest struct {
	ProjectPath string `json:"projectPath"`
}

func (a *api) gitRoutes(r chi.Router) {
	r.Get("/status", a.gitStatus)
	r.Get("/diff", a.gitDiff)
	r.Get("/log", a.gitLog)
	r.Get("/branches", a.gitBranches)
	r.Get("/current-branch", a.gitCurrentBranch)
	r.Post("/commit", a.gitCommit)
	r.Post("/checkout", a.gitCheckout)
	r.Post("/branch", a.gitCreateBranch)
	r.Post("/pull", a.gitPull)
	r.Post("/push", a.gitPush)
	r.Post("/init", a.gitInit)
}

// projectQuery reads the required projectPath query parameter and writes
// the error response when it is missing.
func (a *api) projectQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, err := requireQuery(r, "projectPath")
	if err != nil {
		a.fail(w, r, err)
		return "", false
	}
	return p, true
}

func (a *api) gitStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := a.projectQuery(w, r)
	if !ok {
		return
	}
	status, err := a.deps.Git.Status(r.Context(), p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *api) gitDiff(w http.ResponseWriter, r *http.Request) {
	p, ok := a.projectQuery(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	diffs, err := a.deps.Git.Diff(r.Context(), p, q.Get("file"), q.Get("commit"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diffs)
}

func (a *api) gitLog(w http.ResponseWriter, r *http.Request) {
	p, ok := a.projectQuery(w, r)
	if !ok {
		return
	}
	limit, err := intQuery(r, "limit", git.DefaultLogLimit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	commits, err := a.deps.Git.Log(r.Context(), p, git.LogQuery{
		Since:  q.Get("since"),
		Until:  q.Get("until"),
		Author: q.Get("author"),
		File:   q.Get("file"),
		Limit:  limit,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commits)
}

func (a *api) gitBranches(w http.ResponseWriter, r *http.Request) {
	p, ok := a.projectQuery(w, r)
	if !ok {
		return
	}
	branches, err := a.deps.Git.Branches(r.Context(), p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, branches)
}

func (a *api) gitCurrentBranch(w http.ResponseWriter, r *http.Request) {
	p, ok := a.projectQuery(w, r)
	if !ok {
		return
	}
	branch, err := a.deps.Git.CurrentBranch(r.Context(), p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"branch": branch})
}

func (a *api) gitCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := a.decode(r, "git.commit", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	c, err := a.deps.Git.Commit(r.Context(), req.ProjectPath, git.CommitRequest{
		Message: req.Message,
		Files:   req.Files,
		All:     req.All,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *api) gitCheckout(w http.ResponseWriter, r *http.Request) {
	var req branchRequest
	if err := a.decode(r, "git.branch", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.deps.Git.Checkout(r.Context(), req.ProjectPath, req.Branch); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Switched to branch: " + req.Branch})
}

func (a *api) gitCreateBranch(w http.ResponseWriter, r *http.Request) {
	var req branchRequest
	if err := a.decode(r, "git.branch", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.deps.Git.CreateBranch(r.Context(), req.ProjectPath, req.Branch); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Created and switched to branch: " + req.Branch})
}

func (a *api) gitPull(w http.ResponseWriter, r *http.Request) {
	var req remoteRequest
	if err := a.decode(r, "git.remote", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.deps.Git.Pull(r.Context(), req.ProjectPath, req.Remote, req.Branch); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Pull completed successfully"})
}

func (a *api) gitPush(w http.ResponseWriter, r *http.Request) {
	var req remoteRequest
	if err := a.decode(r, "git.remote", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.deps.Git.Push(r.Context(), req.ProjectPath, req.Remote, req.Branch); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Push completed successfully"})
}

func (a *api) gitInit(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := a.decode(r, "project", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.deps.Git.Init(r.Context(), req.ProjectPath); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Git repository initialized successfully"})
}
