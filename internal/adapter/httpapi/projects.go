package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type watchResponse struct {
	ProjectPath string `json:"projectPath"`
	Watching    bool   `json:"watching"`
}

func (a *api) projectRoutes(r chi.Router) {
	r.Get("/", a.listProjects)
	r.Post("/scan", a.scanProjects)
	r.Get("/detail", a.getProject)
	r.Post("/refresh", a.refreshProject)
	if a.deps.Watcher != nil {
		r.Post("/watch", a.watchProject)
		r.Post("/unwatch", a.unwatchProject)
		r.Get("/watched", a.watchedProjects)
	}
}

func (a *api) listProjects(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Projects.List())
}

func (a *api) scanProjects(w http.ResponseWriter, r *http.Request) {
	list, err := a.deps.Projects.RefreshAll(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := requireQuery(r, "path")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	project, err := a.deps.Projects.Get(p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (a *api) refreshProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := a.decode(r, "project", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	project, err := a.deps.Projects.Refresh(r.Context(), req.ProjectPath)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (a *api) watchProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := a.decode(r, "project", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.deps.Watcher.Watch(req.ProjectPath); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, watchResponse{ProjectPath: req.ProjectPath, Watching: true})
}

func (a *api) unwatchProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := a.decode(r, "project", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.deps.Watcher.Unwatch(req.ProjectPath); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, watchResponse{ProjectPath: req.ProjectPath})
}

func (a *api) watchedProjects(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Watcher.Watched())
}
