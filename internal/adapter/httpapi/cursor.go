package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"remotedev/internal/adapter/cli"
	"remotedev/internal/domain"
	"remotedev/internal/usecase/job"
	"remotedev/internal/usecase/process"
)

type submitted struct {
	JobID  string           `json:"jobId"`
	Status domain.JobStatus `json:"status"`
}

func (a *api) cursorRoutes(r chi.Router) {
	r.Post("/prompt", a.submitPrompt)
	r.Post("/command", a.submitCommand)
	r.Post("/open", a.open)
	r.Get("/response/{id}", a.getJob)
	r.Get("/responses", a.listJobs)
	r.Get("/processes", a.processes)
	r.Post("/cancel/{id}", a.cancelJob)
	r.Get("/history", a.history)
}

func (a *api) submitPrompt(w http.ResponseWriter, r *http.Request) {
	var req cli.PromptRequest
	if err := a.decode(r, "prompt", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	meta, exec, err := a.deps.CLI.Prompt(req)
	a.submit(w, r, domain.JobKindPrompt, meta, exec, err)
}

func (a *api) submitCommand(w http.ResponseWriter, r *http.Request) {
	var req cli.CommandRequest
	if err := a.decode(r, "command", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	meta, exec, err := a.deps.CLI.Command(req)
	a.submit(w, r, domain.JobKindCommand, meta, exec, err)
}

func (a *api) submit(w http.ResponseWriter, r *http.Request, kind domain.JobKind, meta job.Meta, exec job.Executor, err error) {
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := a.deps.Jobs.Submit(r.Context(), kind, meta, exec)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitted{JobID: id, Status: domain.JobPending})
}

func (a *api) open(w http.ResponseWriter, r *http.Request) {
	var req cli.OpenRequest
	if err := a.decode(r, "open", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	msg, err := a.deps.CLI.Open(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: msg})
}

func (a *api) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := a.deps.Jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *api) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Jobs.List())
}

func (a *api) processes(w http.ResponseWriter, _ *http.Request) {
	if a.deps.Processes == nil {
		writeJSON(w, http.StatusOK, []process.ProcessInfo{})
		return
	}
	writeJSON(w, http.StatusOK, a.deps.Processes.Active())
}

func (a *api) cancelJob(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Jobs.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Process cancelled"})
}

func (a *api) history(w http.ResponseWriter, r *http.Request) {
	if a.deps.History == nil {
		a.fail(w, r, notFound("job history is disabled"))
		return
	}
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jobs, err := a.deps.History.Recent(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}
