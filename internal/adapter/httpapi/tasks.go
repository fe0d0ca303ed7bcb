package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"remotedev/internal/domain"
	"remotedev/internal/usecase/scheduling"
)

func (a *api) listTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Scheduler.Tasks())
}

// runTask runs a housekeeping task synchronously. A failing task still
// answers 200; its error is in lastError.
func (a *api) runTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := a.task(name); !ok {
		a.fail(w, r, notFound("task "+name))
		return
	}
	if err := a.deps.Scheduler.RunNow(r.Context(), name); errors.Is(err, domain.ErrResourceBusy) {
		a.fail(w, r, err)
		return
	}
	st, _ := a.task(name)
	writeJSON(w, http.StatusOK, st)
}

func (a *api) task(name string) (scheduling.TaskStatus, bool) {
	for _, t := range a.deps.Scheduler.Tasks() {
		if t.Name == name {
			return t, true
		}
	}
	return scheduling.TaskStatus{}, false
}
