package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"remotedev/internal/domain"
	"remotedev/internal/usecase/devserver"
)

type stopRequest struct {
	ProjectPath string `json:"projectPath"`
	ServerID    string `json:"serverId"`
}

type stopResponse struct {
	Message string             `json:"message"`
	Servers []domain.DevServer `json:"servers"`
}

type portCheckRequest struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

func (a *api) previewRoutes(r chi.Router) {
	r.Get("/detect", a.detectServers)
	r.Post("/start", a.startServer)
	r.Post("/stop", a.stopServer)
	r.Get("/servers", a.listServers)
	r.Get("/status", a.serverStatus)
	r.Get("/ports/available", a.availablePorts)
	r.Post("/ports/check", a.checkPort)
}

func (a *api) detectServers(w http.ResponseWriter, r *http.Request) {
	p, err := requireQuery(r, "projectPath")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	servers, err := a.deps.DevServers.Detect(r.Context(), p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (a *api) startServer(w http.ResponseWriter, r *http.Request) {
	var req devserver.StartRequest
	if err := a.decode(r, "devserver.start", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	server, err := a.deps.DevServers.Start(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, server)
}

func (a *api) stopServer(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := a.decode(r, "devserver.stop", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	stopped, err := a.deps.DevServers.Stop(r.Context(), req.ProjectPath, req.ServerID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stopResponse{Message: "Dev server stopped successfully", Servers: stopped})
}

func (a *api) listServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.DevServers.List(r.URL.Query().Get("projectPath")))
}

func (a *api) serverStatus(w http.ResponseWriter, r *http.Request) {
	p, err := requireQuery(r, "projectPath")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.deps.DevServers.Status(r.Context(), p))
}

func (a *api) availablePorts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.DevServers.AvailablePorts(r.Context()))
}

func (a *api) checkPort(w http.ResponseWriter, r *http.Request) {
	if a.deps.Ports == nil {
		a.fail(w, r, notFound("port checks are not available"))
		return
	}
	var req portCheckRequest
	if err := a.decode(r, "port.check", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.deps.Ports.Check(r.Context(), req.Port, req.Host))
}

func notFound(detail string) error {
	return domain.NewSubSystemError("http", "Route", domain.ErrNotFound, detail)
}
