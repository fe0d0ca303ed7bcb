package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type writeFileRequest struct {
	ProjectPath string `json:"projectPath"`
	FilePath    string `json:"filePath"`
	Content     string `json:"content"`
}

type mkdirRequest struct {
	ProjectPath string `json:"projectPath"`
	DirPath     string `json:"dirPath"`
}

func (a *api) fileRoutes(r chi.Router) {
	r.Get("/", a.listFiles)
	r.Delete("/", a.deleteFile)
	r.Get("/content", a.readFile)
	r.Put("/content", a.writeFile)
	r.Post("/directory", a.mkdir)
}

func (a *api) listFiles(w http.ResponseWriter, r *http.Request) {
	p, err := requireQuery(r, "projectPath")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	list, err := a.deps.Files.List(p, r.URL.Query().Get("directoryPath"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) readFile(w http.ResponseWriter, r *http.Request) {
	p, err := requireQuery(r, "projectPath")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	f, err := requireQuery(r, "filePath")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	info, err := a.deps.Files.Read(p, f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *api) writeFile(w http.ResponseWriter, r *http.Request) {
	var req writeFileRequest
	if err := a.decode(r, "file.write", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	info, err := a.deps.Files.Write(req.ProjectPath, req.FilePath, req.Content)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *api) deleteFile(w http.ResponseWriter, r *http.Request) {
	p, err := requireQuery(r, "projectPath")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	f, err := requireQuery(r, "filePath")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.deps.Files.Delete(p, f); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "File deleted successfully"})
}

func (a *api) mkdir(w http.ResponseWriter, r *http.Request) {
	var req mkdirRequest
	if err := a.decode(r, "file.mkdir", &req); err != nil {
		a.fail(w, r, err)
		return
	}
	info, err := a.deps.Files.Mkdir(req.ProjectPath, req.DirPath)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}
