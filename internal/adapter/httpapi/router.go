// Package httpapi exposes the server's REST surface.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"remotedev/internal/infra/middleware"
)

// DefaultMaxBody bounds request bodies. File writes dominate.
const DefaultMaxBody int64 = 16 << 20

// Options configures the router's middleware chain.
type Options struct {
	APIKey         string
	CORSOrigins    []string
	RateLimitRPM   int
	RateLimitBurst int
	MaxBody        int64
	Version        string
}

type api struct {
	deps    Deps
	schemas schemas
	maxBody int64
	version string
	started time.Time
	logger  *slog.Logger
}

// NewRouter builds the HTTP handler. ctx bounds background work owned by
// the middleware.
func NewRouter(ctx context.Context, deps Deps, opts Options, logger *slog.Logger) (http.Handler, error) {
	compiled, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = DefaultMaxBody
	}
	a := &api{
		deps:    deps,
		schemas: compiled,
		maxBody: opts.MaxBody,
		version: opts.Version,
		started: time.Now(),
		logger:  logger.With(slog.String("component", "httpapi")),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(a.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(opts.CORSOrigins))
	r.Use(middleware.RateLimit(ctx, opts.RateLimitRPM, opts.RateLimitBurst))
	r.Use(middleware.APIKey(opts.APIKey, "/health"))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.fail(w, r, notFound("route "+r.Method+" "+r.URL.Path))
	})

	r.Get("/health", a.health)
	if deps.WebSocket != nil {
		r.Handle("/ws", deps.WebSocket)
	}
	if deps.Jobs != nil && deps.CLI != nil {
		r.Route("/cursor", a.cursorRoutes)
	}
	if deps.DevServers != nil {
		r.Route("/preview", a.previewRoutes)
	}
	if deps.Files != nil {
		r.Route("/files", a.fileRoutes)
	}
	if deps.Git != nil {
		r.Route("/git", a.gitRoutes)
	}
	if deps.Projects != nil {
		r.Route("/projects", a.projectRoutes)
	}
	if deps.Scheduler != nil {
		r.Get("/tasks", a.listTasks)
		r.Post("/tasks/{name}/run", a.runTask)
	}
	return r, nil
}

type healthBody struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthBody{
		Status:    "ok",
		Version:   a.version,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(a.started).Round(time.Second).String(),
	})
}
