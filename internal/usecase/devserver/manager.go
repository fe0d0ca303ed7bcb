// Package devserver starts, detects and stops local development servers,
// one record per (project, port).
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"remotedev/internal/domain"
	"remotedev/internal/usecase/process"
)

// Default configuration values.
var (
	DefaultPorts        = []int{3000, 3001, 8080, 8000, 5000}
	DefaultPreviewPorts = []int{3000, 3001, 8080, 8000, 5000, 4000, 9000}
)

// DefaultReadyTimeout bounds how long Start waits for a readiness line.
const DefaultReadyTimeout = 30 * time.Second

// Runner spawns and cancels processes.
type Runner interface {
	Run(ctx context.Context, key string, spec process.RunSpec) (*process.Handle, error)
	Cancel(key string) error
}

// PortProber checks port availability.
type PortProber interface {
	IsPortInUse(ctx context.Context, port int, host string) bool
	FindAvailable(ctx context.Context, preferred []int) (int, error)
	Available(ctx context.Context, candidates []int) []int
}

// Config holds configuration for the Manager.
type Config struct {
	Ports         []int         // detection and auto-port candidates
	PreviewPorts  []int         // candidates reported as available ports
	ReadyTimeout  time.Duration // readiness wait (default: 30s)
	ReadyPatterns []string      // stdout fragments that mark readiness
}

// StartRequest asks for a dev server. Command, Port and Framework are
// optional and derived when empty.
type StartRequest struct {
	ProjectPath string `json:"projectPath"`
	Command     string `json:"command,omitempty"`
	Port        int    `json:"port,omitempty"`
	Framework   string `json:"framework,omitempty"`
}

// Status summarises a project's servers.
type Status struct {
	ProjectPath    string             `json:"projectPath"`
	Servers        []domain.DevServer `json:"servers"`
	TotalRunning   int                `json:"totalRunning"`
	AvailablePorts []int              `json:"availablePorts"`
}

type record struct {
	server domain.DevServer
	handle *process.Handle
	exited chan struct{} // closed once watchExit has settled the record
}

// Manager owns every Dev Server record.
type Manager struct {
	mu      sync.Mutex
	servers map[string]*record
	runner  Runner
	prober  PortProber
	bus     domain.EventBus
	config  Config
	logger  *slog.Logger
}

// NewManager creates a Manager.
func NewManager(cfg Config, runner Runner, prober PortProber, bus domain.EventBus, logger *slog.Logger) *Manager {
	if len(cfg.Ports) == 0 {
		cfg.Ports = DefaultPorts
	}
	if len(cfg.PreviewPorts) == 0 {
		cfg.PreviewPorts = DefaultPreviewPorts
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if len(cfg.ReadyPatterns) == 0 {
		cfg.ReadyPatterns = DefaultReadyPatterns
	}
	return &Manager{
		servers: make(map[string]*record),
		runner:  runner,
		prober:  prober,
		bus:     bus,
		config:  cfg,
		logger:  logger.With(slog.String("component", "devserver")),
	}
}

// Detect probes the candidate ports and records every occupied one as a
// passively detected running server. Passive records whose port has been
// released are dropped.
func (m *Manager) Detect(ctx context.Context, projectPath string) ([]domain.DevServer, error) {
	if err := validateProject("Manager.Detect", projectPath); err != nil {
		return nil, err
	}

	inUse := make(map[int]bool, len(m.config.Ports))
	for _, port := range m.config.Ports {
		inUse[port] = m.prober.IsPortInUse(ctx, port, "")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, rec := range m.servers {
		if rec.server.Detected && rec.server.ProjectPath == projectPath && !inUse[rec.server.Port] {
			delete(m.servers, key)
		}
	}

	var found []domain.DevServer
	for _, port := range m.config.Ports {
		if !inUse[port] {
			continue
		}
		key := domain.DevServerKey(projectPath, port)
		if rec, ok := m.servers[key]; ok && rec.server.Status.IsActive() {
			found = append(found, rec.server)
			continue
		}
		rec := &record{server: domain.DevServer{
			ID:          key,
			Name:        fmt.Sprintf("Dev Server (Port %d)", port),
			ProjectPath: projectPath,
			Port:        port,
			URL:         domain.LocalURL(port),
			Status:      domain.DevServerRunning,
			Detected:    true,
			LastStarted: time.Now(),
		}}
		m.servers[key] = rec
		found = append(found, rec.server)
	}
	return found, nil
}

// Start launches a dev server and waits until it looks ready: a readiness
// line on stdout or the readiness timeout, whichever comes first. The
// timeout path reports running even if the server never logged anything.
func (m *Manager) Start(ctx context.Context, req StartRequest) (domain.DevServer, error) {
	const op = "Manager.Start"
	if err := validateProject(op, req.ProjectPath); err != nil {
		return domain.DevServer{}, err
	}
	if req.Port < 0 || req.Port > 65535 {
		return domain.DevServer{}, domain.NewSubSystemError("devserver", op, domain.ErrInvalidInput, "port out of range")
	}

	// Fail fast on an explicit port before doing any work.
	if req.Port > 0 {
		if err := m.checkFree(op, domain.DevServerKey(req.ProjectPath, req.Port)); err != nil {
			return domain.DevServer{}, err
		}
	}

	framework := req.Framework
	if framework == "" {
		framework = DetectFramework(req.ProjectPath)
	}
	command := strings.TrimSpace(req.Command)
	if command == "" {
		command = DetectCommand(req.ProjectPath, framework)
	}
	parts := strings.Fields(command)

	port := req.Port
	if port == 0 {
		p, err := m.prober.FindAvailable(ctx, m.config.Ports)
		if err != nil {
			return domain.DevServer{}, domain.NewSubSystemError("devserver", op, domain.ErrUnavailable, err.Error())
		}
		port = p
	}
	key := domain.DevServerKey(req.ProjectPath, port)

	name := framework
	if name == "" {
		name = "Unknown"
	}
	rec := &record{server: domain.DevServer{
		ID:          key,
		Name:        fmt.Sprintf("Dev Server (%s)", name),
		ProjectPath: req.ProjectPath,
		Port:        port,
		URL:         domain.LocalURL(port),
		Status:      domain.DevServerStarting,
		Command:     command,
		Framework:   framework,
		LastStarted: time.Now(),
	}}

	m.mu.Lock()
	if cur, ok := m.servers[key]; ok && cur.server.Status.IsActive() {
		m.mu.Unlock()
		return domain.DevServer{}, domain.NewSubSystemError("devserver", op, domain.ErrDevServerRunning, key)
	}
	// A terminal record under the same key is replaced, never resurrected.
	m.servers[key] = rec
	m.mu.Unlock()

	scanner := newReadinessScanner(m.config.ReadyPatterns)
	h, err := m.runner.Run(ctx, processKey(key), process.RunSpec{
		Command: parts[0],
		Args:    parts[1:],
		Dir:     req.ProjectPath,
		Env:     []string{"PORT=" + strconv.Itoa(port)},
		Wait:    true,
		Stdout:  scanner,
	})
	if err != nil {
		m.mu.Lock()
		if m.servers[key] == rec && rec.server.Status == domain.DevServerStarting {
			rec.server.Status = domain.DevServerError
			rec.server.Error = err.Error()
		}
		snapshot := rec.server
		m.mu.Unlock()
		m.logger.Warn("dev server failed to launch", "key", key, "error", err)
		return snapshot, domain.NewSubSystemError("devserver", op, err, command)
	}

	m.mu.Lock()
	if m.servers[key] != rec || rec.server.Status != domain.DevServerStarting {
		// Stopped between registering the record and the spawn: the
		// process never becomes part of the record. Once h has exited the
		// key may belong to a newer start, so it is left alone.
		select {
		case <-h.Done():
		default:
			if cerr := m.runner.Cancel(processKey(key)); cerr != nil && !errors.Is(cerr, domain.ErrNotFound) {
				m.logger.Warn("cancel dev server process", "key", key, "error", cerr)
			}
		}
		snapshot := rec.server
		m.mu.Unlock()
		m.logger.Info("dev server stopped during launch", "key", key, "pid", h.PID())
		return snapshot, domain.NewSubSystemError("devserver", op, domain.ErrExecution, "dev server stopped while starting")
	}
	rec.handle = h
	rec.exited = make(chan struct{})
	rec.server.PID = h.PID()
	m.mu.Unlock()

	go m.watchExit(key, rec, h)

	result := make(chan startResult, 1)
	go m.awaitReady(key, rec, h, scanner, result)

	select {
	case res := <-result:
		return res.server, res.err
	case <-ctx.Done():
		// The readiness wait carries on without the caller.
		return domain.DevServer{}, ctx.Err()
	}
}

type startResult struct {
	server domain.DevServer
	err    error
}

func (m *Manager) awaitReady(key string, rec *record, h *process.Handle, scanner *readinessScanner, result chan<- startResult) {
	timer := time.NewTimer(m.config.ReadyTimeout)
	defer timer.Stop()

	via := "output"
	select {
	case <-scanner.Ready():
	case <-timer.C:
		via = "timeout"
	case <-h.Done():
		// watchExit records the failure; report it to the caller.
		<-rec.exited
		m.mu.Lock()
		snapshot := rec.server
		m.mu.Unlock()
		exitErr := h.Err()
		if exitErr == nil {
			exitErr = errors.New("dev server exited before becoming ready")
		}
		result <- startResult{server: snapshot, err: domain.NewSubSystemError("devserver", "Manager.Start", exitErr, key)}
		return
	}

	m.mu.Lock()
	if m.servers[key] != rec || rec.server.Status != domain.DevServerStarting {
		snapshot := rec.server
		m.mu.Unlock()
		result <- startResult{server: snapshot, err: domain.NewSubSystemError("devserver", "Manager.Start", domain.ErrExecution, "dev server stopped while starting")}
		return
	}
	rec.server.Status = domain.DevServerRunning
	snapshot := rec.server
	m.publishLocked(domain.EventDevServerStarted, snapshot)
	m.mu.Unlock()

	m.logger.Info("dev server running", "key", key, "pid", snapshot.PID, "ready_via", via)
	result <- startResult{server: snapshot}
}

// watchExit reacts to the process exiting on its own, or after Stop.
func (m *Manager) watchExit(key string, rec *record, h *process.Handle) {
	<-h.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(rec.exited)

	if rec.handle != h {
		return
	}
	rec.handle = nil
	rec.server.PID = 0

	switch rec.server.Status {
	case domain.DevServerStarting:
		rec.server.Status = domain.DevServerError
		if err := h.Err(); err != nil {
			rec.server.Error = err.Error()
		} else {
			rec.server.Error = "exited before becoming ready"
		}
		m.logger.Warn("dev server exited while starting", "key", key, "error", rec.server.Error)
	case domain.DevServerRunning:
		rec.server.Status = domain.DevServerStopped
		m.publishLocked(domain.EventDevServerStopped, rec.server)
		m.logger.Info("dev server exited", "key", key)
	}
}

// Stop stops one server when id is given, otherwise every active server of
// the project. Owned processes are terminated; passive records are only
// removed since their process belongs to someone else.
func (m *Manager) Stop(_ context.Context, projectPath, id string) ([]domain.DevServer, error) {
	const op = "Manager.Stop"

	m.mu.Lock()
	defer m.mu.Unlock()

	var targets []string
	if id != "" {
		rec, ok := m.servers[id]
		if !ok || (projectPath != "" && rec.server.ProjectPath != projectPath) {
			return nil, domain.NewSubSystemError("devserver", op, domain.ErrNotFound, id)
		}
		targets = []string{id}
	} else {
		if projectPath == "" {
			return nil, domain.NewSubSystemError("devserver", op, domain.ErrInvalidInput, "projectPath is required")
		}
		for key, rec := range m.servers {
			if rec.server.ProjectPath == projectPath && rec.server.Status.IsActive() {
				targets = append(targets, key)
			}
		}
		slices.Sort(targets)
	}

	stopped := make([]domain.DevServer, 0, len(targets))
	for _, key := range targets {
		rec := m.servers[key]
		if !rec.server.Status.IsActive() {
			stopped = append(stopped, rec.server)
			continue
		}
		if rec.handle != nil {
			if err := m.runner.Cancel(processKey(key)); err != nil && !errors.Is(err, domain.ErrNotFound) {
				m.logger.Warn("cancel dev server process", "key", key, "error", err)
			}
			rec.handle = nil
		}
		rec.server.Status = domain.DevServerStopped
		rec.server.PID = 0
		if rec.server.Detected {
			delete(m.servers, key)
		}
		m.publishLocked(domain.EventDevServerStopped, rec.server)
		stopped = append(stopped, rec.server)
		m.logger.Info("dev server stopped", "key", key)
	}
	return stopped, nil
}

// List returns the records of projectPath, or all records when it is empty.
func (m *Manager) List(projectPath string) []domain.DevServer {
	m.mu.Lock()
	out := make([]domain.DevServer, 0, len(m.servers))
	for _, rec := range m.servers {
		if projectPath == "" || rec.server.ProjectPath == projectPath {
			out = append(out, rec.server)
		}
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.DevServer) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Status reports a project's servers plus the preview ports still free.
func (m *Manager) Status(ctx context.Context, projectPath string) Status {
	servers := m.List(projectPath)
	running := 0
	for _, s := range servers {
		if s.Status == domain.DevServerRunning {
			running++
		}
	}
	return Status{
		ProjectPath:    projectPath,
		Servers:        servers,
		TotalRunning:   running,
		AvailablePorts: m.prober.Available(ctx, m.config.PreviewPorts),
	}
}

// AvailablePorts returns the preview candidates that are currently free.
func (m *Manager) AvailablePorts(ctx context.Context) []int {
	return m.prober.Available(ctx, m.config.PreviewPorts)
}

// StopAll terminates every owned server. Used on shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	projects := make(map[string]struct{})
	for _, rec := range m.servers {
		if rec.handle != nil {
			projects[rec.server.ProjectPath] = struct{}{}
		}
	}
	m.mu.Unlock()

	for p := range projects {
		if _, err := m.Stop(ctx, p, ""); err != nil {
			m.logger.Warn("stop dev servers", "project", p, "error", err)
		}
	}
}

// --- internal ---

func (m *Manager) checkFree(op, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.servers[key]; ok && cur.server.Status.IsActive() {
		return domain.NewSubSystemError("devserver", op, domain.ErrDevServerRunning, key)
	}
	return nil
}

func (m *Manager) publishLocked(typ domain.EventType, server domain.DevServer) {
	if m.bus == nil {
		return
	}
	evt, err := domain.NewEvent(typ, server.ProjectPath, server)
	if err != nil {
		m.logger.Error("marshal dev server event", "error", err)
		return
	}
	m.bus.Publish(context.Background(), evt)
}

func processKey(key string) string { return "devserver:" + key }

func validateProject(op, projectPath string) error {
	if projectPath == "" || !filepath.IsAbs(projectPath) {
		return domain.NewSubSystemError("devserver", op, domain.ErrInvalidInput, "projectPath must be an absolute path")
	}
	info, err := os.Stat(projectPath)
	if err != nil {
		return domain.NewSubSystemError("devserver", op, domain.ErrInvalidInput, "project path does not exist")
	}
	if !info.IsDir() {
		return domain.NewSubSystemError("devserver", op, domain.ErrInvalidInput, "project path is not a directory")
	}
	return nil
}
